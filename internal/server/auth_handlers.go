package server

import (
	"strings"

	"noticeboard/internal/models"
	"noticeboard/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SignUpPage renders the registration form, prefilled from a staged draft.
func (s *Server) SignUpPage(c *fiber.Ctx) error {
	form := service.SignUpDraft{}
	if draft, err := s.accountService.GetSignUpData(c.UserContext()); err == nil {
		form.Name, form.Email = draft.Name, draft.Email
	}
	return s.render(c, fiber.StatusOK, "sign_up.html", s.newPage(c, "新規登録", form))
}

// SaveSignUp stages a registration and moves on to confirmation.
func (s *Server) SaveSignUp(c *fiber.Ctx) error {
	draft := service.SignUpDraft{
		Email:    strings.TrimSpace(c.FormValue("email")),
		Password: c.FormValue("password"),
		Name:     strings.TrimSpace(c.FormValue("name")),
	}
	if err := s.accountService.SaveSignUp(c.UserContext(), draft); err != nil {
		return redirectError(c, "/sign-up", err)
	}
	return c.Redirect("/sign-up/confirm", fiber.StatusSeeOther)
}

// SignUpConfirmPage shows the staged registration for confirmation.
func (s *Server) SignUpConfirmPage(c *fiber.Ctx) error {
	draft, err := s.accountService.GetSignUpData(c.UserContext())
	if err != nil {
		return c.Redirect("/sign-up", fiber.StatusSeeOther)
	}
	return s.render(c, fiber.StatusOK, "sign_up_confirm.html", s.newPage(c, "登録内容の確認", draft))
}

// SignUp registers the staged account.
func (s *Server) SignUp(c *fiber.Ctx) error {
	if _, err := s.accountService.SignUp(c.UserContext()); err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return c.Redirect("/sign-up", fiber.StatusSeeOther)
		}
		return redirectError(c, "/sign-up", err)
	}
	return redirectSuccess(c, "/sign-in", service.MsgSignUpComplete)
}

// SignInPage renders the sign-in form.
func (s *Server) SignInPage(c *fiber.Ctx) error {
	return s.render(c, fiber.StatusOK, "sign_in.html", s.newPage(c, "サインイン", nil))
}

// SignIn opens a session for an active account.
func (s *Server) SignIn(c *fiber.Ctx) error {
	session, err := s.accountService.SignIn(c.UserContext(), strings.TrimSpace(c.FormValue("email")), c.FormValue("password"))
	if err != nil {
		return redirectError(c, "/sign-in", err)
	}
	s.setSessionCookie(c, session)
	return c.Redirect(service.PostsPath, fiber.StatusSeeOther)
}

// SignOut ends the session.
func (s *Server) SignOut(c *fiber.Ctx) error {
	_ = s.accountService.SignOut(c.UserContext())
	s.clearSessionCookie(c)
	return c.Redirect("/sign-in", fiber.StatusSeeOther)
}

// ForgotPasswordPage renders the recovery request form. An optional
// ?callbackUrl= is carried through the form.
func (s *Server) ForgotPasswordPage(c *fiber.Ctx) error {
	callback := c.Query("callbackUrl")
	if !service.SafeRedirectPath(callback) {
		callback = ""
	}
	return s.render(c, fiber.StatusOK, "forgot_password.html", s.newPage(c, "パスワードの再設定", callback))
}

// ForgotPassword mails a recovery link.
func (s *Server) ForgotPassword(c *fiber.Ctx) error {
	redirect, err := s.accountService.ForgotPassword(c.UserContext(),
		strings.TrimSpace(c.FormValue("email")), c.FormValue("callbackUrl"))
	if err != nil {
		return redirectError(c, "/forgot-password", err)
	}
	if redirect != "" {
		return c.Redirect(redirect, fiber.StatusSeeOther)
	}
	return redirectSuccess(c, "/forgot-password", service.MsgResetEmailSent)
}

// AuthCallback exchanges an emailed token for a session and continues to
// ?redirect_to=, which must be a local path.
func (s *Server) AuthCallback(c *fiber.Ctx) error {
	session, err := s.accountService.ExchangeToken(c.UserContext(), c.Query("token"))
	if err != nil {
		return redirectError(c, "/sign-in", err)
	}
	s.setSessionCookie(c, session)

	target := c.Query("redirect_to")
	if !service.SafeRedirectPath(target) {
		target = service.PostsPath
	}
	return c.Redirect(target, fiber.StatusSeeOther)
}

// ResetPasswordPage renders the new-password form.
func (s *Server) ResetPasswordPage(c *fiber.Ctx) error {
	return s.render(c, fiber.StatusOK, "reset_password.html", s.newPage(c, "新しいパスワード", nil))
}

// ResetPassword sets the signed-in caller's password.
func (s *Server) ResetPassword(c *fiber.Ctx) error {
	if err := s.accountService.ResetPassword(c.UserContext(), c.FormValue("password"), c.FormValue("confirmPassword")); err != nil {
		return redirectError(c, service.ResetPasswordPath, err)
	}
	return redirectSuccess(c, "/sign-in", service.MsgPasswordUpdated)
}
