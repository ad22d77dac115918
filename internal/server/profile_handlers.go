package server

import (
	"strings"

	"noticeboard/internal/models"
	"noticeboard/internal/service"

	"github.com/gofiber/fiber/v2"
)

// EditProfilePage renders the profile form with the caller's current
// values.
func (s *Server) EditProfilePage(c *fiber.Ctx) error {
	user := currentUser(c)
	form := service.ProfileDraft{Name: user.Name, Email: user.Email}
	return s.render(c, fiber.StatusOK, "profile_edit.html", s.newPage(c, "プロフィール編集", form))
}

// SaveProfile stages an edit and moves on to confirmation.
func (s *Server) SaveProfile(c *fiber.Ctx) error {
	form := service.ProfileDraft{
		Name:  strings.TrimSpace(c.FormValue("name")),
		Email: strings.TrimSpace(c.FormValue("email")),
	}
	if err := s.profileService.SaveProfileData(c.UserContext(), form.Name, form.Email); err != nil {
		p := s.newPage(c, "プロフィール編集", form)
		p.Error = models.UserMessage(err)
		return s.render(c, models.StatusFor(err), "profile_edit.html", p)
	}
	return c.Redirect("/protected/profile/confirm", fiber.StatusSeeOther)
}

// ConfirmProfilePage shows the staged edit.
func (s *Server) ConfirmProfilePage(c *fiber.Ctx) error {
	draft, err := s.profileService.GetProfileData(c.UserContext())
	if err != nil {
		return redirectError(c, service.ProfileEditPath, err)
	}
	return s.render(c, fiber.StatusOK, "profile_confirm.html", s.newPage(c, "プロフィールの確認", draft))
}

// UpdateProfile applies the staged edit.
func (s *Server) UpdateProfile(c *fiber.Ctx) error {
	if err := s.profileService.UpdateUserProfile(c.UserContext()); err != nil {
		return redirectError(c, service.ProfileEditPath, err)
	}
	return c.Redirect(service.PostsPath, fiber.StatusSeeOther)
}

// DeactivateAccount disables the caller's account and signs them out.
func (s *Server) DeactivateAccount(c *fiber.Ctx) error {
	if err := s.profileService.DeactivateAccount(c.UserContext()); err != nil {
		return redirectError(c, service.ProfileEditPath, err)
	}
	s.clearSessionCookie(c)
	return c.Redirect("/sign-in", fiber.StatusSeeOther)
}
