package server

import (
	"context"
	"log/slog"
	"time"

	"noticeboard/internal/auth"
	"noticeboard/internal/drafts"
	"noticeboard/internal/identity"
	"noticeboard/internal/middleware"
	"noticeboard/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	sessionCookie = "session"
	draftCookie   = "draft_sid"

	// draftCookieTTL outlives any single draft; drafts expire server-side.
	draftCookieTTL = 24 * time.Hour

	msgAccountDeactivated = "このアカウントは無効化されています"
)

type resolvedUserKey struct{}

// resolvedUser is the caller's profile as loaded once per request. A nil
// profile means the caller is anonymous.
type resolvedUser struct {
	profile *models.UserProfile
}

// requestUsers resolves the current user through the auth bridge, reusing
// the profile the session middleware already loaded for this request.
type requestUsers struct {
	bridge *auth.Bridge
}

func (u requestUsers) CurrentUser(ctx context.Context) (*models.UserProfile, error) {
	if r, ok := ctx.Value(resolvedUserKey{}).(*resolvedUser); ok {
		return r.profile, nil
	}
	return u.bridge.CurrentUser(ctx)
}

// currentUser returns the profile attached by Session, or nil.
func currentUser(c *fiber.Ctx) *models.UserProfile {
	user, _ := c.Locals("currentUser").(*models.UserProfile)
	return user
}

func (s *Server) cookie(name, value string, expires time.Time) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}

func (s *Server) setSessionCookie(c *fiber.Ctx, session *identity.Session) {
	c.Cookie(s.cookie(sessionCookie, session.Token, session.ExpiresAt))
}

func (s *Server) clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(s.cookie(sessionCookie, "", time.Unix(0, 0)))
}

// Session attaches the session token and the draft session id to the
// request context and resolves the current user once.
func (s *Server) Session() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		token := c.Cookies(sessionCookie)
		ctx = auth.WithSessionToken(ctx, token)

		sid := c.Cookies(draftCookie)
		if _, err := uuid.Parse(sid); err != nil {
			sid = uuid.NewString()
			c.Cookie(s.cookie(draftCookie, sid, time.Now().Add(draftCookieTTL)))
		}
		ctx = drafts.WithSessionID(ctx, sid)

		var user *models.UserProfile
		if token != "" {
			resolved, err := s.bridge.CurrentUser(ctx)
			if err != nil {
				middleware.Logger.WarnContext(ctx, "failed to resolve session", slog.String("error", err.Error()))
			}
			user = resolved
		}
		ctx = context.WithValue(ctx, resolvedUserKey{}, &resolvedUser{profile: user})

		if user != nil {
			c.Locals("currentUser", user)
			c.Locals("userID", user.ID)
			ctx = middleware.WithUserID(ctx, user.ID)
		}

		c.SetUserContext(ctx)
		return c.Next()
	}
}

// ProtectedRequired sends anonymous callers to sign-in. A deactivated
// account has its session ended first.
func (s *Server) ProtectedRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)
		if user == nil {
			return c.Redirect("/sign-in", fiber.StatusSeeOther)
		}
		if !user.IsActive {
			_ = s.accountService.SignOut(c.UserContext())
			s.clearSessionCookie(c)
			return redirectWith(c, "/sign-in", "error", msgAccountDeactivated)
		}
		return c.Next()
	}
}
