package server

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/url"
	"time"

	"noticeboard/internal/middleware"
	"noticeboard/internal/models"

	"github.com/gofiber/fiber/v2"
)

//go:embed templates/*.html
var templateFS embed.FS

var jst = time.FixedZone("JST", 9*60*60)

var templateFuncs = template.FuncMap{
	"add": func(a, b int) int { return a + b },
	"sub": func(a, b int) int { return a - b },
	"fmtTime": func(t time.Time) string {
		return t.In(jst).Format("2006/01/02 15:04")
	},
	"isoTime": func(t time.Time) string {
		return t.UTC().Format(time.RFC3339)
	},
}

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
}

// page is the data every template receives.
type page struct {
	Title    string
	User     *models.UserProfile
	Error    string
	Success  string
	LivePath string
	Data     any
}

// newPage fills the viewer and the flash messages carried in the query.
func (s *Server) newPage(c *fiber.Ctx, title string, data any) page {
	return page{
		Title:   title,
		User:    currentUser(c),
		Error:   c.Query("error"),
		Success: c.Query("success"),
		Data:    data,
	}
}

// render executes a template into a buffer first so a failing template
// never leaves a half-written page.
func (s *Server) render(c *fiber.Ctx, status int, name string, p page) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, p); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
	}
	c.Type("html", "utf-8")
	return c.Status(status).Send(buf.Bytes())
}

// renderError shows err's user-facing message with its mapped status.
func (s *Server) renderError(c *fiber.Ctx, err error) error {
	p := s.newPage(c, "エラー", models.UserMessage(err))
	p.Error = ""
	return s.render(c, models.StatusFor(err), "error.html", p)
}

// redirectWith navigates to path carrying a flash message as ?kind=.
func redirectWith(c *fiber.Ctx, path, kind, message string) error {
	if message == "" {
		return c.Redirect(path, fiber.StatusSeeOther)
	}
	target, err := url.Parse(path)
	if err != nil {
		return c.Redirect(path, fiber.StatusSeeOther)
	}
	q := target.Query()
	q.Set(kind, message)
	target.RawQuery = q.Encode()
	return c.Redirect(target.String(), fiber.StatusSeeOther)
}

func redirectError(c *fiber.Ctx, path string, err error) error {
	return redirectWith(c, path, "error", models.UserMessage(err))
}

func redirectSuccess(c *fiber.Ctx, path, message string) error {
	return redirectWith(c, path, "success", message)
}

// handleError is the Fiber ErrorHandler. Routing errors keep their status;
// anything else becomes a generic 500 page.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		message = fe.Message
	} else {
		middleware.Logger.ErrorContext(c.UserContext(), "unhandled request error", slog.String("error", err.Error()))
	}

	if s.templates == nil {
		return c.Status(status).SendString(message)
	}
	return s.render(c, status, "error.html", page{Title: "エラー", User: currentUser(c), Data: message})
}
