package server

import (
	"log/slog"
	"strings"

	"noticeboard/internal/featureflags"
	"noticeboard/internal/middleware"
	"noticeboard/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// LiveRequired admits websocket upgrades for signed-in callers watching a
// board view, while live refresh is enabled for them.
func (s *Server) LiveRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)
		if user == nil || !user.IsActive {
			return fiber.ErrUnauthorized
		}
		if !s.featureFlags.Enabled(featureflags.LiveRefresh, user.ID) {
			return fiber.ErrNotFound
		}

		path := c.Query("path")
		if !service.SafeRedirectPath(path) || !strings.HasPrefix(path, "/protected/") {
			return fiber.NewError(fiber.StatusBadRequest, "invalid path")
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		c.Locals("livePath", path)
		return c.Next()
	}
}

// LiveHandler streams stale-view events for the watched path until the
// peer disconnects.
func (s *Server) LiveHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		path, _ := conn.Locals("livePath").(string)

		client, err := s.liveHub.Register(path, conn)
		if err != nil {
			middleware.Logger.Warn("live watcher rejected",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}
