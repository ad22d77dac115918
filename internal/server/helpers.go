package server

import (
	"strconv"

	"noticeboard/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	msgPostNotFound  = "投稿が見つかりません"
	msgReplyNotFound = "返信が見つかりません"
)

// parsePage reads ?page=, treating anything missing or non-numeric as 1.
func parsePage(c *fiber.Ctx) int {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// parseID extracts a uuid route parameter. Anything else cannot name a
// stored post, so it is reported as notFound without a lookup.
func parseID(c *fiber.Ctx, param, notFound string) (string, error) {
	id := c.Params(param)
	if _, err := uuid.Parse(id); err != nil {
		return "", models.NewNotFoundMessage(notFound)
	}
	return id, nil
}
