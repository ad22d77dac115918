package server

import (
	"strings"

	"noticeboard/internal/models"
	"noticeboard/internal/service"

	"github.com/gofiber/fiber/v2"
)

const msgParentNotFound = "返信先の投稿が見つかりません"

type replyForm struct {
	ID       string
	ParentID string
	Content  string
}

// CreateReply answers a top-level post and returns to its thread.
func (s *Server) CreateReply(c *fiber.Ctx) error {
	parentID, err := parseID(c, "id", msgParentNotFound)
	if err != nil {
		return redirectError(c, service.PostsPath, err)
	}

	_, err = s.replyService.CreateReply(c.UserContext(), service.CreateReplyInput{
		ParentID: parentID,
		Content:  strings.TrimSpace(c.FormValue("content")),
	})
	switch {
	case err == nil:
		return c.Redirect(service.PostPath(parentID), fiber.StatusSeeOther)
	case models.IsCode(err, models.CodeNotFound):
		return redirectError(c, service.PostsPath, err)
	default:
		return redirectError(c, service.PostPath(parentID), err)
	}
}

// EditReplyPage renders the edit form of one of the caller's replies.
func (s *Server) EditReplyPage(c *fiber.Ctx) error {
	id, err := parseID(c, "id", msgReplyNotFound)
	if err != nil {
		return s.renderError(c, err)
	}

	reply, err := s.replyService.GetReply(c.UserContext(), id)
	if err != nil {
		return s.renderError(c, err)
	}
	form := replyForm{ID: reply.ID, ParentID: *reply.ParentID, Content: reply.Content}
	return s.render(c, fiber.StatusOK, "reply_edit.html", s.newPage(c, "返信を編集", form))
}

// UpdateReply saves an edited reply and returns to its thread.
func (s *Server) UpdateReply(c *fiber.Ctx) error {
	id, err := parseID(c, "id", msgReplyNotFound)
	if err != nil {
		return s.renderError(c, err)
	}

	content := strings.TrimSpace(c.FormValue("content"))
	reply, err := s.replyService.UpdateReply(c.UserContext(), service.UpdateReplyInput{ReplyID: id, Content: content})
	switch {
	case err == nil:
		return c.Redirect(service.PostPath(*reply.ParentID), fiber.StatusSeeOther)
	case models.IsCode(err, models.CodeValidation), models.IsCode(err, models.CodeStore):
		p := s.newPage(c, "返信を編集", replyForm{ID: id, Content: content})
		p.Error = models.UserMessage(err)
		return s.render(c, models.StatusFor(err), "reply_edit.html", p)
	default:
		return s.renderError(c, err)
	}
}
