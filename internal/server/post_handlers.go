package server

import (
	"strings"

	"noticeboard/internal/featureflags"
	"noticeboard/internal/models"
	"noticeboard/internal/service"

	"github.com/gofiber/fiber/v2"
)

const msgPostEditForbidden = "この投稿を編集する権限がありません"

// postForm is the data of the create and edit forms. An empty ID means a
// new post.
type postForm struct {
	ID      string
	Title   string
	Content string
}

// withLive turns on live refresh of path when the flag allows it for the
// viewer.
func (s *Server) withLive(c *fiber.Ctx, p page, path string) page {
	userID, _ := c.Locals("userID").(string)
	if s.featureFlags.Enabled(featureflags.LiveRefresh, userID) {
		p.LivePath = path
	}
	return p
}

// GetPosts renders one page of the listing.
func (s *Server) GetPosts(c *fiber.Ctx) error {
	result, err := s.postService.GetPosts(c.UserContext(), parsePage(c))
	if err != nil {
		return s.renderError(c, err)
	}
	p := s.withLive(c, s.newPage(c, "投稿一覧", result), service.PostsPath)
	return s.render(c, fiber.StatusOK, "posts.html", p)
}

// NewPostPage renders an empty post form.
func (s *Server) NewPostPage(c *fiber.Ctx) error {
	return s.render(c, fiber.StatusOK, "post_form.html", s.newPage(c, "新規投稿", postForm{}))
}

// CreatePost publishes a post. Rejections re-render the form with the
// submitted values.
func (s *Server) CreatePost(c *fiber.Ctx) error {
	form := postForm{
		Title:   strings.TrimSpace(c.FormValue("title")),
		Content: strings.TrimSpace(c.FormValue("content")),
	}
	_, err := s.postService.CreatePost(c.UserContext(), service.CreatePostInput{Title: form.Title, Content: form.Content})
	if err != nil {
		p := s.newPage(c, "新規投稿", form)
		p.Error = models.UserMessage(err)
		return s.render(c, models.StatusFor(err), "post_form.html", p)
	}
	return c.Redirect(service.PostsPath, fiber.StatusSeeOther)
}

// GetPost renders a post with its replies. A reply id shows the thread it
// belongs to.
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := parseID(c, "id", msgPostNotFound)
	if err != nil {
		return s.renderError(c, err)
	}

	thread, err := s.replyService.GetPostWithReplies(c.UserContext(), id)
	if err != nil {
		return s.renderError(c, err)
	}
	if thread.Post.IsReply() {
		return c.Redirect(service.PostPath(*thread.Post.ParentID), fiber.StatusSeeOther)
	}

	p := s.withLive(c, s.newPage(c, thread.Post.Title, thread), service.PostPath(id))
	return s.render(c, fiber.StatusOK, "post_detail.html", p)
}

// EditPostPage renders the edit form of one of the caller's posts.
func (s *Server) EditPostPage(c *fiber.Ctx) error {
	id, err := parseID(c, "id", msgPostNotFound)
	if err != nil {
		return s.renderError(c, err)
	}

	view, err := s.postService.GetPost(c.UserContext(), id)
	if err != nil {
		return s.renderError(c, err)
	}
	if view.Post.IsReply() {
		return s.renderError(c, models.NewNotFoundMessage(msgPostNotFound))
	}
	if !view.IsOwner {
		return s.renderError(c, models.NewForbiddenError(msgPostEditForbidden))
	}

	form := postForm{ID: view.Post.ID, Title: view.Post.Title, Content: view.Post.Content}
	return s.render(c, fiber.StatusOK, "post_form.html", s.newPage(c, "投稿を編集", form))
}

// UpdatePost saves an edited post.
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	id, err := parseID(c, "id", msgPostNotFound)
	if err != nil {
		return s.renderError(c, err)
	}

	form := postForm{
		ID:      id,
		Title:   strings.TrimSpace(c.FormValue("title")),
		Content: strings.TrimSpace(c.FormValue("content")),
	}
	err = s.postService.UpdatePost(c.UserContext(), service.UpdatePostInput{PostID: id, Title: form.Title, Content: form.Content})
	switch {
	case err == nil:
		return c.Redirect(service.PostPath(id), fiber.StatusSeeOther)
	case models.IsCode(err, models.CodeValidation), models.IsCode(err, models.CodeStore):
		p := s.newPage(c, "投稿を編集", form)
		p.Error = models.UserMessage(err)
		return s.render(c, models.StatusFor(err), "post_form.html", p)
	default:
		return s.renderError(c, err)
	}
}

// DeletePost soft-deletes a post or reply. It answers 204, or a JSON
// {"error"} with the failure's status.
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := parseID(c, "id", msgPostNotFound)
	if err == nil {
		err = s.postService.DeletePost(c.UserContext(), id)
	}
	if err != nil {
		return models.RespondWithError(c, models.StatusFor(err), err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
