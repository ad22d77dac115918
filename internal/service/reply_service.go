package service

import (
	"context"

	"noticeboard/internal/models"
	"noticeboard/internal/observability"
	"noticeboard/internal/repository"
	"noticeboard/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

const (
	msgParentNotFound     = "返信先の投稿が見つかりません"
	msgReplyNotFound      = "返信が見つかりません"
	msgReplyEditForbidden = "この返信を編集する権限がありません"
	msgNotAReply          = "この投稿は返信ではありません"
	msgReplyCreateFailed  = "返信に失敗しました"
	msgReplyUpdateFailed  = "返信の更新に失敗しました"
	msgRepliesLoadFailed  = "返信の取得に失敗しました"
)

// ReplyService handles replies and the post detail thread.
type ReplyService struct {
	postRepo repository.PostRepository
	users    CurrentUserSource
	views    Revalidator
}

// CreateReplyInput carries a new reply.
type CreateReplyInput struct {
	ParentID string
	Content  string
}

// UpdateReplyInput carries an edit of a reply.
type UpdateReplyInput struct {
	ReplyID string
	Content string
}

func NewReplyService(postRepo repository.PostRepository, users CurrentUserSource, views Revalidator) *ReplyService {
	return &ReplyService{postRepo: postRepo, users: users, views: views}
}

// CreateReply answers a top-level post. Replies cannot be answered.
func (s *ReplyService) CreateReply(ctx context.Context, in CreateReplyInput) (reply *models.Post, err error) {
	ctx, done := trackMutation(ctx, "create_reply", attribute.String("post.parent_id", in.ParentID))
	defer func() { done(err) }()

	user, err := requireActiveUser(ctx, s.users)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateReplyContent(in.Content); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	parent, err := s.postRepo.GetByID(ctx, in.ParentID)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return nil, models.NewNotFoundMessage(msgParentNotFound)
		}
		return nil, storeFailure(ctx, "create_reply", msgReplyCreateFailed, err)
	}
	if parent.IsReply() {
		return nil, models.NewNotFoundMessage(msgParentNotFound)
	}

	parentID := parent.ID
	reply = &models.Post{
		Title:    "",
		Content:  in.Content,
		AuthorID: user.ID,
		ParentID: &parentID,
	}
	if err := s.postRepo.Create(ctx, reply); err != nil {
		return nil, storeFailure(ctx, "create_reply", msgReplyCreateFailed, err)
	}

	revalidate(ctx, s.views, PostPath(parentID), PostsPath)
	return reply, nil
}

// GetPostWithReplies returns a live post with its visible replies, oldest
// first. Ownership is computed against the caller for the post and every
// reply.
func (s *ReplyService) GetPostWithReplies(ctx context.Context, id string) (thread *models.PostThread, err error) {
	ctx, end := observability.StartOperation(ctx, "service.get_post_with_replies", attribute.String("post.id", id))
	defer func() { end(err) }()

	user, err := requireUser(ctx, s.users)
	if err != nil {
		return nil, err
	}

	post, err := s.postRepo.GetByID(ctx, id)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return nil, models.NewNotFoundMessage(msgPostNotFound)
		}
		return nil, storeFailure(ctx, "get_post_with_replies", msgPostLoadFailed, err)
	}

	replies, err := s.postRepo.ListReplies(ctx, post.ID)
	if err != nil {
		return nil, storeFailure(ctx, "list_replies", msgRepliesLoadFailed, err)
	}

	thread = &models.PostThread{
		Post:    post,
		IsOwner: post.AuthorID == user.ID,
		Replies: make([]models.PostView, 0, len(replies)),
	}
	for _, r := range replies {
		thread.Replies = append(thread.Replies, models.PostView{Post: r, IsOwner: r.AuthorID == user.ID})
	}
	return thread, nil
}

// GetReply returns one of the caller's replies for editing.
func (s *ReplyService) GetReply(ctx context.Context, id string) (*models.Post, error) {
	user, err := requireUser(ctx, s.users)
	if err != nil {
		return nil, err
	}
	return s.loadOwnedReply(ctx, id, user)
}

func (s *ReplyService) loadOwnedReply(ctx context.Context, id string, user *models.UserProfile) (*models.Post, error) {
	reply, err := s.postRepo.GetByID(ctx, id)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return nil, models.NewNotFoundMessage(msgReplyNotFound)
		}
		return nil, storeFailure(ctx, "get_reply", msgRepliesLoadFailed, err)
	}
	if reply.AuthorID != user.ID {
		return nil, models.NewForbiddenError(msgReplyEditForbidden)
	}
	if !reply.IsReply() {
		return nil, models.NewValidationError(msgNotAReply)
	}
	return reply, nil
}

// UpdateReply replaces the content of one of the caller's replies. Title and
// parent are never touched.
func (s *ReplyService) UpdateReply(ctx context.Context, in UpdateReplyInput) (reply *models.Post, err error) {
	ctx, done := trackMutation(ctx, "update_reply", attribute.String("post.id", in.ReplyID))
	defer func() { done(err) }()

	user, err := requireActiveUser(ctx, s.users)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateReplyContent(in.Content); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	reply, err = s.loadOwnedReply(ctx, in.ReplyID, user)
	if err != nil {
		return nil, err
	}

	if err := s.postRepo.UpdateContent(ctx, reply.ID, in.Content); err != nil {
		return nil, storeFailure(ctx, "update_reply", msgReplyUpdateFailed, err)
	}
	reply.Content = in.Content

	revalidate(ctx, s.views, PostPath(*reply.ParentID))
	return reply, nil
}
