package service

import (
	"context"

	"noticeboard/internal/cache"
	"noticeboard/internal/models"
	"noticeboard/internal/observability"
	"noticeboard/internal/repository"
	"noticeboard/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

// PostsPageSize is the number of top-level posts per listing page.
const PostsPageSize = 10

const (
	msgPostNotFound      = "投稿が見つかりません"
	msgPostCreateFailed  = "投稿に失敗しました"
	msgPostUpdateFailed  = "投稿の更新に失敗しました"
	msgPostDeleteFailed  = "投稿の削除に失敗しました"
	msgPostLoadFailed    = "投稿の取得に失敗しました"
	msgPostEditForbidden = "この投稿を編集する権限がありません"
	msgPostDelForbidden  = "この投稿を削除する権限がありません"
)

// PostService handles top-level posts.
type PostService struct {
	postRepo repository.PostRepository
	users    CurrentUserSource
	views    Revalidator
	cache    *cache.Store
}

// CreatePostInput carries a new top-level post.
type CreatePostInput struct {
	Title   string
	Content string
}

// UpdatePostInput carries an edit of a top-level post.
type UpdatePostInput struct {
	PostID  string
	Title   string
	Content string
}

// NewPostService wires a PostService. store may be nil to disable the
// listing cache.
func NewPostService(postRepo repository.PostRepository, users CurrentUserSource, views Revalidator, store *cache.Store) *PostService {
	return &PostService{
		postRepo: postRepo,
		users:    users,
		views:    views,
		cache:    store,
	}
}

func validatePostFields(title, content string) error {
	if err := validation.ValidatePostTitle(title); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePostContent(content); err != nil {
		return models.NewValidationError(err.Error())
	}
	return nil
}

// CreatePost publishes a top-level post owned by the caller.
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (post *models.Post, err error) {
	ctx, done := trackMutation(ctx, "create_post")
	defer func() { done(err) }()

	user, err := requireActiveUser(ctx, s.users)
	if err != nil {
		return nil, err
	}
	if err := validatePostFields(in.Title, in.Content); err != nil {
		return nil, err
	}

	post = &models.Post{
		Title:    in.Title,
		Content:  in.Content,
		AuthorID: user.ID,
	}
	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, storeFailure(ctx, "create_post", msgPostCreateFailed, err)
	}

	revalidate(ctx, s.views, PostsPath)
	return post, nil
}

// loadOwned loads a live post and checks that user wrote it. With
// topLevelOnly, replies are reported as not found.
func (s *PostService) loadOwned(ctx context.Context, id string, user *models.UserProfile, forbidden string, topLevelOnly bool) (*models.Post, error) {
	post, err := s.postRepo.GetByID(ctx, id)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return nil, models.NewNotFoundMessage(msgPostNotFound)
		}
		return nil, storeFailure(ctx, "get_post", msgPostLoadFailed, err)
	}
	if topLevelOnly && post.IsReply() {
		return nil, models.NewNotFoundMessage(msgPostNotFound)
	}
	if post.AuthorID != user.ID {
		return nil, models.NewForbiddenError(forbidden)
	}
	return post, nil
}

// UpdatePost replaces the title and content of one of the caller's posts.
func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (err error) {
	ctx, done := trackMutation(ctx, "update_post", attribute.String("post.id", in.PostID))
	defer func() { done(err) }()

	user, err := requireActiveUser(ctx, s.users)
	if err != nil {
		return err
	}
	if err := validatePostFields(in.Title, in.Content); err != nil {
		return err
	}
	if _, err := s.loadOwned(ctx, in.PostID, user, msgPostEditForbidden, true); err != nil {
		return err
	}

	if err := s.postRepo.Update(ctx, in.PostID, in.Title, in.Content); err != nil {
		return storeFailure(ctx, "update_post", msgPostUpdateFailed, err)
	}

	revalidate(ctx, s.views, PostsPath, PostPath(in.PostID))
	return nil
}

// DeletePost soft-deletes one of the caller's posts.
func (s *PostService) DeletePost(ctx context.Context, id string) (err error) {
	ctx, done := trackMutation(ctx, "delete_post", attribute.String("post.id", id))
	defer func() { done(err) }()

	user, err := requireActiveUser(ctx, s.users)
	if err != nil {
		return err
	}
	post, err := s.loadOwned(ctx, id, user, msgPostDelForbidden, false)
	if err != nil {
		return err
	}

	if err := s.postRepo.SoftDelete(ctx, id); err != nil {
		return storeFailure(ctx, "delete_post", msgPostDeleteFailed, err)
	}

	paths := []string{PostsPath, PostPath(id)}
	if post.IsReply() {
		paths = append(paths, PostPath(*post.ParentID))
	}
	revalidate(ctx, s.views, paths...)
	return nil
}

// GetPosts returns one page of listable top-level posts, newest first. Pages
// below 1 are treated as 1.
func (s *PostService) GetPosts(ctx context.Context, page int) (_ *models.PostPage, err error) {
	ctx, end := observability.StartOperation(ctx, "service.get_posts", attribute.Int("page", page))
	defer func() { end(err) }()

	if page < 1 {
		page = 1
	}

	var result models.PostPage
	key := cache.PostsPageKey(s.cache.ViewVersion(ctx, PostsPath), page)
	err = s.cache.Aside(ctx, key, &result, cache.PostsPageTTL, func() error {
		posts, err := s.postRepo.ListTopLevel(ctx, PostsPageSize, models.Offset(page, PostsPageSize))
		if err != nil {
			return err
		}
		total, err := s.postRepo.CountTopLevel(ctx)
		if err != nil {
			return err
		}
		if posts == nil {
			posts = []*models.Post{}
		}
		result = models.PostPage{
			Posts:      posts,
			Pagination: models.NewPagination(page, total, PostsPageSize),
		}
		return nil
	})
	if err != nil {
		return nil, storeFailure(ctx, "get_posts", msgPostLoadFailed, err)
	}
	return &result, nil
}

// GetPost returns a live post by an active author, and whether the caller
// owns it. Anonymous callers are never owners.
func (s *PostService) GetPost(ctx context.Context, id string) (view *models.PostView, err error) {
	ctx, end := observability.StartOperation(ctx, "service.get_post", attribute.String("post.id", id))
	defer func() { end(err) }()

	post, err := s.postRepo.GetByID(ctx, id)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return nil, models.NewNotFoundMessage(msgPostNotFound)
		}
		return nil, storeFailure(ctx, "get_post", msgPostLoadFailed, err)
	}
	if !post.Author.IsActive {
		return nil, models.NewNotFoundMessage(msgPostNotFound)
	}

	user, err := s.users.CurrentUser(ctx)
	if err != nil {
		return nil, storeFailure(ctx, "get_post", msgPostLoadFailed, err)
	}
	return &models.PostView{
		Post:    post,
		IsOwner: user != nil && user.ID == post.AuthorID,
	}, nil
}
