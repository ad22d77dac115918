package repository

import (
	"context"

	"noticeboard/internal/models"
	"noticeboard/internal/observability"

	"gorm.io/gorm"
)

// PostRepository defines the interface for post and reply data operations.
// Every read excludes soft-deleted rows.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	Update(ctx context.Context, id, title, content string) error
	UpdateContent(ctx context.Context, id, content string) error
	SoftDelete(ctx context.Context, id string) error
	// ListTopLevel returns top-level posts by active authors, newest first,
	// with ReplyCount populated.
	ListTopLevel(ctx context.Context, limit, offset int) ([]*models.Post, error)
	CountTopLevel(ctx context.Context) (int64, error)
	// ListReplies returns replies to parentID by active authors, oldest first.
	ListReplies(ctx context.Context, parentID string) ([]*models.Post, error)
}

// postRepository implements PostRepository
type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

const replyCountSelect = "posts.*, (SELECT COUNT(*) FROM posts AS replies " +
	"JOIN user_profiles AS reply_authors ON reply_authors.id = replies.author_id " +
	"WHERE replies.parent_id = posts.id AND replies.is_deleted = ? AND reply_authors.is_active = ?) AS reply_count"

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("create", "posts")()

	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	defer observability.TrackQuery("get_by_id", "posts")()

	var post models.Post
	err := r.db.WithContext(ctx).
		Preload("Author").
		Where("id = ? AND is_deleted = ?", id, false).
		First(&post).Error
	if err != nil {
		return nil, findError(err, "Post", id)
	}
	return &post, nil
}

func (r *postRepository) Update(ctx context.Context, id, title, content string) error {
	return r.update(ctx, id, map[string]interface{}{"title": title, "content": content})
}

func (r *postRepository) UpdateContent(ctx context.Context, id, content string) error {
	return r.update(ctx, id, map[string]interface{}{"content": content})
}

func (r *postRepository) SoftDelete(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{"is_deleted": true})
}

func (r *postRepository) update(ctx context.Context, id string, fields map[string]interface{}) error {
	defer observability.TrackQuery("update", "posts")()

	res := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(fields)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	return nil
}

// visibleTopLevel scopes a query to listable top-level posts.
func (r *postRepository) visibleTopLevel(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Post{}).
		Joins("JOIN user_profiles ON user_profiles.id = posts.author_id AND user_profiles.is_active = ?", true).
		Where("posts.parent_id IS NULL AND posts.is_deleted = ?", false)
}

func (r *postRepository) ListTopLevel(ctx context.Context, limit, offset int) ([]*models.Post, error) {
	defer observability.TrackQuery("list_top_level", "posts")()

	var posts []*models.Post
	err := r.visibleTopLevel(ctx).
		Select(replyCountSelect, false, true).
		Preload("Author").
		Order("posts.created_at DESC, posts.id DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

func (r *postRepository) CountTopLevel(ctx context.Context) (int64, error) {
	defer observability.TrackQuery("count_top_level", "posts")()

	var total int64
	if err := r.visibleTopLevel(ctx).Count(&total).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return total, nil
}

func (r *postRepository) ListReplies(ctx context.Context, parentID string) ([]*models.Post, error) {
	defer observability.TrackQuery("list_replies", "posts")()

	var replies []*models.Post
	err := r.db.WithContext(ctx).
		Select("posts.*").
		Joins("JOIN user_profiles ON user_profiles.id = posts.author_id AND user_profiles.is_active = ?", true).
		Preload("Author").
		Where("posts.parent_id = ? AND posts.is_deleted = ?", parentID, false).
		Order("posts.created_at ASC, posts.id ASC").
		Find(&replies).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return replies, nil
}
