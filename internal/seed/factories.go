// Package seed provides helpers to create demo accounts, posts and replies.
// These helpers are intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"noticeboard/internal/identity"
	"noticeboard/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// DefaultPassword is the password of every seeded account.
const DefaultPassword = "password123"

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by the Seeder and tests.
type Factory struct {
	db       *gorm.DB
	accounts identity.Provider
	opts     Options
	faker    *gofakeit.Faker
	now      func() time.Time
}

// NewFactory creates a Factory. Accounts are registered through accounts so
// seeded users sign in like real ones.
func NewFactory(db *gorm.DB, accounts identity.Provider, opts Options) *Factory {
	return &Factory{
		db:       db,
		accounts: accounts,
		opts:     opts,
		faker:    gofakeit.New(opts.Seed),
		now:      time.Now,
	}
}

// CreateUser registers an identity and its profile. Overrides run before
// anything is written.
func (f *Factory) CreateUser(ctx context.Context, overrides ...func(*models.UserProfile)) (*models.UserProfile, error) {
	profile := &models.UserProfile{
		Name:     f.faker.Name(),
		Email:    fmt.Sprintf("%s.%d@example.com", strings.ToLower(f.faker.Username()), f.faker.Number(1000, 9999)),
		IsActive: true,
	}
	for _, override := range overrides {
		override(profile)
	}

	account, err := f.accounts.Register(ctx, identity.RegisterInput{
		Email:       profile.Email,
		Password:    DefaultPassword,
		DisplayName: profile.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", profile.Email, err)
	}
	if !account.Confirmed {
		if err := f.db.WithContext(ctx).Model(&models.Identity{}).
			Where("id = ?", account.Subject).
			Update("confirmed_at", f.now()).Error; err != nil {
			return nil, fmt.Errorf("confirm %s: %w", profile.Email, err)
		}
	}

	active := profile.IsActive
	profile.AuthSubject = account.Subject
	profile.Email = account.Email
	profile.IsActive = true
	if err := f.db.WithContext(ctx).Create(profile).Error; err != nil {
		return nil, err
	}

	// is_active has a column default, so false is written separately.
	if !active {
		if err := f.db.WithContext(ctx).Model(profile).Update("is_active", false).Error; err != nil {
			return nil, err
		}
		profile.IsActive = false
	}
	return profile, nil
}

// createdAt picks a timestamp within the last MaxDays days.
func (f *Factory) createdAt() time.Time {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 30
	}
	back := time.Duration(f.faker.Number(0, maxDays*24*60)) * time.Minute
	return f.now().Add(-back)
}

// BuildPost constructs a top-level post without persisting it.
func (f *Factory) BuildPost(author *models.UserProfile, overrides ...func(*models.Post)) *models.Post {
	post := &models.Post{
		Title:     truncateRunes(strings.TrimSuffix(f.faker.Sentence(6), "."), models.MaxTitleLength),
		Content:   f.faker.Paragraph(1, 3, 8, "\n"),
		AuthorID:  author.ID,
		CreatedAt: f.createdAt(),
	}
	for _, override := range overrides {
		override(post)
	}
	post.UpdatedAt = post.CreatedAt
	return post
}

// BuildReply constructs a reply to parent, dated after it.
func (f *Factory) BuildReply(author *models.UserProfile, parent *models.Post) *models.Post {
	parentID := parent.ID
	created := parent.CreatedAt.Add(time.Duration(f.faker.Number(1, 48*60)) * time.Minute)
	if now := f.now(); created.After(now) {
		created = now
	}
	return &models.Post{
		Content:   f.faker.Sentence(12),
		AuthorID:  author.ID,
		ParentID:  &parentID,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// CreatePostsBatch persists posts in batches of Options.BatchSize.
func (f *Factory) CreatePostsBatch(ctx context.Context, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	size := f.opts.BatchSize
	if size <= 0 {
		size = 100
	}
	return f.db.WithContext(ctx).CreateInBatches(posts, size).Error
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
