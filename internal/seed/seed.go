package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"noticeboard/internal/identity"
	"noticeboard/internal/middleware"
	"noticeboard/internal/models"

	"gorm.io/gorm"
)

// DemoEmail is the fixed account created first by every seeding run.
const DemoEmail = "demo@example.com"

// Options configures a seeding run.
type Options struct {
	NumUsers int
	NumPosts int
	// MaxReplies bounds the replies generated under each post.
	MaxReplies int
	// InactiveUsers are deactivated after creation. The demo account is
	// always active.
	InactiveUsers int
	MaxDays       int
	BatchSize     int
	// Seed makes a run reproducible; 0 picks a random seed.
	Seed int64
}

// Summary counts what a run created.
type Summary struct {
	Users    int
	Inactive int
	Posts    int
	Replies  int
}

// Seeder fills the board with demo data.
type Seeder struct {
	db      *gorm.DB
	factory *Factory
	opts    Options
}

// NewSeeder creates a Seeder writing to db and registering accounts with
// accounts.
func NewSeeder(db *gorm.DB, accounts identity.Provider, opts Options) *Seeder {
	return &Seeder{db: db, factory: NewFactory(db, accounts, opts), opts: opts}
}

func (o Options) validate() error {
	if o.NumUsers < 0 || o.NumPosts < 0 || o.MaxReplies < 0 || o.InactiveUsers < 0 {
		return errors.New("seed counts must not be negative")
	}
	if o.NumPosts > 0 && o.NumUsers == 0 {
		return errors.New("posts need at least one user")
	}
	if o.NumUsers > 0 && o.InactiveUsers >= o.NumUsers {
		return fmt.Errorf("at most %d of %d users can be inactive", o.NumUsers-1, o.NumUsers)
	}
	return nil
}

// ClearAll removes every board row, children first.
func (s *Seeder) ClearAll(ctx context.Context) error {
	tx := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range []interface{}{
		&models.Post{},
		&models.CompensationRecord{},
		&models.IdentityToken{},
		&models.UserProfile{},
		&models.Identity{},
	} {
		if err := tx.Delete(model).Error; err != nil {
			return fmt.Errorf("clear %T: %w", model, err)
		}
	}
	middleware.Logger.InfoContext(ctx, "Cleared board data")
	return nil
}

// Run creates users, top-level posts and replies. Posts are spread over all
// users, inactive ones included; replies come from active users only.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	if err := s.opts.validate(); err != nil {
		return nil, err
	}
	summary := &Summary{}

	users := make([]*models.UserProfile, 0, s.opts.NumUsers)
	active := make([]*models.UserProfile, 0, s.opts.NumUsers)
	for i := 0; i < s.opts.NumUsers; i++ {
		var overrides []func(*models.UserProfile)
		if i == 0 {
			overrides = append(overrides, func(p *models.UserProfile) {
				p.Name = "Demo User"
				p.Email = DemoEmail
			})
		}
		if i >= s.opts.NumUsers-s.opts.InactiveUsers {
			overrides = append(overrides, func(p *models.UserProfile) { p.IsActive = false })
		}

		user, err := s.factory.CreateUser(ctx, overrides...)
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		users = append(users, user)
		if user.IsActive {
			active = append(active, user)
		} else {
			summary.Inactive++
		}
	}
	summary.Users = len(users)
	middleware.Logger.InfoContext(ctx, "Seeded users", slog.Int("users", summary.Users), slog.Int("inactive", summary.Inactive))

	posts := make([]*models.Post, 0, s.opts.NumPosts)
	for i := 0; i < s.opts.NumPosts; i++ {
		author := users[s.factory.faker.Number(0, len(users)-1)]
		posts = append(posts, s.factory.BuildPost(author))
	}
	if err := s.factory.CreatePostsBatch(ctx, posts); err != nil {
		return nil, fmt.Errorf("create posts: %w", err)
	}
	summary.Posts = len(posts)

	var replies []*models.Post
	if len(active) > 0 && s.opts.MaxReplies > 0 {
		for _, parent := range posts {
			n := s.factory.faker.Number(0, s.opts.MaxReplies)
			for j := 0; j < n; j++ {
				author := active[s.factory.faker.Number(0, len(active)-1)]
				replies = append(replies, s.factory.BuildReply(author, parent))
			}
		}
	}
	if err := s.factory.CreatePostsBatch(ctx, replies); err != nil {
		return nil, fmt.Errorf("create replies: %w", err)
	}
	summary.Replies = len(replies)
	middleware.Logger.InfoContext(ctx, "Seeded posts", slog.Int("posts", summary.Posts), slog.Int("replies", summary.Replies))

	return summary, nil
}

// IsEmpty reports whether no profile exists yet.
func IsEmpty(ctx context.Context, db *gorm.DB) (bool, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&models.UserProfile{}).Limit(1).Count(&n).Error; err != nil {
		return false, err
	}
	return n == 0, nil
}
