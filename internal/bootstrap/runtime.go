// Package bootstrap connects the runtime dependencies shared by the
// commands.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"noticeboard/internal/cache"
	"noticeboard/internal/config"
	"noticeboard/internal/database"
	"noticeboard/internal/identity"
	"noticeboard/internal/middleware"
	"noticeboard/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// demoOptions sizes the startup demo seed.
var demoOptions = seed.Options{NumUsers: 8, NumPosts: 25, MaxReplies: 3, InactiveUsers: 1, MaxDays: 14}

// InitRuntime connects to the database and Redis. Redis is optional: an
// empty REDIS_URL or an unreachable server yields a nil client. With
// SEED_DEMO set, an empty database receives demo data.
func InitRuntime(ctx context.Context, cfg *config.Config) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb = cache.Connect(cfg.RedisURL)
	}

	if cfg.SeedDemo {
		if err := seedDemo(ctx, cfg, db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, rdb, nil
}

func seedDemo(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	empty, err := seed.IsEmpty(ctx, db)
	if err != nil {
		return err
	}
	if !empty {
		middleware.Logger.InfoContext(ctx, "Demo seed skipped, database already has users")
		return nil
	}

	provider := identity.NewLocalProvider(db, nil, identity.LogMailer{}, cfg)
	summary, err := seed.NewSeeder(db, provider, demoOptions).Run(ctx)
	if err != nil {
		return err
	}
	middleware.Logger.InfoContext(ctx, "Demo data seeded",
		slog.Int("users", summary.Users),
		slog.Int("posts", summary.Posts),
		slog.String("login", seed.DemoEmail),
	)
	return nil
}
