// Command seed fills the board database with demo accounts, posts and replies.
package main

import (
	"context"
	"flag"
	"log"

	"noticeboard/internal/config"
	"noticeboard/internal/database"
	"noticeboard/internal/identity"
	"noticeboard/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 20, "Number of users to create")
	numPosts := flag.Int("posts", 60, "Number of top-level posts to create")
	maxReplies := flag.Int("replies", 4, "Maximum replies per post")
	inactive := flag.Int("inactive", 2, "Number of users to deactivate")
	maxDays := flag.Int("days", 30, "Spread post dates over this many days")
	seedValue := flag.Int64("seed", 0, "Random seed (0 picks one)")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d posts, up to %d replies each, clean=%v\n", *numUsers, *numPosts, *maxReplies, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Seeded accounts never need a mail round trip.
	provider := identity.NewLocalProvider(db, nil, identity.LogMailer{}, cfg)
	s := seed.NewSeeder(db, provider, seed.Options{
		NumUsers:      *numUsers,
		NumPosts:      *numPosts,
		MaxReplies:    *maxReplies,
		InactiveUsers: *inactive,
		MaxDays:       *maxDays,
		Seed:          *seedValue,
	})

	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	summary, err := s.Run(ctx)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ Created %d users (%d inactive), %d posts and %d replies.", summary.Users, summary.Inactive, summary.Posts, summary.Replies)
	log.Printf("📧 Sign in as %s; all seeded users have the password: %s", seed.DemoEmail, seed.DefaultPassword)
}
