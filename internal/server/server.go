// Package server contains the HTML and WebSocket handlers of the board.
package server

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"noticeboard/internal/auth"
	"noticeboard/internal/cache"
	"noticeboard/internal/config"
	"noticeboard/internal/drafts"
	"noticeboard/internal/featureflags"
	"noticeboard/internal/identity"
	"noticeboard/internal/middleware"
	"noticeboard/internal/notifications"
	"noticeboard/internal/repository"
	"noticeboard/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// wireableHub is implemented by every WebSocket hub that can be wired to
// Redis pub/sub and gracefully shut down.
type wireableHub interface {
	Name() string
	StartWiring(ctx context.Context, n *notifications.Notifier) error
	Shutdown(ctx context.Context) error
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	templates      *template.Template

	userRepo   repository.UserRepository
	postRepo   repository.PostRepository
	provider   identity.Provider
	bridge     *auth.Bridge
	draftStore drafts.Store

	notifier     *notifications.Notifier
	liveHub      *notifications.LiveHub
	hubs         []wireableHub
	featureFlags *featureflags.Manager
	limiter      *middleware.RateLimiter

	postService    *service.PostService
	replyService   *service.ReplyService
	profileService *service.ProfileService
	accountService *service.AccountService
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; caching, pub/sub and rate limiting then degrade to
// in-process fallbacks.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	store := cache.NewStore(redisClient)
	userRepo := repository.NewUserRepository(db, store)
	postRepo := repository.NewPostRepository(db)
	compensations := repository.NewCompensationRepository(db)

	provider := identity.NewLocalProvider(db, redisClient, identity.NewMailer(cfg), cfg)
	bridge := auth.NewBridge(provider, userRepo)

	var draftStore drafts.Store
	if redisClient != nil {
		draftStore = drafts.NewRedisStore(redisClient)
	} else {
		draftStore = drafts.NewMemoryStore()
	}
	draftManager := drafts.NewManager(draftStore, cfg.DraftTTL())

	notifier := notifications.NewNotifier(redisClient)
	liveHub := notifications.NewLiveHub()
	views := notifications.NewRevalidator(store, notifier, liveHub)
	users := requestUsers{bridge: bridge}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("noticeboard"),
		templates:      tmpl,
		userRepo:       userRepo,
		postRepo:       postRepo,
		provider:       provider,
		bridge:         bridge,
		draftStore:     draftStore,
		notifier:       notifier,
		liveHub:        liveHub,
		hubs:           []wireableHub{liveHub},
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		limiter:        middleware.NewRateLimiter(redisClient, cfg.Env, middleware.FailOpen),
	}

	s.postService = service.NewPostService(postRepo, users, views, store)
	s.replyService = service.NewReplyService(postRepo, users, views)
	s.profileService = service.NewProfileService(userRepo, compensations, provider, draftManager, users, views)
	s.accountService = service.NewAccountService(provider, userRepo, draftManager, users, cfg.PublicURL)

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Context Middleware to propagate Request ID and trace ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = s.config.PublicURL
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Preflight, probes and scrapes are never limited.
		Next: func(c *fiber.Ctx) bool {
			switch c.Path() {
			case "/health/live", "/health/ready", "/metrics":
				return true
			}
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).SendString("リクエストが多すぎます。しばらくしてから再度お試しください。")
		},
	}))

	// Session token, draft session and current user
	app.Use(s.Session())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect(service.PostsPath, fiber.StatusSeeOther)
	})

	// Account routes
	app.Get("/sign-up", s.SignUpPage)
	app.Post("/sign-up", s.limiter.Limit("sign_up", 5, 10*time.Minute), s.SaveSignUp)
	app.Get("/sign-up/confirm", s.SignUpConfirmPage)
	app.Post("/sign-up/confirm", s.limiter.Limit("sign_up_confirm", 5, 10*time.Minute), s.SignUp)
	app.Get("/sign-in", s.SignInPage)
	app.Post("/sign-in", s.limiter.Limit("sign_in", 10, 5*time.Minute), s.SignIn)
	app.Post("/sign-out", s.SignOut)
	app.Get("/forgot-password", s.ForgotPasswordPage)
	app.Post("/forgot-password", s.limiter.Limit("forgot_password", 3, 15*time.Minute), s.ForgotPassword)
	app.Get("/auth/callback", s.AuthCallback)

	protected := app.Group("/protected", s.ProtectedRequired())
	protected.Get("/reset-password", s.ResetPasswordPage)
	protected.Post("/reset-password", s.ResetPassword)

	// Post routes; specific /:id/:resource routes before generic /:id
	posts := protected.Group("/posts")
	posts.Get("/", s.GetPosts)
	posts.Get("/new", s.NewPostPage)
	posts.Post("/new", s.limiter.Limit("create_post", 5, time.Minute), s.CreatePost)
	posts.Post("/:id/replies", s.limiter.Limit("create_reply", 10, time.Minute), s.CreateReply)
	posts.Get("/:id/edit", s.EditPostPage)
	posts.Post("/:id/edit", s.UpdatePost)
	posts.Post("/:id/delete", s.DeletePost)
	posts.Get("/:id", s.GetPost)

	replies := protected.Group("/replies")
	replies.Get("/:id/edit", s.EditReplyPage)
	replies.Post("/:id/edit", s.UpdateReply)

	profile := protected.Group("/profile")
	profile.Get("/edit", s.EditProfilePage)
	profile.Post("/edit", s.SaveProfile)
	profile.Get("/confirm", s.ConfirmProfilePage)
	profile.Post("/confirm", s.UpdateProfile)
	profile.Post("/deactivate", s.DeactivateAccount)

	protected.Get("/feature-flags", s.GetFeatureFlags)

	// Live view refresh
	app.Get("/ws/live", s.LiveRequired(), s.LiveHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional, so a
// server running without it stays ready; a configured Redis that stops
// answering does not.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "disabled"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// newApp builds the Fiber app with middleware and routes registered.
func (s *Server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "noticeboard",
		ErrorHandler: s.handleError,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.newApp()

	// In-process drafts need their expired entries swept.
	if mem, ok := s.draftStore.(*drafts.MemoryStore); ok {
		go mem.StartJanitor(s.shutdownCtx, time.Minute)
	}

	// Wire all hubs to Redis subscriber if available
	if s.notifier.Enabled() {
		for _, h := range s.hubs {
			h := h
			go func() {
				if err := h.StartWiring(s.shutdownCtx, s.notifier); err != nil {
					middleware.Logger.Error("failed to start hub wiring",
						slog.String("hub", h.Name()),
						slog.String("error", err.Error()),
					)
				}
			}()
		}
	}

	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop all wiring goroutines
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	// Shutdown the HTTP/WS server
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	// Close WebSocket connections gracefully
	for _, h := range s.hubs {
		if err := h.Shutdown(ctx); err != nil {
			middleware.Logger.Error("error shutting down hub",
				slog.String("hub", h.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	// Close database connection
	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	// Close Redis connection
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
