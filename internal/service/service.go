// Package service contains the board's business operations. Every operation
// resolves the acting user through a CurrentUserSource and reports failures
// as *models.AppError values whose messages are safe to show.
package service

import (
	"context"
	"log/slog"

	"noticeboard/internal/middleware"
	"noticeboard/internal/models"
	"noticeboard/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// View paths signalled after mutations.
const (
	PostsPath       = "/protected/posts"
	ProfileEditPath = "/protected/profile/edit"
)

// PostPath returns the detail view path of a post.
func PostPath(id string) string {
	return PostsPath + "/" + id
}

// Shared user-facing messages.
const (
	msgUserNotFound    = "ユーザーが見つかりません"
	msgAccountInactive = "このアカウントは無効化されています"
)

// CurrentUserSource resolves the acting user. It returns nil, nil for an
// anonymous caller.
type CurrentUserSource interface {
	CurrentUser(ctx context.Context) (*models.UserProfile, error)
}

// Revalidator marks a rendered view stale.
type Revalidator interface {
	Revalidate(ctx context.Context, path string) error
}

// requireUser returns the caller or an UNAUTHORIZED error.
func requireUser(ctx context.Context, users CurrentUserSource) (*models.UserProfile, error) {
	user, err := users.CurrentUser(ctx)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "failed to resolve current user", slog.String("error", err.Error()))
		return nil, models.NewUnauthorizedError(msgUserNotFound)
	}
	if user == nil {
		return nil, models.NewUnauthorizedError(msgUserNotFound)
	}
	return user, nil
}

// requireActiveUser is requireUser for operations that change data.
func requireActiveUser(ctx context.Context, users CurrentUserSource) (*models.UserProfile, error) {
	user, err := requireUser(ctx, users)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, models.NewAccountInactiveError(msgAccountInactive)
	}
	return user, nil
}

// storeFailure logs a persistence error and hides it behind a STORE_ERROR
// carrying message.
func storeFailure(ctx context.Context, op, message string, err error) error {
	middleware.Logger.ErrorContext(ctx, "store operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return models.NewStoreError(message, err)
}

// revalidate signals paths stale. Failures are logged only; the mutation
// has already happened.
func revalidate(ctx context.Context, views Revalidator, paths ...string) {
	if views == nil {
		return
	}
	for _, p := range paths {
		if err := views.Revalidate(ctx, p); err != nil {
			middleware.Logger.WarnContext(ctx, "failed to revalidate view",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}
}

// trackMutation opens a span for a mutating operation. The returned function
// ends the span and counts the outcome.
func trackMutation(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, end := observability.StartOperation(ctx, "service."+op, attrs...)
	return ctx, func(err error) {
		end(err)
		code := ""
		if err != nil {
			if code = models.ErrorCode(err); code == "" {
				code = models.CodeInternal
			}
		}
		observability.RecordMutation(op, code)
	}
}
