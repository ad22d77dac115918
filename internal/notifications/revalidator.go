package notifications

import (
	"context"
	"log/slog"

	"noticeboard/internal/cache"
	"noticeboard/internal/middleware"
)

// Revalidator marks views stale: it bumps the view's cache version and
// tells live watchers to refresh.
type Revalidator struct {
	cache    *cache.Store
	notifier *Notifier
	hub      *LiveHub
}

// NewRevalidator wires the cache, notifier and local hub. Any of them may be
// nil.
func NewRevalidator(store *cache.Store, notifier *Notifier, hub *LiveHub) *Revalidator {
	return &Revalidator{cache: store, notifier: notifier, hub: hub}
}

// Revalidate marks path stale. Without Redis the event goes straight to the
// local hub.
func (r *Revalidator) Revalidate(ctx context.Context, path string) error {
	version, err := r.cache.BumpView(ctx, path)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "failed to bump view version",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}

	ev := StaleEvent{Path: path, Version: version}
	if r.notifier.Enabled() {
		return r.notifier.PublishStale(ctx, ev)
	}
	if r.hub != nil {
		r.hub.Deliver(ev)
	}
	return nil
}
