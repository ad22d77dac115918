// Package notifications delivers stale-view events to live browser sessions.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"noticeboard/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// StaleChannel is the Redis channel carrying stale-view events.
const StaleChannel = "views:stale"

// StaleEvent announces that the view at Path changed.
type StaleEvent struct {
	Path    string `json:"path"`
	Version int64  `json:"version,omitempty"`
}

// Notifier publishes stale-view events into Redis.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether events travel through Redis.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishStale announces a stale view to every server instance.
func (n *Notifier) PublishStale(ctx context.Context, ev StaleEvent) error {
	if !n.Enabled() {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.rdb.Publish(ctx, StaleChannel, string(payload)).Err()
}

// StartStaleSubscriber subscribes to StaleChannel and calls onEvent for each
// well-formed event until ctx is done.
func (n *Notifier) StartStaleSubscriber(ctx context.Context, onEvent func(StaleEvent)) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, StaleChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", StaleChannel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev StaleEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Path == "" {
					middleware.Logger.Warn("invalid stale-view event", slog.String("payload", msg.Payload))
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in stale-view subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onEvent(ev)
				}()
			}
		}
	}()

	return nil
}
