package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"noticeboard/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// Store wraps a Redis client with JSON cache-aside helpers. A Store with a
// nil client is valid and caches nothing.
type Store struct {
	rdb *redis.Client
}

// NewStore returns a Store backed by rdb, which may be nil.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Client returns the underlying Redis client, or nil.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.rdb
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if s.Client() == nil {
		return false, nil
	}
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if s.Client() == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, ttl).Err()
}

// Aside tries Redis first; on a miss it calls fetch, which must populate
// dest, then stores dest with ttl. Cache failures fall through to fetch and
// are only logged.
func (s *Store) Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	found, err := s.GetJSON(ctx, key, dest)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	if found {
		return nil
	}

	if err := fetch(); err != nil {
		return err
	}

	if err := s.SetJSON(ctx, key, dest, ttl); err != nil {
		middleware.Logger.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

// Invalidate removes keys, ignoring errors.
func (s *Store) Invalidate(ctx context.Context, keys ...string) {
	if s.Client() == nil || len(keys) == 0 {
		return
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		middleware.Logger.WarnContext(ctx, "cache invalidation failed", slog.Any("keys", keys), slog.String("error", err.Error()))
	}
}

// InvalidateUserSubject drops the cached profile for an identity subject.
func (s *Store) InvalidateUserSubject(ctx context.Context, subject string) {
	s.Invalidate(ctx, UserSubjectKey(subject))
}

// ViewVersion returns the current version of the view at path. Cached read
// models embed the version in their keys so bumping it retires them.
func (s *Store) ViewVersion(ctx context.Context, path string) int64 {
	if s.Client() == nil {
		return 0
	}
	v, err := s.rdb.Get(ctx, ViewVersionKey(path)).Int64()
	if err != nil {
		return 0
	}
	return v
}

// BumpView advances the version of the view at path.
func (s *Store) BumpView(ctx context.Context, path string) (int64, error) {
	if s.Client() == nil {
		return 0, nil
	}
	return s.rdb.Incr(ctx, ViewVersionKey(path)).Result()
}
