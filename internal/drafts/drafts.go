// Package drafts stores short-lived staged form data, such as a pending
// sign-up or profile edit, keyed by a per-browser draft session id.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"noticeboard/internal/middleware"
	"noticeboard/internal/observability"
)

// Kind names a draft flow.
type Kind string

// Draft kinds.
const (
	KindSignUp  Kind = "sign_up"
	KindProfile Kind = "profile"
)

// DefaultTTL is how long a staged draft stays readable.
const DefaultTTL = 10 * time.Minute

const envelopeVersion = 1

var (
	// ErrNotFound is returned for absent or expired drafts.
	ErrNotFound = errors.New("draft not found")
	// ErrCorrupt is returned for drafts that cannot be decoded.
	ErrCorrupt = errors.New("draft corrupt")
	// ErrOwnerMismatch is returned when a draft belongs to another user.
	ErrOwnerMismatch = errors.New("draft owner mismatch")
	// ErrNoSession is returned when the context carries no draft session id.
	ErrNoSession = errors.New("no draft session")
)

// Store is a byte store with per-key expiry.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns ErrNotFound for absent or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Envelope is the stored form of a draft.
type Envelope struct {
	Version   int             `json:"version"`
	Kind      Kind            `json:"kind"`
	OwnerID   string          `json:"owner_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Key returns the storage key of a draft.
func Key(sessionID string, kind Kind) string {
	return fmt.Sprintf("draft:%s:%s", sessionID, kind)
}

type contextKey int

const sessionIDKey contextKey = iota

// WithSessionID returns a context carrying the draft session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID returns the draft session id stored in ctx, if any.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// Manager stages and reads typed drafts for the session in the context.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager returns a Manager writing drafts that live for ttl.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

func (m *Manager) key(ctx context.Context, kind Kind) (string, error) {
	sid := SessionID(ctx)
	if sid == "" {
		return "", ErrNoSession
	}
	return Key(sid, kind), nil
}

// Stage replaces the caller's draft of kind with payload.
func (m *Manager) Stage(ctx context.Context, kind Kind, ownerID string, payload any) error {
	key, err := m.key(ctx, kind)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{
		Version:   envelopeVersion,
		Kind:      kind,
		OwnerID:   ownerID,
		Payload:   raw,
		ExpiresAt: m.now().Add(m.ttl),
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, b, m.ttl)
}

// Read decodes the caller's draft of kind into dest and returns its owner
// id. Expired and undecodable drafts are discarded.
func (m *Manager) Read(ctx context.Context, kind Kind, dest any) (string, error) {
	key, err := m.key(ctx, kind)
	if err != nil {
		return "", err
	}
	b, err := m.store.Get(ctx, key)
	if err != nil {
		return "", err
	}

	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil || env.Version != envelopeVersion || env.Kind != kind {
		m.evict(ctx, key, kind, "corrupt")
		return "", ErrCorrupt
	}
	if !env.ExpiresAt.After(m.now()) {
		m.evict(ctx, key, kind, "expired")
		return "", ErrNotFound
	}
	if err := json.Unmarshal(env.Payload, dest); err != nil {
		m.evict(ctx, key, kind, "corrupt")
		return "", ErrCorrupt
	}
	return env.OwnerID, nil
}

// ReadOwned is Read for drafts bound to ownerID. A draft staged by anyone
// else is discarded and reported as ErrOwnerMismatch.
func (m *Manager) ReadOwned(ctx context.Context, kind Kind, ownerID string, dest any) error {
	owner, err := m.Read(ctx, kind, dest)
	if err != nil {
		return err
	}
	if owner != ownerID {
		key, _ := m.key(ctx, kind)
		m.evict(ctx, key, kind, "owner_mismatch")
		return ErrOwnerMismatch
	}
	return nil
}

// Discard deletes the caller's draft of kind.
func (m *Manager) Discard(ctx context.Context, kind Kind) error {
	key, err := m.key(ctx, kind)
	if err != nil {
		return err
	}
	return m.store.Delete(ctx, key)
}

func (m *Manager) evict(ctx context.Context, key string, kind Kind, reason string) {
	observability.DraftEvictions.WithLabelValues(string(kind), reason).Inc()
	if err := m.store.Delete(ctx, key); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to evict draft",
			slog.String("kind", string(kind)),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}
