// Package auth resolves the caller's identity-provider session to a local
// user profile.
package auth

import (
	"context"

	"noticeboard/internal/models"
)

type contextKey int

const sessionTokenKey contextKey = iota

// WithSessionToken returns a context carrying the caller's session token.
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionTokenKey, token)
}

// SessionToken returns the session token stored in ctx, if any.
func SessionToken(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenKey).(string)
	return token
}

// SessionResolver validates session tokens.
type SessionResolver interface {
	CurrentSession(ctx context.Context, token string) (subject string, ok bool, err error)
}

// ProfileLookup finds the local profile linked to a provider subject.
type ProfileLookup interface {
	GetByAuthSubject(ctx context.Context, subject string) (*models.UserProfile, error)
}

// Bridge is the single source of truth for who is acting.
type Bridge struct {
	sessions SessionResolver
	profiles ProfileLookup
}

// NewBridge returns a Bridge over the given provider and profile store.
func NewBridge(sessions SessionResolver, profiles ProfileLookup) *Bridge {
	return &Bridge{sessions: sessions, profiles: profiles}
}

// CurrentSubject returns the provider subject of the caller's session.
func (b *Bridge) CurrentSubject(ctx context.Context) (string, bool, error) {
	return b.sessions.CurrentSession(ctx, SessionToken(ctx))
}

// CurrentUser returns the caller's profile. It returns nil, nil when there
// is no valid session or no profile linked to it; inactive profiles are
// returned as-is so callers can decide.
func (b *Bridge) CurrentUser(ctx context.Context) (*models.UserProfile, error) {
	subject, ok, err := b.CurrentSubject(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return b.profiles.GetByAuthSubject(ctx, subject)
}
