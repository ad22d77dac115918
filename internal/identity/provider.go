// Package identity implements the credential provider the board delegates
// registration, sign-in and password recovery to.
package identity

import (
	"context"
	"errors"
	"time"
)

// Provider is the external auth provider contract.
type Provider interface {
	Register(ctx context.Context, in RegisterInput) (*Account, error)
	Authenticate(ctx context.Context, email, password string) (*Session, error)
	EndSession(ctx context.Context, token string) error
	// CurrentSession returns the subject of a valid, unrevoked session token.
	CurrentSession(ctx context.Context, token string) (subject string, ok bool, err error)
	UpdateCredentials(ctx context.Context, subject string, update CredentialsUpdate) error
	InitiatePasswordReset(ctx context.Context, email, redirectURL string) error
	ExchangeToken(ctx context.Context, token string) (*Session, error)
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	// RedirectURL receives the confirmation token as ?token=.
	RedirectURL string
}

// Account is a registered identity.
type Account struct {
	Subject     string
	Email       string
	DisplayName string
	Confirmed   bool
}

// Session is an issued session token.
type Session struct {
	Token     string
	Subject   string
	ExpiresAt time.Time
}

// CredentialsUpdate changes the non-nil fields only.
type CredentialsUpdate struct {
	Email       *string
	Password    *string
	DisplayName *string
}

// Error is a provider failure whose Message is safe to show to users.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Provider failures.
var (
	ErrUserExists         = &Error{Message: "User already registered"}
	ErrEmailTaken         = &Error{Message: "A user with this email address has already been registered"}
	ErrWeakPassword       = &Error{Message: "Password should be at least 6 characters"}
	ErrInvalidEmail       = &Error{Message: "Unable to validate email address: invalid format"}
	ErrInvalidCredentials = &Error{Message: "Invalid login credentials"}
	ErrEmailNotConfirmed  = &Error{Message: "Email not confirmed"}
	ErrInvalidLink        = &Error{Message: "Email link is invalid or has expired"}
	ErrUnknownSubject     = &Error{Message: "User not found"}
)

const unexpectedFailureMessage = "Unexpected failure, please check server logs for more information"

func internalError(err error) *Error {
	return &Error{Message: unexpectedFailureMessage, Err: err}
}

// Message returns the user-facing text of a provider error.
func Message(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Message
	}
	return unexpectedFailureMessage
}
