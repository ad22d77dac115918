package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"noticeboard/internal/config"
	"noticeboard/internal/middleware"
	"noticeboard/internal/models"
	"noticeboard/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	tokenIssuer   = "noticeboard-identity"
	tokenAudience = "noticeboard-web"

	confirmTokenTTL = 24 * time.Hour
)

// LocalProvider is a Provider backed by the application database. Session
// tokens are HS256 JWTs; revoked token ids live in Redis, or in process
// memory when Redis is unavailable.
type LocalProvider struct {
	db     *gorm.DB
	rdb    *redis.Client
	mailer Mailer
	secret []byte

	sessionTTL          time.Duration
	resetTTL            time.Duration
	requireConfirmation bool

	now func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewLocalProvider builds a provider from configuration. rdb may be nil.
func NewLocalProvider(db *gorm.DB, rdb *redis.Client, mailer Mailer, cfg *config.Config) *LocalProvider {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &LocalProvider{
		db:                  db,
		rdb:                 rdb,
		mailer:              mailer,
		secret:              []byte(cfg.SessionSecret),
		sessionTTL:          cfg.SessionTTL(),
		resetTTL:            cfg.ResetTokenTTL(),
		requireConfirmation: cfg.IdentityRequireConfirmation,
		now:                 time.Now,
		revoked:             make(map[string]time.Time),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (p *LocalProvider) findByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var ident models.Identity
	err := p.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&ident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internalError(err)
	}
	return &ident, nil
}

func (p *LocalProvider) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	email := normalizeEmail(in.Email)
	if validation.ValidateEmail(email) != nil {
		return nil, ErrInvalidEmail
	}
	if utf8.RuneCountInString(in.Password) < validation.MinPasswordLength {
		return nil, ErrWeakPassword
	}

	existing, err := p.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, internalError(err)
	}

	ident := &models.Identity{
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  in.DisplayName,
	}
	if !p.requireConfirmation {
		now := p.now()
		ident.ConfirmedAt = &now
	}
	if err := p.db.WithContext(ctx).Create(ident).Error; err != nil {
		return nil, internalError(err)
	}

	if p.requireConfirmation {
		if err := p.sendLink(ctx, ident, models.TokenPurposeConfirm, confirmTokenTTL, in.RedirectURL,
			"Confirm your signup", "Follow this link to confirm your account:"); err != nil {
			return nil, err
		}
	}

	return &Account{
		Subject:     ident.ID,
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
		Confirmed:   ident.ConfirmedAt != nil,
	}, nil
}

func (p *LocalProvider) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	ident, err := p.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if p.requireConfirmation && ident.ConfirmedAt == nil {
		return nil, ErrEmailNotConfirmed
	}
	return p.issueSession(ident.ID)
}

// issueSession creates a JWT session token for subject.
func (p *LocalProvider) issueSession(subject string) (*Session, error) {
	if len(p.secret) == 0 {
		return nil, internalError(fmt.Errorf("session secret not configured"))
	}

	now := p.now()
	exp := now.Add(p.sessionTTL)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenAudience},
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, internalError(err)
	}
	return &Session{Token: token, Subject: subject, ExpiresAt: exp}, nil
}

func (p *LocalProvider) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (p *LocalProvider) EndSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := p.parse(token)
	if err != nil || claims.ID == "" {
		return nil
	}

	ttl := claims.ExpiresAt.Sub(p.now())
	if ttl <= 0 {
		return nil
	}

	if p.rdb != nil {
		if err := p.rdb.Set(ctx, "blacklist:"+claims.ID, "1", ttl).Err(); err != nil {
			return internalError(err)
		}
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[claims.ID] = claims.ExpiresAt.Time
	p.pruneRevokedLocked()
	return nil
}

func (p *LocalProvider) pruneRevokedLocked() {
	now := p.now()
	for jti, exp := range p.revoked {
		if !exp.After(now) {
			delete(p.revoked, jti)
		}
	}
}

func (p *LocalProvider) isRevoked(ctx context.Context, jti string) bool {
	if p.rdb != nil {
		n, err := p.rdb.Exists(ctx, "blacklist:"+jti).Result()
		if err != nil {
			middleware.Logger.WarnContext(ctx, "revocation check failed", slog.String("error", err.Error()))
			return false
		}
		return n > 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.revoked[jti]
	return ok
}

func (p *LocalProvider) CurrentSession(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	claims, err := p.parse(token)
	if err != nil || claims.Subject == "" {
		return "", false, nil
	}
	if claims.ID != "" && p.isRevoked(ctx, claims.ID) {
		return "", false, nil
	}
	return claims.Subject, true, nil
}

func (p *LocalProvider) UpdateCredentials(ctx context.Context, subject string, update CredentialsUpdate) error {
	fields := map[string]interface{}{}

	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if validation.ValidateEmail(email) != nil {
			return ErrInvalidEmail
		}
		existing, err := p.findByEmail(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil && existing.ID != subject {
			return ErrEmailTaken
		}
		fields["email"] = email
	}
	if update.Password != nil {
		if utf8.RuneCountInString(*update.Password) < validation.MinPasswordLength {
			return ErrWeakPassword
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*update.Password), bcrypt.DefaultCost)
		if err != nil {
			return internalError(err)
		}
		fields["password_hash"] = string(hash)
	}
	if update.DisplayName != nil {
		fields["display_name"] = *update.DisplayName
	}
	if len(fields) == 0 {
		return nil
	}

	res := p.db.WithContext(ctx).Model(&models.Identity{}).Where("id = ?", subject).Updates(fields)
	if res.Error != nil {
		return internalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUnknownSubject
	}
	return nil
}

func (p *LocalProvider) InitiatePasswordReset(ctx context.Context, email, redirectURL string) error {
	ident, err := p.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if ident == nil {
		// Unknown addresses look the same as known ones to the caller.
		return nil
	}
	return p.sendLink(ctx, ident, models.TokenPurposeRecovery, p.resetTTL, redirectURL,
		"Reset your password", "Follow this link to reset the password for your account:")
}

func (p *LocalProvider) ExchangeToken(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidLink
	}

	var rec models.IdentityToken
	err := p.db.WithContext(ctx).
		Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", hashToken(token), p.now()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidLink
	}
	if err != nil {
		return nil, internalError(err)
	}

	now := p.now()
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.IdentityToken{}).
			Where("id = ? AND used_at IS NULL", rec.ID).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidLink
		}
		if rec.Purpose == models.TokenPurposeConfirm {
			return tx.Model(&models.Identity{}).
				Where("id = ? AND confirmed_at IS NULL", rec.Subject).
				Update("confirmed_at", now).Error
		}
		return nil
	})
	if errors.Is(err, ErrInvalidLink) {
		return nil, ErrInvalidLink
	}
	if err != nil {
		return nil, internalError(err)
	}

	return p.issueSession(rec.Subject)
}

func (p *LocalProvider) sendLink(ctx context.Context, ident *models.Identity, purpose string, ttl time.Duration, redirectURL, subject, intro string) error {
	raw, err := newRawToken()
	if err != nil {
		return internalError(err)
	}

	rec := &models.IdentityToken{
		Subject:   ident.ID,
		Purpose:   purpose,
		TokenHash: hashToken(raw),
		ExpiresAt: p.now().Add(ttl),
	}
	if err := p.db.WithContext(ctx).Create(rec).Error; err != nil {
		return internalError(err)
	}

	link, err := withToken(redirectURL, raw)
	if err != nil {
		return internalError(err)
	}

	if err := p.mailer.Send(ctx, Mail{
		To:      ident.Email,
		Subject: subject,
		Body:    intro + "\n\n" + link + "\n",
	}); err != nil {
		middleware.Logger.ErrorContext(ctx, "failed to send account email",
			slog.String("purpose", purpose),
			slog.String("error", err.Error()),
		)
		return &Error{Message: "Error sending email", Err: err}
	}
	return nil
}

func withToken(redirectURL, token string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func newRawToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
