package identity

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"noticeboard/internal/config"
	"noticeboard/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Mail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, mail Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mail)
	return nil
}

func (m *recordingMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	body := m.sent[len(m.sent)-1].Body
	for _, line := range strings.Split(body, "\n") {
		if u, err := url.Parse(strings.TrimSpace(line)); err == nil && u.Query().Get("token") != "" {
			return u.Query().Get("token")
		}
	}
	t.Fatalf("no token link in %q", body)
	return ""
}

func testConfig(requireConfirmation bool) *config.Config {
	return &config.Config{
		SessionSecret:               "test-secret-that-is-long-enough-for-hs256",
		SessionTTLHours:             1,
		ResetTokenTTLMinutes:        30,
		IdentityRequireConfirmation: requireConfirmation,
	}
}

func setupProvider(t *testing.T, requireConfirmation bool, withRedis bool) (*LocalProvider, *recordingMailer, *miniredis.Miniredis) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Identity{}, &models.IdentityToken{}))

	var rdb *redis.Client
	var mr *miniredis.Miniredis
	if withRedis {
		mr, err = miniredis.Run()
		require.NoError(t, err)
		t.Cleanup(mr.Close)
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
	}

	mailer := &recordingMailer{}
	return NewLocalProvider(db, rdb, mailer, testConfig(requireConfirmation)), mailer, mr
}

func TestRegister_Validation(t *testing.T) {
	p, _, _ := setupProvider(t, false, false)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      RegisterInput
		wantErr *Error
	}{
		{name: "bad email", in: RegisterInput{Email: "nope", Password: "secret1"}, wantErr: ErrInvalidEmail},
		{name: "short password", in: RegisterInput{Email: "a@example.com", Password: "12345"}, wantErr: ErrWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Register(ctx, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantErr.Message, Message(err))
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	p, _, _ := setupProvider(t, false, false)
	ctx := context.Background()

	_, err := p.Register(ctx, RegisterInput{Email: "a@example.com", Password: "secret1", DisplayName: "A"})
	require.NoError(t, err)

	_, err = p.Register(ctx, RegisterInput{Email: "A@Example.com ", Password: "secret1"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestAuthenticate_WithoutConfirmation(t *testing.T) {
	p, mailer, _ := setupProvider(t, false, false)
	ctx := context.Background()

	acct, err := p.Register(ctx, RegisterInput{Email: "a@example.com", Password: "secret1", DisplayName: "A"})
	require.NoError(t, err)
	assert.True(t, acct.Confirmed)
	assert.Empty(t, mailer.sent)

	_, err = p.Authenticate(ctx, "a@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = p.Authenticate(ctx, "missing@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	sess, err := p.Authenticate(ctx, "a@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, acct.Subject, sess.Subject)

	subject, ok, err := p.CurrentSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, acct.Subject, subject)
}

func TestConfirmationFlow(t *testing.T) {
	p, mailer, _ := setupProvider(t, true, false)
	ctx := context.Background()

	acct, err := p.Register(ctx, RegisterInput{
		Email:       "c@example.com",
		Password:    "secret1",
		DisplayName: "C",
		RedirectURL: "http://localhost:8375/auth/callback?redirect_to=/protected/posts",
	})
	require.NoError(t, err)
	assert.False(t, acct.Confirmed)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "c@example.com", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Body, "redirect_to=%2Fprotected%2Fposts")

	_, err = p.Authenticate(ctx, "c@example.com", "secret1")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)

	token := mailer.lastToken(t)
	sess, err := p.ExchangeToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, acct.Subject, sess.Subject)

	// Tokens are single use.
	_, err = p.ExchangeToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidLink)

	_, err = p.Authenticate(ctx, "c@example.com", "secret1")
	assert.NoError(t, err)
}

func TestExchangeToken_Expired(t *testing.T) {
	p, mailer, _ := setupProvider(t, false, false)
	ctx := context.Background()

	_, err := p.Register(ctx, RegisterInput{Email: "r@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, p.InitiatePasswordReset(ctx, "r@example.com", "http://localhost/auth/callback"))
	token := mailer.lastToken(t)

	p.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	_, err = p.ExchangeToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidLink)
}

func TestInitiatePasswordReset_UnknownEmailIsSilent(t *testing.T) {
	p, mailer, _ := setupProvider(t, false, false)

	require.NoError(t, p.InitiatePasswordReset(context.Background(), "ghost@example.com", "http://localhost/auth/callback"))
	assert.Empty(t, mailer.sent)
}

func TestInitiatePasswordReset_MailFailure(t *testing.T) {
	p, mailer, _ := setupProvider(t, false, false)
	ctx := context.Background()
	_, err := p.Register(ctx, RegisterInput{Email: "m@example.com", Password: "secret1"})
	require.NoError(t, err)

	mailer.err = errors.New("smtp down")
	err = p.InitiatePasswordReset(ctx, "m@example.com", "http://localhost/auth/callback")
	assert.Equal(t, "Error sending email", Message(err))
}

func TestUpdateCredentials(t *testing.T) {
	p, _, _ := setupProvider(t, false, false)
	ctx := context.Background()

	a, err := p.Register(ctx, RegisterInput{Email: "a@example.com", Password: "secret1", DisplayName: "A"})
	require.NoError(t, err)
	_, err = p.Register(ctx, RegisterInput{Email: "b@example.com", Password: "secret1", DisplayName: "B"})
	require.NoError(t, err)

	taken := "b@example.com"
	err = p.UpdateCredentials(ctx, a.Subject, CredentialsUpdate{Email: &taken})
	assert.ErrorIs(t, err, ErrEmailTaken)

	newEmail := "a2@example.com"
	newName := "A2"
	newPassword := "another1"
	require.NoError(t, p.UpdateCredentials(ctx, a.Subject, CredentialsUpdate{
		Email:       &newEmail,
		DisplayName: &newName,
		Password:    &newPassword,
	}))

	_, err = p.Authenticate(ctx, "a@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	sess, err := p.Authenticate(ctx, "a2@example.com", "another1")
	require.NoError(t, err)
	assert.Equal(t, a.Subject, sess.Subject)

	assert.ErrorIs(t, p.UpdateCredentials(ctx, "ghost", CredentialsUpdate{DisplayName: &newName}), ErrUnknownSubject)
}

func TestEndSession(t *testing.T) {
	for _, withRedis := range []bool{true, false} {
		name := "memory"
		if withRedis {
			name = "redis"
		}
		t.Run(name, func(t *testing.T) {
			p, _, mr := setupProvider(t, false, withRedis)
			ctx := context.Background()

			_, err := p.Register(ctx, RegisterInput{Email: "s@example.com", Password: "secret1"})
			require.NoError(t, err)
			sess, err := p.Authenticate(ctx, "s@example.com", "secret1")
			require.NoError(t, err)

			require.NoError(t, p.EndSession(ctx, sess.Token))
			_, ok, err := p.CurrentSession(ctx, sess.Token)
			require.NoError(t, err)
			assert.False(t, ok)

			if mr != nil {
				keys := mr.Keys()
				require.Len(t, keys, 1)
				assert.True(t, strings.HasPrefix(keys[0], "blacklist:"))
			}
		})
	}
}

func TestCurrentSession_RejectsForeignTokens(t *testing.T) {
	p, _, _ := setupProvider(t, false, false)
	ctx := context.Background()

	other := NewLocalProvider(p.db, nil, nil, &config.Config{SessionSecret: "a-different-secret", SessionTTLHours: 1})
	sess, err := other.issueSession("someone")
	require.NoError(t, err)

	_, ok, err := p.CurrentSession(ctx, sess.Token)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = p.CurrentSession(ctx, "garbage")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, p.EndSession(ctx, "garbage"))
}

func TestCurrentSession_Expired(t *testing.T) {
	p, _, _ := setupProvider(t, false, false)
	sess, err := p.issueSession("subject-1")
	require.NoError(t, err)

	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok, err := p.CurrentSession(context.Background(), sess.Token)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Invalid login credentials", Message(ErrInvalidCredentials))
	assert.Equal(t, unexpectedFailureMessage, Message(errors.New("db exploded")))
	assert.Equal(t, unexpectedFailureMessage, Message(internalError(errors.New("db exploded"))))
}
