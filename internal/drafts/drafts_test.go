package drafts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signUpDraft struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(rdb),
	}
}

func TestManager_RoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(store, time.Minute)
			ctx := WithSessionID(context.Background(), "sid-1")

			in := signUpDraft{Email: "a@example.com", Password: "secret1", Name: "Alice"}
			require.NoError(t, m.Stage(ctx, KindSignUp, "", in))

			var out signUpDraft
			owner, err := m.Read(ctx, KindSignUp, &out)
			require.NoError(t, err)
			assert.Equal(t, "", owner)
			assert.Equal(t, in, out)

			require.NoError(t, m.Discard(ctx, KindSignUp))
			_, err = m.Read(ctx, KindSignUp, &out)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute)
	a := WithSessionID(context.Background(), "sid-a")
	b := WithSessionID(context.Background(), "sid-b")

	require.NoError(t, m.Stage(a, KindProfile, "u1", map[string]string{"name": "A"}))

	var out map[string]string
	_, err := m.Read(b, KindProfile, &out)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Discard(b, KindProfile))
	_, err = m.Read(a, KindProfile, &out)
	assert.NoError(t, err)
}

func TestManager_NoSession(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute)
	assert.ErrorIs(t, m.Stage(context.Background(), KindSignUp, "", signUpDraft{}), ErrNoSession)
	_, err := m.Read(context.Background(), KindSignUp, &signUpDraft{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_OwnerMismatchDiscards(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, time.Minute)
	ctx := WithSessionID(context.Background(), "sid-1")

	require.NoError(t, m.Stage(ctx, KindProfile, "owner", map[string]string{"name": "A"}))

	var out map[string]string
	err := m.ReadOwned(ctx, KindProfile, "intruder", &out)
	assert.ErrorIs(t, err, ErrOwnerMismatch)
	assert.Equal(t, 0, store.Len())

	err = m.ReadOwned(ctx, KindProfile, "owner", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_CorruptEnvelope(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: "{garbage"},
		{name: "wrong version", raw: `{"version":99,"kind":"sign_up","payload":{},"expires_at":"2999-01-01T00:00:00Z"}`},
		{name: "wrong kind", raw: `{"version":1,"kind":"profile","payload":{},"expires_at":"2999-01-01T00:00:00Z"}`},
		{name: "bad payload", raw: `{"version":1,"kind":"sign_up","payload":"text","expires_at":"2999-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			m := NewManager(store, time.Minute)
			ctx := WithSessionID(context.Background(), "sid-1")
			require.NoError(t, store.Set(ctx, Key("sid-1", KindSignUp), []byte(tt.raw), time.Minute))

			var out signUpDraft
			_, err := m.Read(ctx, KindSignUp, &out)
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestManager_EnvelopeExpiry(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, time.Minute)
	ctx := WithSessionID(context.Background(), "sid-1")
	require.NoError(t, m.Stage(ctx, KindSignUp, "", signUpDraft{Email: "a@example.com"}))

	// The envelope deadline applies even if the store still holds the key.
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err := m.Read(ctx, KindSignUp, &signUpDraft{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_EvictExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "short", []byte("a"), time.Second))
	require.NoError(t, store.Set(ctx, "long", []byte("b"), time.Hour))

	store.now = func() time.Time { return time.Now().Add(time.Minute) }
	assert.Equal(t, 1, store.EvictExpired())
	assert.Equal(t, 1, store.Len())

	_, err := store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
	b, err := store.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), b)
}

func TestRedisStore_UsesNativeTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	m := NewManager(NewRedisStore(rdb), DefaultTTL)
	ctx := WithSessionID(context.Background(), "sid-9")
	require.NoError(t, m.Stage(ctx, KindSignUp, "", signUpDraft{Email: "a@example.com"}))

	key := Key("sid-9", KindSignUp)
	assert.Equal(t, DefaultTTL, mr.TTL(key))

	mr.FastForward(DefaultTTL + time.Second)
	_, err = m.Read(ctx, KindSignUp, &signUpDraft{})
	assert.ErrorIs(t, err, ErrNotFound)
}
