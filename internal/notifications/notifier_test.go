package notifications

import (
	"context"
	"testing"
	"time"

	"noticeboard/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.PublishStale(context.Background(), StaleEvent{Path: "/protected/posts"}))
	assert.NoError(t, n.StartStaleSubscriber(context.Background(), func(StaleEvent) {}))
}

func TestNotifier_SubscriberStopsOnCancel(t *testing.T) {
	_, rdb := newTestRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan StaleEvent, 4)
	require.NoError(t, n.StartStaleSubscriber(ctx, func(ev StaleEvent) { events <- ev }))

	require.NoError(t, n.PublishStale(context.Background(), StaleEvent{Path: "/protected/posts"}))
	select {
	case ev := <-events:
		assert.Equal(t, "/protected/posts", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	// Malformed payloads are skipped.
	require.NoError(t, rdb.Publish(context.Background(), StaleChannel, "not json").Err())

	cancel()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, n.PublishStale(context.Background(), StaleEvent{Path: "/after-cancel"}))
	assert.Never(t, func() bool {
		select {
		case ev := <-events:
			return ev.Path == "/after-cancel"
		default:
			return false
		}
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestRevalidator_WithRedis(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := cache.NewStore(rdb)
	n := NewNotifier(rdb)
	hub := NewLiveHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, hub.StartWiring(ctx, n))

	watcher, err := hub.Register("/protected/posts/p1", nil)
	require.NoError(t, err)

	r := NewRevalidator(store, n, hub)
	require.NoError(t, r.Revalidate(context.Background(), "/protected/posts/p1"))

	got, err := mr.Get(cache.ViewVersionKey("/protected/posts/p1"))
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	assert.Eventually(t, func() bool { return len(watcher.Send) == 1 }, time.Second, 10*time.Millisecond)
}

func TestRevalidator_WithoutRedisDeliversLocally(t *testing.T) {
	hub := NewLiveHub()
	watcher, err := hub.Register("/protected/profile/edit", nil)
	require.NoError(t, err)

	r := NewRevalidator(cache.NewStore(nil), NewNotifier(nil), hub)
	require.NoError(t, r.Revalidate(context.Background(), "/protected/profile/edit"))

	assert.Len(t, watcher.Send, 1)
}
