package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/models"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), testSessionConfig())
	require.NoError(t, err)
	t.Cleanup(store.Stop)
	return store, mr
}

func TestRedisStore_CreateAndGet(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, models.CreateSessionRequest{UserID: "user-1"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, models.SessionStatusIdle, got.Status)
}

func TestRedisStore_GetUnknown(t *testing.T) {
	store, _ := newRedisTestStore(t)

	_, err := store.Get(context.Background(), "no-such-session")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSessionNotFound, apperrors.KindOf(err))
}

func TestRedisStore_MessagesRoundTrip(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, models.CreateSessionRequest{})
	require.NoError(t, err)

	require.NoError(t, store.AppendMessage(ctx, sess.ID, models.Message{
		Role:    models.RoleUser,
		Content: "first",
	}))
	require.NoError(t, store.AppendMessage(ctx, sess.ID, models.Message{
		Role:    models.RoleAgent,
		Content: "second",
	}))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "first", got.Messages[0].Content)
	assert.Equal(t, models.RoleAgent, got.Messages[1].Role)
	assert.NotEmpty(t, got.Messages[0].ID, "every appended message gets an id")
	assert.NotEqual(t, got.Messages[0].ID, got.Messages[1].ID)
}

func TestRedisStore_MessageLogTrimming(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, models.CreateSessionRequest{})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, store.AppendMessage(ctx, sess.ID, models.Message{
			Role:    models.RoleUser,
			Content: string(rune('a' + i)),
		}))
	}

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "c", got.Messages[0].Content)
}

func TestRedisStore_EventCursors(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, models.CreateSessionRequest{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.EnqueueEvent(ctx, sess.ID, models.EventTypeStatus, nil)
		require.NoError(t, err)
	}

	events, cursor, err := store.DequeueEvents(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), cursor)

	_, err = store.EnqueueEvent(ctx, sess.ID, models.EventTypeMessage, nil)
	require.NoError(t, err)

	events, cursor, err = store.DequeueEvents(ctx, sess.ID, cursor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(4), cursor)
}

func TestRedisStore_OverflowEmitsBackpressure(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testSessionConfig()
	cfg.EventQueueCapacity = 3
	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), cfg)
	require.NoError(t, err)
	t.Cleanup(store.Stop)
	ctx := context.Background()

	sess, err := store.Create(ctx, models.CreateSessionRequest{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.EnqueueEvent(ctx, sess.ID, models.EventTypeStatus, map[string]any{"n": i})
		require.NoError(t, err)
	}

	events, _, err := store.DequeueEvents(ctx, sess.ID, 0)
	require.NoError(t, err)

	var sawBackpressure bool
	var ns []float64
	for _, e := range events {
		switch e.Type {
		case models.EventTypeBackpressure:
			sawBackpressure = true
		case models.EventTypeStatus:
			if n, ok := e.Payload["n"].(float64); ok {
				ns = append(ns, n)
			}
		}
	}
	assert.True(t, sawBackpressure)
	assert.NotContains(t, ns, float64(0), "oldest event should have been dropped")
	assert.Contains(t, ns, float64(4))
}

func TestRedisStore_DequeueWakesOnPublish(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, models.CreateSessionRequest{})
	require.NoError(t, err)

	done := make(chan []models.Event, 1)
	go func() {
		events, _, err := store.DequeueEvents(ctx, sess.ID, 0)
		if err == nil {
			done <- events
		}
	}()

	// Give the reader time to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	_, err = store.EnqueueEvent(ctx, sess.ID, models.EventTypeStatus, nil)
	require.NoError(t, err)

	select {
	case events := <-done:
		require.Len(t, events, 1)
		assert.Equal(t, models.EventTypeStatus, events[0].Type)
	case <-time.After(3 * time.Second):
		t.Fatal("dequeue did not wake after publish")
	}
}

func TestRedisStore_CloseSemantics(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, models.CreateSessionRequest{})
	require.NoError(t, err)

	require.NoError(t, store.Close(ctx, sess.ID))
	require.NoError(t, store.Close(ctx, sess.ID), "close must be idempotent")

	events, cursor, err := store.DequeueEvents(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeClosed, events[0].Type)

	_, _, err = store.DequeueEvents(ctx, sess.ID, cursor)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSessionClosed, apperrors.KindOf(err))

	err = store.AppendMessage(ctx, sess.ID, models.Message{Role: models.RoleUser, Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSessionClosed, apperrors.KindOf(err))
}

func TestRedisStore_ExpiredKeysLookAbsent(t *testing.T) {
	store, mr := newRedisTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, models.CreateSessionRequest{})
	require.NoError(t, err)

	// Idle expiry is enforced by key TTLs.
	mr.FastForward(2 * time.Hour)

	_, err = store.Get(ctx, sess.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSessionNotFound, apperrors.KindOf(err))
}
