package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResponseKey(t *testing.T) {
	key := ResponseKey("hello")

	require.Equal(t, "response:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", key)
	require.NotEqual(t, key, ResponseKey("hello "))
}

func TestCacheSetGet(t *testing.T) {
	ctx := context.Background()
	svc := NewCacheService(newTestDB(t), discard)
	c := newClock()
	svc.now = c.now

	_, ok, err := svc.Get(ctx, "response:missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.Set(ctx, "response:a", "answer", time.Hour))

	got, ok, err := svc.Get(ctx, "response:a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "answer", got)
}

func TestCacheGetReadsThroughToDatabase(t *testing.T) {
	ctx := context.Background()
	svc := NewCacheService(newTestDB(t), discard)
	c := newClock()
	svc.now = c.now

	require.NoError(t, svc.Set(ctx, "response:a", "answer", time.Hour))
	svc.local.Flush()

	got, ok, err := svc.Get(ctx, "response:a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "answer", got)
}

func TestCacheExpiredEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	svc := NewCacheService(newTestDB(t), discard)
	c := newClock()
	svc.now = c.now

	require.NoError(t, svc.Set(ctx, "response:a", "old", time.Minute))
	c.advance(2 * time.Minute)

	_, ok, err := svc.Get(ctx, "response:a")
	require.NoError(t, err)
	require.False(t, ok)

	// the row is still there and is overwritten in place
	require.NoError(t, svc.Set(ctx, "response:a", "new", time.Minute))

	var count int
	require.NoError(t, svc.db.DB.Get(&count, "SELECT COUNT(*) FROM cache"))
	require.Equal(t, 1, count)

	got, ok, err := svc.Get(ctx, "response:a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", got)
}

func TestCacheDeleteExpired(t *testing.T) {
	ctx := context.Background()
	svc := NewCacheService(newTestDB(t), discard)
	c := newClock()
	svc.now = c.now

	require.NoError(t, svc.Set(ctx, "response:short", "a", time.Minute))
	require.NoError(t, svc.Set(ctx, "response:long", "b", time.Hour))
	c.advance(10 * time.Minute)

	n, err := svc.DeleteExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, ok, err := svc.Get(ctx, "response:long")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	svc := NewCacheService(newTestDB(t), discard)

	require.NoError(t, svc.Set(ctx, "response:a", "a", time.Hour))
	require.NoError(t, svc.Clear(ctx))

	_, ok, err := svc.Get(ctx, "response:a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunJanitorStopsWithContext(t *testing.T) {
	svc := NewCacheService(newTestDB(t), discard)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
