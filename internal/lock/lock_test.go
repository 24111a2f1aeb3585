package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_Exclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second lock must fail while first is held")

	_, ok, err = l.TryLock(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different keys are independent")

	release()

	_, ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock must be free after release")
}

func TestLocalLocker_Expires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.now = func() time.Time { return now }

	oldRelease, ok, _ := l.TryLock(context.Background(), "sweep", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.TryLock(context.Background(), "sweep", time.Minute)
	require.True(t, ok, "expired lock can be taken over")

	oldRelease()
	_, ok, _ = l.TryLock(context.Background(), "sweep", time.Minute)
	assert.False(t, ok, "stale release must not free the new holder's lock")
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}

	ctx := context.Background()
	client, err := Connect(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	l := NewRedisLocker(client)
	key := "test-" + time.Now().Format("150405.000000")

	release, ok, err := l.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	release()

	release, ok, err = l.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}
