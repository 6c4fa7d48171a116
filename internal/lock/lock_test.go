package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wevoice/wesub-sub003/pkg/models"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewServiceWithClient(client, ttl), mr
}

func TestAcquireAndRelease(t *testing.T) {
	svc, _ := newTestService(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Acquire(ctx, "v1", "en", "u1", "sess-1"))

	holder, err := svc.Holder(ctx, "v1", "en")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "u1", holder.OwnerUser)
	assert.Equal(t, "sess-1", holder.SessionKey)

	require.NoError(t, svc.Release(ctx, "v1", "en", "sess-1"))

	holder, err = svc.Holder(ctx, "v1", "en")
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestAcquireHeldByOtherSession(t *testing.T) {
	svc, _ := newTestService(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Acquire(ctx, "v1", "en", "u1", "sess-1"))

	err := svc.Acquire(ctx, "v1", "en", "u2", "sess-2")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrWritelockHeld)
	assert.Contains(t, err.Error(), "u1")

	// The original holder is untouched
	holder, err := svc.Holder(ctx, "v1", "en")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", holder.SessionKey)
}

func TestAcquireSameSessionRefreshes(t *testing.T) {
	svc, mr := newTestService(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Acquire(ctx, "v1", "en", "u1", "sess-1"))

	mr.FastForward(10 * time.Minute)
	require.NoError(t, svc.Acquire(ctx, "v1", "en", "u1", "sess-1"))

	// TTL went back to the full window
	assert.InDelta(t, (30 * time.Minute).Seconds(), mr.TTL(lockKey("v1", "en")).Seconds(), 1)
}

func TestAcquireAfterExpiry(t *testing.T) {
	svc, mr := newTestService(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Acquire(ctx, "v1", "en", "u1", "sess-1"))

	// The lock expires; the next acquirer takes it without eviction
	mr.FastForward(2 * time.Minute)
	require.NoError(t, svc.Acquire(ctx, "v1", "en", "u2", "sess-2"))

	holder, err := svc.Holder(ctx, "v1", "en")
	require.NoError(t, err)
	assert.Equal(t, "u2", holder.OwnerUser)
}

func TestReleaseOtherSessionIsNoop(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Acquire(ctx, "v1", "en", "u1", "sess-1"))
	require.NoError(t, svc.Release(ctx, "v1", "en", "sess-2"))

	holder, err := svc.Holder(ctx, "v1", "en")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "sess-1", holder.SessionKey)
}

func TestLocksAreIndependentPerLanguage(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Acquire(ctx, "v1", "en", "u1", "sess-1"))
	require.NoError(t, svc.Acquire(ctx, "v1", "fr", "u2", "sess-2"))
	require.NoError(t, svc.Acquire(ctx, "v2", "en", "u3", "sess-3"))
}

func TestIsLocked(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	locked, err := svc.IsLocked(ctx, "v1", "en", "")
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, svc.Acquire(ctx, "v1", "en", "u1", "sess-1"))

	locked, err = svc.IsLocked(ctx, "v1", "en", "sess-1")
	require.NoError(t, err)
	assert.False(t, locked)

	locked, err = svc.IsLocked(ctx, "v1", "en", "sess-2")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestWriteLockIsStale(t *testing.T) {
	now := time.Now()
	lock := &models.WriteLock{AcquiredAt: now.Add(-31 * time.Minute)}

	assert.True(t, lock.IsStale(30*time.Minute, now))
	assert.False(t, lock.IsStale(45*time.Minute, now))
}
