package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/domain"
)

func TestLockManagerAcquireRelease(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "auction:a1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "auction:a1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	// A different key is independent.
	unlock2, err := lm.Acquire(ctx, "auction:a2", time.Minute)
	require.NoError(t, err)
	unlock2()

	unlock()

	unlock3, err := lm.Acquire(ctx, "auction:a1", time.Minute)
	require.NoError(t, err)
	unlock3()
}

func TestLockManagerUnlockIdempotent(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "auction:a1", time.Minute)
	require.NoError(t, err)

	unlock()
	unlock()

	_, err = lm.Acquire(ctx, "auction:a1", time.Minute)
	assert.NoError(t, err)
}

func TestLockManagerTTLExpiry(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	staleUnlock, err := lm.Acquire(ctx, "auction:a1", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	// The lapsed lock no longer blocks a new holder.
	unlock, err := lm.Acquire(ctx, "auction:a1", time.Minute)
	require.NoError(t, err)

	// The stale holder's unlock must not release the new acquisition.
	staleUnlock()
	_, err = lm.Acquire(ctx, "auction:a1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
}
