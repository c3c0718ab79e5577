// Package memory provides in-process implementations of domain cache
// interfaces for single-node deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gavelhq/gavel/internal/domain"
)

// LockManager implements domain.LockManager with a process-local mutex table.
// It provides the same non-blocking Acquire contract as the Redis lock but
// only guards against contention within one process.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

// NewLockManager creates an empty in-process LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]time.Time)}
}

// Acquire takes the lock for key if it is free or its TTL has lapsed. On
// success it returns an unlock function that is safe to call more than once;
// otherwise it returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if expiry, held := lm.locks[key]; held && time.Now().Before(expiry) {
		return nil, domain.ErrLockHeld
	}
	lm.locks[key] = time.Now().Add(ttl)
	token := lm.locks[key]

	released := false
	unlock := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		// Only delete if still our acquisition; a later holder may have
		// re-acquired after the TTL lapsed.
		if expiry, held := lm.locks[key]; held && expiry.Equal(token) {
			delete(lm.locks, key)
		}
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
