package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest committed price per auction.
// It is advisory: the store remains the source of truth.
type PriceCache interface {
	SetPrice(ctx context.Context, auctionID string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, auctionID string) (decimal.Decimal, time.Time, error)
	Invalidate(ctx context.Context, auctionID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides the per-auction critical section. Acquire is
// non-blocking: it returns ErrLockHeld when another holder owns the key, and
// on success an unlock function that is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Signal is a single message delivered off the bus: the concrete channel it
// arrived on plus the raw payload. Subscriptions made with a glob pattern
// still report the concrete channel, not the pattern.
type Signal struct {
	Channel string
	Payload []byte
}

// SignalBus provides pub/sub fan-out of marketplace events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan Signal, error)
}
