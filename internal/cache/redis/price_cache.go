package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// priceTTL bounds how long a cached price can outlive its auction. Stale
// entries are also overwritten on every committed bid and invalidated on
// cancellation and close.
const priceTTL = 24 * time.Hour

// PriceCache implements domain.PriceCache using Redis hashes. Each auction's
// current price is stored at key "price:{auctionID}" with fields "price" and
// "ts" (Unix nanosecond timestamp of the commit).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(auctionID string) string {
	return "price:" + auctionID
}

// SetPrice stores the latest committed price and its timestamp for an auction.
func (pc *PriceCache) SetPrice(ctx context.Context, auctionID string, price decimal.Decimal, ts time.Time) error {
	key := priceKey(auctionID)
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", auctionID, err)
	}
	return nil
}

// GetPrice retrieves the cached price and timestamp for an auction. It
// returns domain.ErrNotFound when no entry exists.
func (pc *PriceCache) GetPrice(ctx context.Context, auctionID string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(auctionID)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", auctionID, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", auctionID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", auctionID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Invalidate drops the cached price for an auction. Missing keys are not an
// error.
func (pc *PriceCache) Invalidate(ctx context.Context, auctionID string) error {
	if err := pc.rdb.Del(ctx, priceKey(auctionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate price %s: %w", auctionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
