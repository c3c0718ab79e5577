// Package auction implements the bidding engine and the auction closer: bid
// admission, bid cancellation, and the time-driven sweep that ends auctions
// and picks winners.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// lockPollInterval is how often an admission retries a held per-auction lock
// while its wait budget lasts.
const lockPollInterval = 10 * time.Millisecond

// Engine admits and cancels bids. All ledger writes happen inside the
// per-auction critical section; cache updates, audit rows, and event fan-out
// happen after the lock is released so a slow subscriber cannot extend the
// critical section.
type Engine struct {
	auctions domain.AuctionStore
	bids     domain.BidLedger
	locks    domain.LockManager
	sink     domain.EventSink
	logger   *slog.Logger

	cache   domain.PriceCache
	limiter domain.RateLimiter
	audit   domain.AuditStore

	lockWait      time.Duration
	lockTTL       time.Duration
	bidRateLimit  int
	bidRateWindow time.Duration

	now func() time.Time
}

// NewEngine creates a bidding engine over the given stores. The lock wait
// bounds how long an operation queues for a contended auction before failing
// as busy; the TTL is the lease on the lock itself and must exceed the wait.
func NewEngine(
	auctions domain.AuctionStore,
	bids domain.BidLedger,
	locks domain.LockManager,
	sink domain.EventSink,
	lockWait, lockTTL time.Duration,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		auctions: auctions,
		bids:     bids,
		locks:    locks,
		sink:     sink,
		logger:   logger.With(slog.String("component", "engine")),
		lockWait: lockWait,
		lockTTL:  lockTTL,
		now:      time.Now,
	}
}

// SetPriceCache enables best-effort current-price caching after commits.
func (e *Engine) SetPriceCache(cache domain.PriceCache) {
	e.cache = cache
}

// SetRateLimiter enables per-bidder admission throttling.
func (e *Engine) SetRateLimiter(limiter domain.RateLimiter, limit int, window time.Duration) {
	e.limiter = limiter
	e.bidRateLimit = limit
	e.bidRateWindow = window
}

// SetAuditStore enables audit rows for admissions and cancellations.
func (e *Engine) SetAuditStore(audit domain.AuditStore) {
	e.audit = audit
}

// PlaceBid validates and commits a bid against an auction. Admission checks
// run in a fixed order so a request failing several at once reports a stable
// error: unknown auction, closed bidding window, amount not strictly above
// the current price (ties lose), then seller bidding on their own listing.
// Contended auctions are retried until the lock wait lapses, then fail with
// ErrBusy.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (domain.Bid, error) {
	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, "bid:"+bidderID, e.bidRateLimit, e.bidRateWindow)
		if err != nil {
			return domain.Bid{}, fmt.Errorf("auction: rate limit check: %w", err)
		}
		if !allowed {
			return domain.Bid{}, domain.ErrRateLimited
		}
	}

	unlock, err := e.acquire(ctx, auctionID)
	if err != nil {
		return domain.Bid{}, err
	}

	bid, err := e.placeBidLocked(ctx, auctionID, bidderID, amount)
	unlock()
	if err != nil {
		return domain.Bid{}, err
	}

	e.afterCommit(ctx, bid.AuctionID, bid.Amount, bid.BidTime)
	e.auditLog(ctx, "bid_placed", map[string]any{
		"auction_id": bid.AuctionID,
		"bid_id":     bid.ID,
		"bidder_id":  bid.BidderID,
		"amount":     bid.Amount.String(),
	})
	e.sink.BidPlaced(ctx, domain.BidPlacedEvent{
		AuctionID: bid.AuctionID,
		BidID:     bid.ID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		BidTime:   bid.BidTime,
	})

	e.logger.Info("bid placed",
		"auction_id", bid.AuctionID,
		"bid_id", bid.ID,
		"bidder_id", bid.BidderID,
		"amount", bid.Amount.String())
	return bid, nil
}

func (e *Engine) placeBidLocked(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (domain.Bid, error) {
	a, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Bid{}, err
	}
	if !a.BiddingOpen(e.now()) {
		return domain.Bid{}, domain.ErrAuctionClosed
	}
	if !amount.GreaterThan(a.CurrentPrice) {
		return domain.Bid{}, fmt.Errorf("amount %s vs current %s: %w",
			amount.String(), a.CurrentPrice.String(), domain.ErrBidTooLow)
	}
	if bidderID == a.SellerID {
		return domain.Bid{}, domain.ErrSelfBid
	}

	bid := domain.Bid{
		ID:        uuid.New().String(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Status:    domain.BidStatusActive,
		BidTime:   e.now().UTC(),
	}
	if err := e.bids.Append(ctx, bid, a.Version); err != nil {
		return domain.Bid{}, fmt.Errorf("auction: append bid: %w", err)
	}
	return bid, nil
}

// CancelBid withdraws an active bid. Only the bid's owner may cancel, and
// only while the auction's bidding window is still open. The auction's
// current price is recomputed from the remaining active bids, falling back to
// the starting price when none remain.
func (e *Engine) CancelBid(ctx context.Context, bidID, requesterID string) (domain.Bid, error) {
	bid, err := e.bids.GetByID(ctx, bidID)
	if err != nil {
		return domain.Bid{}, err
	}
	if bid.BidderID != requesterID {
		return domain.Bid{}, domain.ErrUnauthorized
	}

	unlock, err := e.acquire(ctx, bid.AuctionID)
	if err != nil {
		return domain.Bid{}, err
	}

	bid, newPrice, err := e.cancelBidLocked(ctx, bidID)
	unlock()
	if err != nil {
		return domain.Bid{}, err
	}

	e.afterCommit(ctx, bid.AuctionID, newPrice, e.now())
	e.auditLog(ctx, "bid_cancelled", map[string]any{
		"auction_id": bid.AuctionID,
		"bid_id":     bid.ID,
		"bidder_id":  bid.BidderID,
		"new_price":  newPrice.String(),
	})
	e.sink.BidCancelled(ctx, domain.BidCancelledEvent{
		AuctionID:    bid.AuctionID,
		BidID:        bid.ID,
		CurrentPrice: newPrice,
		CancelledAt:  e.now().UTC(),
	})

	e.logger.Info("bid cancelled",
		"auction_id", bid.AuctionID,
		"bid_id", bid.ID,
		"new_price", newPrice.String())
	return bid, nil
}

func (e *Engine) cancelBidLocked(ctx context.Context, bidID string) (domain.Bid, decimal.Decimal, error) {
	bid, err := e.bids.GetByID(ctx, bidID)
	if err != nil {
		return domain.Bid{}, decimal.Zero, err
	}
	if bid.Status != domain.BidStatusActive {
		return domain.Bid{}, decimal.Zero, domain.ErrNotFound
	}

	a, err := e.auctions.GetByID(ctx, bid.AuctionID)
	if err != nil {
		return domain.Bid{}, decimal.Zero, err
	}
	// Once the window closes the ledger is frozen for the winner pick.
	if !a.BiddingOpen(e.now()) {
		return domain.Bid{}, decimal.Zero, domain.ErrAuctionClosed
	}

	active, err := e.bids.ListActive(ctx, bid.AuctionID)
	if err != nil {
		return domain.Bid{}, decimal.Zero, fmt.Errorf("auction: list active bids: %w", err)
	}
	remaining := make([]domain.Bid, 0, len(active))
	for _, b := range active {
		if b.ID != bidID {
			remaining = append(remaining, b)
		}
	}

	newPrice := a.StartingPrice
	if best, ok := domain.HighestActive(remaining); ok {
		newPrice = best.Amount
	}

	if err := e.bids.MarkCancelled(ctx, bidID, newPrice, a.Version); err != nil {
		return domain.Bid{}, decimal.Zero, fmt.Errorf("auction: cancel bid: %w", err)
	}

	bid.Status = domain.BidStatusCancelled
	now := e.now().UTC()
	bid.CancelledAt = &now
	return bid, newPrice, nil
}

func (e *Engine) acquire(ctx context.Context, auctionID string) (func(), error) {
	return acquireLock(ctx, e.locks, auctionID, e.lockTTL, e.lockWait, e.now)
}

// acquireLock takes the per-auction lock, polling while the wait budget
// lasts, then fails with ErrBusy.
func acquireLock(
	ctx context.Context,
	locks domain.LockManager,
	auctionID string,
	ttl, wait time.Duration,
	now func() time.Time,
) (func(), error) {
	deadline := now().Add(wait)
	for {
		unlock, err := locks.Acquire(ctx, "auction:"+auctionID, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("auction: acquire lock %s: %w", auctionID, err)
		}
		if !now().Add(lockPollInterval).Before(deadline) {
			return nil, domain.ErrBusy
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// afterCommit refreshes the price cache outside the critical section. Cache
// failures are logged only.
func (e *Engine) afterCommit(ctx context.Context, auctionID string, price decimal.Decimal, ts time.Time) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetPrice(ctx, auctionID, price, ts); err != nil {
		e.logger.Warn("price cache update", "auction_id", auctionID, "error", err)
	}
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Warn("audit log", "event", event, "error", err)
	}
}
