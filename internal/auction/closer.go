package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// SettlementInitiator starts payment collection for a won auction. The
// closer calls it after the ended state is committed; initiation failures are
// retried elsewhere and never reopen the auction.
type SettlementInitiator interface {
	Initiate(ctx context.Context, a domain.Auction, winnerID string, amount decimal.Decimal) error
}

// Closer is the time-driven sweep that ends expired auctions. Each sweep
// lists active auctions past their end time, and per auction: freezes the
// ledger under the auction lock, picks the winner (highest active bid, ties
// to the earliest), and commits the ended state. A failure on one auction
// never stops the rest of the batch.
type Closer struct {
	auctions domain.AuctionStore
	bids     domain.BidLedger
	locks    domain.LockManager
	sink     domain.EventSink
	logger   *slog.Logger

	cache  domain.PriceCache
	audit  domain.AuditStore
	settle SettlementInitiator

	sweepInterval  time.Duration
	auctionTimeout time.Duration
	batchSize      int
	lockWait       time.Duration
	lockTTL        time.Duration

	now func() time.Time
}

// NewCloser creates a closer sweeping at the given interval. The auction
// timeout bounds the processing of a single auction so one stuck close
// cannot stall the pass; the batch size caps how many due auctions one sweep
// picks up.
func NewCloser(
	auctions domain.AuctionStore,
	bids domain.BidLedger,
	locks domain.LockManager,
	sink domain.EventSink,
	sweepInterval, auctionTimeout time.Duration,
	batchSize int,
	lockWait, lockTTL time.Duration,
	logger *slog.Logger,
) *Closer {
	return &Closer{
		auctions:       auctions,
		bids:           bids,
		locks:          locks,
		sink:           sink,
		logger:         logger.With(slog.String("component", "closer")),
		sweepInterval:  sweepInterval,
		auctionTimeout: auctionTimeout,
		batchSize:      batchSize,
		lockWait:       lockWait,
		lockTTL:        lockTTL,
		now:            time.Now,
	}
}

// SetPriceCache enables cache invalidation when an auction closes.
func (c *Closer) SetPriceCache(cache domain.PriceCache) {
	c.cache = cache
}

// SetAuditStore enables audit rows for closures.
func (c *Closer) SetAuditStore(audit domain.AuditStore) {
	c.audit = audit
}

// SetSettlementInitiator enables settlement creation for won auctions.
func (c *Closer) SetSettlementInitiator(settle SettlementInitiator) {
	c.settle = settle
}

// Run sweeps on a ticker until the context is cancelled. An initial sweep
// runs immediately so a restart catches up on overdue auctions without
// waiting a full interval.
func (c *Closer) Run(ctx context.Context) error {
	c.logger.Info("closer started", "sweep_interval", c.sweepInterval.String())

	if _, err := c.Sweep(ctx); err != nil {
		c.logger.Error("sweep", "error", err)
	}

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("closer stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.logger.Error("sweep", "error", err)
			}
		}
	}
}

// Sweep closes every due auction it can and returns how many it ended. Per
// auction errors are logged and skipped; the returned error covers only a
// failure to list the batch.
func (c *Closer) Sweep(ctx context.Context) (int, error) {
	due, err := c.auctions.ListDue(ctx, c.now(), c.batchSize)
	if err != nil {
		return 0, fmt.Errorf("auction: list due: %w", err)
	}

	closed := 0
	for _, a := range due {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}

		auctionCtx, cancel := context.WithTimeout(ctx, c.auctionTimeout)
		err := c.closeOne(auctionCtx, a.ID)
		cancel()

		switch {
		case err == nil:
			closed++
		case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrVersionConflict):
			// A racing bid or another sweep got there first. The next sweep
			// picks the auction up again if it is still due.
			c.logger.Debug("close deferred", "auction_id", a.ID, "error", err)
		case errors.Is(err, errAlreadyClosed):
			// Closed between listing and locking. Nothing to do.
		default:
			c.logger.Error("close auction", "auction_id", a.ID, "error", err)
		}
	}

	if closed > 0 {
		c.logger.Info("sweep done", "due", len(due), "closed", closed)
	}
	return closed, nil
}

// errAlreadyClosed marks an auction that left the active state between the
// due listing and the locked re-read.
var errAlreadyClosed = errors.New("auction already closed")

func (c *Closer) closeOne(ctx context.Context, auctionID string) error {
	unlock, err := acquireLock(ctx, c.locks, auctionID, c.lockTTL, c.lockWait, c.now)
	if err != nil {
		return err
	}

	a, winner, hasWinner, err := c.closeLocked(ctx, auctionID)
	unlock()
	if err != nil {
		return err
	}

	if c.cache != nil {
		if err := c.cache.Invalidate(ctx, a.ID); err != nil {
			c.logger.Warn("price cache invalidate", "auction_id", a.ID, "error", err)
		}
	}

	var winnerID *string
	finalPrice := a.StartingPrice
	if hasWinner {
		winnerID = &winner.BidderID
		finalPrice = winner.Amount
	}

	if c.audit != nil {
		detail := map[string]any{
			"auction_id":  a.ID,
			"final_price": finalPrice.String(),
		}
		if winnerID != nil {
			detail["winner_id"] = *winnerID
		}
		if err := c.audit.Log(ctx, "auction_ended", detail); err != nil {
			c.logger.Warn("audit log", "auction_id", a.ID, "error", err)
		}
	}

	c.sink.AuctionEnded(ctx, domain.AuctionEndedEvent{
		AuctionID:  a.ID,
		WinnerID:   winnerID,
		FinalPrice: finalPrice,
		EndedAt:    c.now().UTC(),
	})

	if hasWinner && c.settle != nil {
		if err := c.settle.Initiate(ctx, a, winner.BidderID, winner.Amount); err != nil {
			// The retry worker picks this settlement up; the close stands.
			c.logger.Error("initiate settlement", "auction_id", a.ID, "error", err)
		}
	}

	c.logger.Info("auction ended",
		"auction_id", a.ID,
		"winner", winnerID,
		"final_price", finalPrice.String())
	return nil
}

// closeLocked re-reads the auction under the lock, picks the winner, and
// commits the ended state.
func (c *Closer) closeLocked(ctx context.Context, auctionID string) (domain.Auction, domain.Bid, bool, error) {
	a, err := c.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, domain.Bid{}, false, err
	}
	if a.Status != domain.AuctionStatusActive {
		return domain.Auction{}, domain.Bid{}, false, errAlreadyClosed
	}
	if c.now().Before(a.EndTime) {
		return domain.Auction{}, domain.Bid{}, false, errAlreadyClosed
	}

	active, err := c.bids.ListActive(ctx, a.ID)
	if err != nil {
		return domain.Auction{}, domain.Bid{}, false, fmt.Errorf("auction: list active bids: %w", err)
	}
	winner, hasWinner := domain.HighestActive(active)

	var winnerID *string
	finalPrice := a.StartingPrice
	if hasWinner {
		winnerID = &winner.BidderID
		finalPrice = winner.Amount
	}

	if err := c.auctions.Close(ctx, a.ID, winnerID, finalPrice, a.Version); err != nil {
		return domain.Auction{}, domain.Bid{}, false, err
	}
	return a, winner, hasWinner, nil
}
