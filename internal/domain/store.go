package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore persists auction records. Every mutation that touches the
// current price or status takes the caller's observed version and fails with
// ErrVersionConflict when a concurrent writer got there first, so a save
// reflecting a stale current price is never applied.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	List(ctx context.Context, f AuctionFilter, opts ListOpts) ([]Auction, error)
	// ListDue returns active auctions whose end time has passed, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Auction, error)
	// Close transitions an active auction to ended, recording the winner and
	// final price. It is the only path to the ended status.
	Close(ctx context.Context, id string, winnerID *string, finalPrice decimal.Decimal, version int64) error
	// SetStatus applies a moderation or settlement transition (suspended,
	// rejected, sold, cancelled) with its reason.
	SetStatus(ctx context.Context, id string, status AuctionStatus, reason string, version int64) error
	Count(ctx context.Context, status AuctionStatus) (int64, error)
}

// BidLedger is the append-only, per-auction record of bids. Append and
// MarkCancelled also write the auction's new current price in the same
// transaction: the ledger and the price must never be observed inconsistently
// by a concurrent reader.
type BidLedger interface {
	// Append inserts the bid and sets the auction's current price to the bid
	// amount atomically, guarded by the auction version.
	Append(ctx context.Context, b Bid, version int64) error
	// MarkCancelled flips the bid to cancelled and writes the recomputed
	// current price atomically, guarded by the auction version.
	MarkCancelled(ctx context.Context, bidID string, newPrice decimal.Decimal, version int64) error
	GetByID(ctx context.Context, id string) (Bid, error)
	ListActive(ctx context.Context, auctionID string) ([]Bid, error)
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
	ListByBidder(ctx context.Context, bidderID string, status BidStatus, opts ListOpts) ([]Bid, error)
	CountByAuction(ctx context.Context, auctionID string) (int64, error)
}

// SettlementStore persists settlements for won auctions.
type SettlementStore interface {
	Create(ctx context.Context, s Settlement) error
	GetByID(ctx context.Context, id string) (Settlement, error)
	GetByAuction(ctx context.Context, auctionID string) (Settlement, error)
	// UpdateIntent records the payment intent handle returned by the gateway
	// and bumps the attempt counter.
	UpdateIntent(ctx context.Context, id, intentID string) error
	SetStatus(ctx context.Context, id string, status SettlementStatus) error
	// ListPending returns settlements still awaiting a payment intent or
	// confirmation, oldest first, for the retry worker.
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Settlement, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
