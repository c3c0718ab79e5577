package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Event type identifiers carried in the fan-out envelope.
const (
	EventTypeBidPlaced    = "bid_placed"
	EventTypeBidCancelled = "bid_cancelled"
	EventTypeAuctionEnded = "auction_ended"
)

// BidPlacedEvent is published after a bid has been committed to the ledger.
type BidPlacedEvent struct {
	AuctionID string          `json:"auction_id"`
	BidID     string          `json:"bid_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	BidTime   time.Time       `json:"bid_time"`
}

// BidCancelledEvent is published after a bid cancellation, carrying the
// recomputed current price.
type BidCancelledEvent struct {
	AuctionID    string          `json:"auction_id"`
	BidID        string          `json:"bid_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	CancelledAt  time.Time       `json:"cancelled_at"`
}

// AuctionEndedEvent is published exactly once per auction, after the closer
// has committed the ended state. WinnerID is nil when the auction received no
// active bids.
type AuctionEndedEvent struct {
	AuctionID  string          `json:"auction_id"`
	WinnerID   *string         `json:"winner_id"`
	FinalPrice decimal.Decimal `json:"final_price"`
	EndedAt    time.Time       `json:"ended_at"`
}

// EventSink receives marketplace events. Delivery is fire-and-forget from the
// core's perspective: a sink failure must never roll back a committed bid or
// closure.
type EventSink interface {
	BidPlaced(ctx context.Context, ev BidPlacedEvent)
	BidCancelled(ctx context.Context, ev BidCancelledEvent)
	AuctionEnded(ctx context.Context, ev AuctionEndedEvent)
}
