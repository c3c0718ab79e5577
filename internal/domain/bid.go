package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidStatus is the (only) mutable property of a bid.
type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusCancelled BidStatus = "cancelled"
)

// Bid is a timestamped, amount-bearing claim against an auction. Bids are
// immutable once appended to the ledger except for cancellation; the amount
// never changes.
type Bid struct {
	ID          string
	AuctionID   string
	BidderID    string
	Amount      decimal.Decimal
	Status      BidStatus
	BidTime     time.Time
	CancelledAt *time.Time
}

// HighestActive returns the winning bid among the given set: the active bid
// with the maximum amount, ties broken by the earliest bid time. The boolean
// is false when no active bid exists.
func HighestActive(bids []Bid) (Bid, bool) {
	var best Bid
	found := false
	for _, b := range bids {
		if b.Status != BidStatusActive {
			continue
		}
		if !found ||
			b.Amount.GreaterThan(best.Amount) ||
			(b.Amount.Equal(best.Amount) && b.BidTime.Before(best.BidTime)) {
			best = b
			found = true
		}
	}
	return best, found
}
