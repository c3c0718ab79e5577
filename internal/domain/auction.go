package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus tracks the listing lifecycle.
type AuctionStatus string

const (
	AuctionStatusDraft     AuctionStatus = "draft"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusSold      AuctionStatus = "sold"
	AuctionStatusCancelled AuctionStatus = "cancelled"
	AuctionStatusSuspended AuctionStatus = "suspended"
	AuctionStatusRejected  AuctionStatus = "rejected"
)

// Auction is a single listing with a bidding window. CurrentPrice is
// monotonically non-decreasing while the auction is active, except for the
// fallback to StartingPrice when every bid has been cancelled. Version is an
// optimistic-concurrency counter bumped by every price or status mutation.
type Auction struct {
	ID            string
	SellerID      string
	Title         string
	Description   string
	Category      string
	Condition     string
	Images        []string
	StartingPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	Status        AuctionStatus
	StatusReason  string
	StartTime     time.Time
	EndTime       time.Time
	WinnerID      *string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BiddingOpen reports whether a bid can be admitted at the given instant:
// the auction must be active and its end time must not have passed. The
// check holds even when the closer sweep has not yet marked the auction
// ended.
func (a Auction) BiddingOpen(now time.Time) bool {
	return a.Status == AuctionStatusActive && now.Before(a.EndTime)
}

// Closed reports whether the auction has reached a terminal state.
func (a Auction) Closed() bool {
	switch a.Status {
	case AuctionStatusEnded, AuctionStatusSold, AuctionStatusCancelled, AuctionStatusRejected:
		return true
	default:
		return false
	}
}

// AuctionFilter narrows auction list queries.
type AuctionFilter struct {
	Status   AuctionStatus
	SellerID string
	Category string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}
