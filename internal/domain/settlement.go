package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus tracks a settlement from initiation to payment.
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusCompleted SettlementStatus = "completed"
	SettlementStatusFailed    SettlementStatus = "failed"
	SettlementStatusRefunded  SettlementStatus = "refunded"
)

// Settlement records the payment owed for a won auction. A settlement is
// created when the closer picks a winner; its failure or retry never reverts
// the auction's ended/winner state.
type Settlement struct {
	ID              string
	AuctionID       string
	BuyerID         string
	SellerID        string
	Amount          decimal.Decimal
	PaymentIntentID string
	Status          SettlementStatus
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
