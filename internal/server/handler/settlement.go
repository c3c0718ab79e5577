package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
	"github.com/gavelhq/gavel/internal/server/middleware"
)

// SettlementConfirmer defines what the settlement handler needs from the
// settlement service.
type SettlementConfirmer interface {
	Confirm(ctx context.Context, settlementID string) (domain.Settlement, error)
}

// SettlementHandler serves the settlement endpoints.
type SettlementHandler struct {
	service     SettlementConfirmer
	settlements domain.SettlementStore
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(service SettlementConfirmer, settlements domain.SettlementStore, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		service:     service,
		settlements: settlements,
		logger:      logHandler(logger, "settlements"),
	}
}

// settlementView is the wire form of a settlement.
type settlementView struct {
	ID              string          `json:"id"`
	AuctionID       string          `json:"auction_id"`
	BuyerID         string          `json:"buyer_id"`
	SellerID        string          `json:"seller_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	Status          string          `json:"status"`
	Attempts        int             `json:"attempts"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toSettlementView(s domain.Settlement) settlementView {
	return settlementView{
		ID:              s.ID,
		AuctionID:       s.AuctionID,
		BuyerID:         s.BuyerID,
		SellerID:        s.SellerID,
		Amount:          s.Amount,
		PaymentIntentID: s.PaymentIntentID,
		Status:          string(s.Status),
		Attempts:        s.Attempts,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// GetSettlement returns a settlement visible to its buyer or seller.
// GET /api/settlements/{id}
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	userID := middleware.UserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	s, err := h.settlements.GetByID(r.Context(), id)
	if err != nil {
		if !writeDomainError(w, err) {
			h.logger.ErrorContext(r.Context(), "handler: get settlement failed",
				slog.String("settlement_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to get settlement")
		}
		return
	}
	if s.BuyerID != userID && s.SellerID != userID && middleware.UserRole(r.Context()) != "admin" {
		writeError(w, http.StatusForbidden, "settlement belongs to another party")
		return
	}

	writeJSON(w, http.StatusOK, toSettlementView(s))
}

// ConfirmSettlement re-drives payment confirmation, typically after the buyer
// completed a challenge on the gateway side.
// POST /api/settlements/{id}/confirm
func (h *SettlementHandler) ConfirmSettlement(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	userID := middleware.UserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	s, err := h.settlements.GetByID(r.Context(), id)
	if err != nil {
		if !writeDomainError(w, err) {
			writeError(w, http.StatusInternalServerError, "failed to get settlement")
		}
		return
	}
	if s.BuyerID != userID && middleware.UserRole(r.Context()) != "admin" {
		writeError(w, http.StatusForbidden, "only the buyer can confirm")
		return
	}

	confirmed, err := h.service.Confirm(r.Context(), id)
	if err != nil {
		if !writeDomainError(w, err) {
			h.logger.ErrorContext(r.Context(), "handler: confirm settlement failed",
				slog.String("settlement_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to confirm settlement")
		}
		return
	}

	writeJSON(w, http.StatusOK, toSettlementView(confirmed))
}
