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

// BidCanceller defines what the bid handler needs from the bidding engine.
type BidCanceller interface {
	CancelBid(ctx context.Context, bidID, bidderID string) (domain.Bid, error)
}

// BidHandler serves the caller-scoped bid endpoints.
type BidHandler struct {
	engine BidCanceller
	bids   domain.BidLedger
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(engine BidCanceller, bids domain.BidLedger, logger *slog.Logger) *BidHandler {
	return &BidHandler{
		engine: engine,
		bids:   bids,
		logger: logHandler(logger, "bids"),
	}
}

// bidView is the wire form of a bid.
type bidView struct {
	ID          string          `json:"id"`
	AuctionID   string          `json:"auction_id"`
	BidderID    string          `json:"bidder_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	BidTime     time.Time       `json:"bid_time"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
}

func toBidView(b domain.Bid) bidView {
	return bidView{
		ID:          b.ID,
		AuctionID:   b.AuctionID,
		BidderID:    b.BidderID,
		Amount:      b.Amount,
		Status:      string(b.Status),
		BidTime:     b.BidTime,
		CancelledAt: b.CancelledAt,
	}
}

// listBidsResponse wraps a list of bids.
type listBidsResponse struct {
	Bids []bidView `json:"bids"`
}

// ListMyBids returns the caller's bids, optionally filtered by status.
// GET /api/bids?status=active
func (h *BidHandler) ListMyBids(w http.ResponseWriter, r *http.Request) {
	bidderID := middleware.UserID(r.Context())
	if bidderID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	status := domain.BidStatus(r.URL.Query().Get("status"))
	bids, err := h.bids.ListByBidder(r.Context(), bidderID, status, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bids failed",
			slog.String("bidder_id", bidderID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}

	views := make([]bidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, toBidView(b))
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: views})
}

// GetBid returns one of the caller's bids.
// GET /api/bids/{id}
func (h *BidHandler) GetBid(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	bidderID := middleware.UserID(r.Context())
	if bidderID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	b, err := h.bids.GetByID(r.Context(), id)
	if err != nil {
		if !writeDomainError(w, err) {
			h.logger.ErrorContext(r.Context(), "handler: get bid failed",
				slog.String("bid_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to get bid")
		}
		return
	}
	if b.BidderID != bidderID {
		writeError(w, http.StatusForbidden, "bid belongs to another bidder")
		return
	}

	writeJSON(w, http.StatusOK, toBidView(b))
}

// CancelBid retracts one of the caller's active bids.
// DELETE /api/bids/{id}
func (h *BidHandler) CancelBid(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	bidderID := middleware.UserID(r.Context())
	if bidderID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	b, err := h.engine.CancelBid(r.Context(), id, bidderID)
	if err != nil {
		if !writeDomainError(w, err) {
			h.logger.ErrorContext(r.Context(), "handler: cancel bid failed",
				slog.String("bid_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel bid")
		}
		return
	}

	writeJSON(w, http.StatusOK, toBidView(b))
}
