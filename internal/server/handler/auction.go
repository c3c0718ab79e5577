package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/auction"
	"github.com/gavelhq/gavel/internal/domain"
	"github.com/gavelhq/gavel/internal/server/middleware"
)

// LifecycleService defines what the auction handler needs from the lifecycle
// layer.
type LifecycleService interface {
	Create(ctx context.Context, p auction.CreateParams) (domain.Auction, error)
	Cancel(ctx context.Context, auctionID, sellerID, reason string) error
}

// BidEngine defines what the auction handler needs from the bidding engine.
type BidEngine interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (domain.Bid, error)
}

// AuctionHandler serves the listing endpoints.
type AuctionHandler struct {
	lifecycle LifecycleService
	engine    BidEngine
	auctions  domain.AuctionStore
	bids      domain.BidLedger
	logger    *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(
	lifecycle LifecycleService,
	engine BidEngine,
	auctions domain.AuctionStore,
	bids domain.BidLedger,
	logger *slog.Logger,
) *AuctionHandler {
	return &AuctionHandler{
		lifecycle: lifecycle,
		engine:    engine,
		auctions:  auctions,
		bids:      bids,
		logger:    logHandler(logger, "auctions"),
	}
}

// auctionView is the wire form of an auction.
type auctionView struct {
	ID            string          `json:"id"`
	SellerID      string          `json:"seller_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category,omitempty"`
	Condition     string          `json:"condition,omitempty"`
	Images        []string        `json:"images,omitempty"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Status        string          `json:"status"`
	StatusReason  string          `json:"status_reason,omitempty"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	WinnerID      *string         `json:"winner_id,omitempty"`
	BidCount      *int64          `json:"bid_count,omitempty"`
}

func toAuctionView(a domain.Auction) auctionView {
	return auctionView{
		ID:            a.ID,
		SellerID:      a.SellerID,
		Title:         a.Title,
		Description:   a.Description,
		Category:      a.Category,
		Condition:     a.Condition,
		Images:        a.Images,
		StartingPrice: a.StartingPrice,
		CurrentPrice:  a.CurrentPrice,
		Status:        string(a.Status),
		StatusReason:  a.StatusReason,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		WinnerID:      a.WinnerID,
	}
}

// createAuctionRequest is the POST /api/auctions body.
type createAuctionRequest struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	Condition     string          `json:"condition"`
	Images        []string        `json:"images"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
}

// CreateAuction creates a new listing owned by the caller.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	sellerID := middleware.UserID(r.Context())
	if sellerID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	start := req.StartTime
	if start.IsZero() {
		start = time.Now().UTC()
	}

	a, err := h.lifecycle.Create(r.Context(), auction.CreateParams{
		SellerID:      sellerID,
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Condition:     req.Condition,
		Images:        req.Images,
		StartingPrice: req.StartingPrice,
		StartTime:     start,
		EndTime:       req.EndTime,
	})
	if err != nil {
		if !writeDomainError(w, err) {
			h.logger.ErrorContext(r.Context(), "handler: create auction failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create auction")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toAuctionView(a))
}

// listAuctionsResponse wraps the list auctions response.
type listAuctionsResponse struct {
	Auctions []auctionView `json:"auctions"`
}

// ListAuctions returns auctions matching the query filters.
// GET /api/auctions?status=active&seller_id=...&category=...&limit=50&offset=0
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.AuctionFilter{
		Status:   domain.AuctionStatus(q.Get("status")),
		SellerID: q.Get("seller_id"),
		Category: q.Get("category"),
	}
	if v := q.Get("min_price"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			filter.MinPrice = &d
		}
	}
	if v := q.Get("max_price"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			filter.MaxPrice = &d
		}
	}

	auctions, err := h.auctions.List(r.Context(), filter, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list auctions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list auctions")
		return
	}

	views := make([]auctionView, 0, len(auctions))
	for _, a := range auctions {
		views = append(views, toAuctionView(a))
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: views})
}

// GetAuction returns a single listing with its bid count.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	a, err := h.auctions.GetByID(r.Context(), id)
	if err != nil {
		if !writeDomainError(w, err) {
			h.logger.ErrorContext(r.Context(), "handler: get auction failed",
				slog.String("auction_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to get auction")
		}
		return
	}

	view := toAuctionView(a)
	if count, err := h.bids.CountByAuction(r.Context(), id); err == nil {
		view.BidCount = &count
	}

	writeJSON(w, http.StatusOK, view)
}

// CancelAuction withdraws the caller's own listing.
// DELETE /api/auctions/{id}
func (h *AuctionHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	sellerID := middleware.UserID(r.Context())
	if sellerID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "withdrawn by seller"
	}

	if err := h.lifecycle.Cancel(r.Context(), id, sellerID, reason); err != nil {
		if !writeDomainError(w, err) {
			h.logger.ErrorContext(r.Context(), "handler: cancel auction failed",
				slog.String("auction_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel auction")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "cancelled",
		"auction_id": id,
	})
}

// placeBidRequest is the POST /api/auctions/{id}/bids body.
type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PlaceBid admits a bid on a listing for the caller.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID := pathParam(r, "id")
	bidderID := middleware.UserID(r.Context())
	if bidderID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	bid, err := h.engine.PlaceBid(r.Context(), auctionID, bidderID, req.Amount)
	if err != nil {
		if !writeDomainError(w, err) {
			h.logger.ErrorContext(r.Context(), "handler: place bid failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to place bid")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toBidView(bid))
}

// ListAuctionBids returns the bid history of a listing, newest first.
// GET /api/auctions/{id}/bids
func (h *AuctionHandler) ListAuctionBids(w http.ResponseWriter, r *http.Request) {
	auctionID := pathParam(r, "id")

	if _, err := h.auctions.GetByID(r.Context(), auctionID); err != nil {
		if !writeDomainError(w, err) {
			writeError(w, http.StatusInternalServerError, "failed to get auction")
		}
		return
	}

	bids, err := h.bids.ListByAuction(r.Context(), auctionID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list auction bids failed",
			slog.String("auction_id", auctionID),
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
