package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gavelhq/gavel/internal/domain"
)

// Moderator defines what the admin handler needs from the lifecycle layer.
type Moderator interface {
	Activate(ctx context.Context, auctionID string) error
	Suspend(ctx context.Context, auctionID, reason string) error
	Reject(ctx context.Context, auctionID, reason string) error
}

// AdminHandler serves the operator endpoints. Routes using it sit behind the
// admin API key.
type AdminHandler struct {
	moderator Moderator
	auctions  domain.AuctionStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler. audit may be nil when no audit
// store is configured.
func NewAdminHandler(moderator Moderator, auctions domain.AuctionStore, audit domain.AuditStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		moderator: moderator,
		auctions:  auctions,
		audit:     audit,
		logger:    logHandler(logger, "admin"),
	}
}

// moderationRequest carries the operator's reason for a transition.
type moderationRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) moderate(w http.ResponseWriter, r *http.Request, action string, requireReason bool, fn func(ctx context.Context, id, reason string) error) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	var req moderationRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if requireReason && req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	if err := fn(r.Context(), id, req.Reason); err != nil {
		if !writeDomainError(w, err) {
			h.logger.ErrorContext(r.Context(), "handler: moderation failed",
				slog.String("action", action),
				slog.String("auction_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to "+action+" auction")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     action,
		"auction_id": id,
	})
}

// SuspendAuction pauses bidding on a listing pending review.
// POST /api/admin/auctions/{id}/suspend
func (h *AdminHandler) SuspendAuction(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, "suspended", true, func(ctx context.Context, id, reason string) error {
		return h.moderator.Suspend(ctx, id, reason)
	})
}

// RejectAuction removes a listing that violates marketplace policy.
// POST /api/admin/auctions/{id}/reject
func (h *AdminHandler) RejectAuction(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, "rejected", true, func(ctx context.Context, id, reason string) error {
		return h.moderator.Reject(ctx, id, reason)
	})
}

// ActivateAuction reopens a suspended or draft listing.
// POST /api/admin/auctions/{id}/activate
func (h *AdminHandler) ActivateAuction(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, "active", false, func(ctx context.Context, id, _ string) error {
		return h.moderator.Activate(ctx, id)
	})
}

// auditEntryView is the wire form of an audit log row.
type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// ListAudit returns recent audit log entries, newest first.
// GET /api/admin/audit
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log not configured")
		return
	}

	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

// statsResponse summarizes auction counts by status.
type statsResponse struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Ended     int64 `json:"ended"`
	Sold      int64 `json:"sold"`
	Suspended int64 `json:"suspended"`
}

// Stats returns marketplace-wide auction counts.
// GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp statsResponse
	counts := []struct {
		status domain.AuctionStatus
		dst    *int64
	}{
		{"", &resp.Total},
		{domain.AuctionStatusActive, &resp.Active},
		{domain.AuctionStatusEnded, &resp.Ended},
		{domain.AuctionStatusSold, &resp.Sold},
		{domain.AuctionStatusSuspended, &resp.Suspended},
	}
	for _, c := range counts {
		n, err := h.auctions.Count(ctx, c.status)
		if err != nil {
			h.logger.ErrorContext(ctx, "handler: count auctions failed",
				slog.String("status", string(c.status)),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to count auctions")
			return
		}
		*c.dst = n
	}

	writeJSON(w, http.StatusOK, resp)
}
