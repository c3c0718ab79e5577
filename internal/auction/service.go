package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// CreateParams are the caller-supplied fields of a new listing.
type CreateParams struct {
	SellerID      string
	Title         string
	Description   string
	Category      string
	Condition     string
	Images        []string
	StartingPrice decimal.Decimal
	StartTime     time.Time
	EndTime       time.Time
}

// Service handles the auction lifecycle outside the bidding hot path:
// creation and moderation.
type Service struct {
	auctions domain.AuctionStore
	audit    domain.AuditStore
	logger   *slog.Logger

	now func() time.Time
}

// NewService creates a lifecycle service over the given store.
func NewService(auctions domain.AuctionStore, logger *slog.Logger) *Service {
	return &Service{
		auctions: auctions,
		logger:   logger.With(slog.String("component", "lifecycle")),
		now:      time.Now,
	}
}

// SetAuditStore enables audit rows for lifecycle transitions.
func (s *Service) SetAuditStore(audit domain.AuditStore) {
	s.audit = audit
}

// Create validates and persists a new listing. Listings whose start time has
// arrived open immediately; future-dated ones stay draft until activated.
func (s *Service) Create(ctx context.Context, p CreateParams) (domain.Auction, error) {
	if err := s.validate(p); err != nil {
		return domain.Auction{}, err
	}

	now := s.now().UTC()
	status := domain.AuctionStatusDraft
	if !p.StartTime.After(now) {
		status = domain.AuctionStatusActive
	}

	a := domain.Auction{
		ID:            uuid.New().String(),
		SellerID:      p.SellerID,
		Title:         p.Title,
		Description:   p.Description,
		Category:      p.Category,
		Condition:     p.Condition,
		Images:        p.Images,
		StartingPrice: p.StartingPrice,
		CurrentPrice:  p.StartingPrice,
		Status:        status,
		StartTime:     p.StartTime,
		EndTime:       p.EndTime,
		Version:       1,
	}
	if err := s.auctions.Create(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("auction: create: %w", err)
	}

	s.auditLog(ctx, "auction_created", map[string]any{
		"auction_id":     a.ID,
		"seller_id":      a.SellerID,
		"starting_price": a.StartingPrice.String(),
		"end_time":       a.EndTime,
	})
	s.logger.Info("auction created",
		"auction_id", a.ID,
		"seller_id", a.SellerID,
		"status", string(a.Status))
	return a, nil
}

func (s *Service) validate(p CreateParams) error {
	switch {
	case p.SellerID == "":
		return fmt.Errorf("seller required: %w", domain.ErrInvalidAuction)
	case p.Title == "":
		return fmt.Errorf("title required: %w", domain.ErrInvalidAuction)
	case !p.StartingPrice.IsPositive():
		return fmt.Errorf("starting price must be positive: %w", domain.ErrInvalidAuction)
	case !p.EndTime.After(p.StartTime):
		return fmt.Errorf("end time must follow start time: %w", domain.ErrInvalidAuction)
	case !p.EndTime.After(s.now()):
		return fmt.Errorf("end time already passed: %w", domain.ErrInvalidAuction)
	}
	return nil
}

// Activate opens a draft listing for bidding.
func (s *Service) Activate(ctx context.Context, auctionID string) error {
	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return err
	}
	if a.Status != domain.AuctionStatusDraft && a.Status != domain.AuctionStatusSuspended {
		return fmt.Errorf("cannot activate %s auction: %w", a.Status, domain.ErrInvalidAuction)
	}
	if !a.EndTime.After(s.now()) {
		return fmt.Errorf("end time already passed: %w", domain.ErrInvalidAuction)
	}

	if err := s.auctions.SetStatus(ctx, auctionID, domain.AuctionStatusActive, "", a.Version); err != nil {
		return fmt.Errorf("auction: activate: %w", err)
	}
	s.auditLog(ctx, "auction_activated", map[string]any{"auction_id": auctionID})
	return nil
}

// Suspend pauses bidding on an active listing pending moderator review.
func (s *Service) Suspend(ctx context.Context, auctionID, reason string) error {
	return s.moderate(ctx, auctionID, domain.AuctionStatusSuspended, reason, "auction_suspended",
		domain.AuctionStatusActive, domain.AuctionStatusDraft)
}

// Reject permanently removes a listing from the marketplace.
func (s *Service) Reject(ctx context.Context, auctionID, reason string) error {
	return s.moderate(ctx, auctionID, domain.AuctionStatusRejected, reason, "auction_rejected",
		domain.AuctionStatusActive, domain.AuctionStatusDraft, domain.AuctionStatusSuspended)
}

// Cancel withdraws a listing at the seller's request before any close.
func (s *Service) Cancel(ctx context.Context, auctionID, sellerID, reason string) error {
	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return err
	}
	if a.SellerID != sellerID {
		return domain.ErrUnauthorized
	}
	if a.Closed() {
		return domain.ErrAuctionClosed
	}

	if err := s.auctions.SetStatus(ctx, auctionID, domain.AuctionStatusCancelled, reason, a.Version); err != nil {
		return fmt.Errorf("auction: cancel: %w", err)
	}
	s.auditLog(ctx, "auction_cancelled", map[string]any{
		"auction_id": auctionID,
		"reason":     reason,
	})
	return nil
}

func (s *Service) moderate(
	ctx context.Context,
	auctionID string,
	to domain.AuctionStatus,
	reason, auditEvent string,
	from ...domain.AuctionStatus,
) error {
	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return err
	}

	allowed := false
	for _, st := range from {
		if a.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("cannot move %s auction to %s: %w", a.Status, to, domain.ErrInvalidAuction)
	}

	if err := s.auctions.SetStatus(ctx, auctionID, to, reason, a.Version); err != nil {
		return fmt.Errorf("auction: set status %s: %w", to, err)
	}
	s.auditLog(ctx, auditEvent, map[string]any{
		"auction_id": auctionID,
		"reason":     reason,
	})
	s.logger.Info("auction status changed",
		"auction_id", auctionID,
		"status", string(to),
		"reason", reason)
	return nil
}

func (s *Service) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit log", "event", event, "error", err)
	}
}
