package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// maxAttempts caps gateway retries before a settlement is marked failed and
// operators are alerted.
const maxAttempts = 5

// Notifier delivers operator alerts. Implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Service owns the settlement lifecycle. A settlement is created pending when
// an auction closes with a winner, moves to completed when the gateway
// reports payment, and to failed after the attempt budget runs out. None of
// these transitions ever reopens the auction or changes its winner.
type Service struct {
	settlements domain.SettlementStore
	auctions    domain.AuctionStore
	gateway     Gateway
	logger      *slog.Logger

	notifier Notifier
	audit    domain.AuditStore

	currency      string
	retryInterval time.Duration
	retryBatch    int

	now func() time.Time
}

// NewService creates a settlement service. The retry interval drives the
// background worker that re-attempts pending settlements; it also acts as
// the minimum age before a pending settlement is retried.
func NewService(
	settlements domain.SettlementStore,
	auctions domain.AuctionStore,
	gateway Gateway,
	currency string,
	retryInterval time.Duration,
	retryBatch int,
	logger *slog.Logger,
) *Service {
	return &Service{
		settlements:   settlements,
		auctions:      auctions,
		gateway:       gateway,
		logger:        logger.With(slog.String("component", "settlement")),
		currency:      currency,
		retryInterval: retryInterval,
		retryBatch:    retryBatch,
		now:           time.Now,
	}
}

// SetNotifier enables operator alerts on settlement failure.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetAuditStore enables audit rows for settlement transitions.
func (s *Service) SetAuditStore(audit domain.AuditStore) {
	s.audit = audit
}

// Initiate records the payment owed for a won auction and makes a first
// collection attempt. It is idempotent per auction: a re-run after a crashed
// sweep finds the existing settlement and leaves it alone. Collection
// failures keep the settlement pending for the retry worker.
func (s *Service) Initiate(ctx context.Context, a domain.Auction, winnerID string, amount decimal.Decimal) error {
	if _, err := s.settlements.GetByAuction(ctx, a.ID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("settlement: check existing for auction %s: %w", a.ID, err)
	}

	st := domain.Settlement{
		ID:        uuid.New().String(),
		AuctionID: a.ID,
		BuyerID:   winnerID,
		SellerID:  a.SellerID,
		Amount:    amount,
		Status:    domain.SettlementStatusPending,
	}
	if err := s.settlements.Create(ctx, st); err != nil {
		return fmt.Errorf("settlement: create for auction %s: %w", a.ID, err)
	}

	s.auditLog(ctx, "settlement_created", map[string]any{
		"settlement_id": st.ID,
		"auction_id":    st.AuctionID,
		"buyer_id":      st.BuyerID,
		"amount":        st.Amount.String(),
	})
	s.logger.Info("settlement created",
		"settlement_id", st.ID,
		"auction_id", st.AuctionID,
		"amount", st.Amount.String())

	if err := s.collect(ctx, st); err != nil {
		s.logger.Warn("first collection attempt",
			"settlement_id", st.ID,
			"error", err)
	}
	return nil
}

// Confirm finalizes a settlement whose intent the buyer has approved
// out-of-band. Completed settlements confirm as a no-op.
func (s *Service) Confirm(ctx context.Context, settlementID string) (domain.Settlement, error) {
	st, err := s.settlements.GetByID(ctx, settlementID)
	if err != nil {
		return domain.Settlement{}, err
	}
	if st.Status == domain.SettlementStatusCompleted {
		return st, nil
	}
	if st.Status != domain.SettlementStatusPending {
		return domain.Settlement{}, fmt.Errorf("settlement %s is %s: %w",
			st.ID, st.Status, domain.ErrInvalidAuction)
	}
	if st.PaymentIntentID == "" {
		return domain.Settlement{}, fmt.Errorf("settlement %s has no payment intent: %w",
			st.ID, domain.ErrNotFound)
	}

	intent, err := s.gateway.ConfirmIntent(ctx, st.PaymentIntentID)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("settlement: confirm intent: %w", err)
	}
	if intent.Status != IntentStatusSucceeded {
		return domain.Settlement{}, fmt.Errorf("settlement: intent %s status %s", intent.ID, intent.Status)
	}

	if err := s.complete(ctx, st); err != nil {
		return domain.Settlement{}, err
	}
	st.Status = domain.SettlementStatusCompleted
	return st, nil
}

// Run retries pending settlements on a ticker until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("settlement worker started", "retry_interval", s.retryInterval.String())

	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlement worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.retryPending(ctx); err != nil {
				s.logger.Error("retry pending settlements", "error", err)
			}
		}
	}
}

func (s *Service) retryPending(ctx context.Context) error {
	olderThan := s.now().Add(-s.retryInterval)
	pending, err := s.settlements.ListPending(ctx, olderThan, s.retryBatch)
	if err != nil {
		return fmt.Errorf("settlement: list pending: %w", err)
	}

	for _, st := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if st.Attempts >= maxAttempts {
			s.fail(ctx, st, "attempt budget exhausted")
			continue
		}
		if err := s.collect(ctx, st); err != nil {
			s.logger.Warn("collection attempt",
				"settlement_id", st.ID,
				"attempts", st.Attempts,
				"error", err)
		}
	}
	return nil
}

// collect drives one settlement through the gateway: create the intent if
// missing, then confirm it. Success completes the settlement and marks the
// auction sold.
func (s *Service) collect(ctx context.Context, st domain.Settlement) error {
	intentID := st.PaymentIntentID
	if intentID == "" {
		intent, err := s.gateway.CreateIntent(ctx, IntentRequest{
			SettlementID: st.ID,
			AuctionID:    st.AuctionID,
			BuyerID:      st.BuyerID,
			Amount:       st.Amount,
			Currency:     s.currency,
		})
		if err != nil {
			// Record the attempt so the budget still counts gateway outages.
			if uerr := s.settlements.UpdateIntent(ctx, st.ID, ""); uerr != nil {
				s.logger.Warn("record attempt", "settlement_id", st.ID, "error", uerr)
			}
			return fmt.Errorf("settlement: create intent: %w", err)
		}
		intentID = intent.ID
		if err := s.settlements.UpdateIntent(ctx, st.ID, intentID); err != nil {
			return fmt.Errorf("settlement: store intent: %w", err)
		}
		if intent.Status == IntentStatusSucceeded {
			return s.complete(ctx, st)
		}
		if intent.Status == IntentStatusFailed {
			s.fail(ctx, st, "gateway rejected intent")
			return nil
		}
	}

	intent, err := s.gateway.ConfirmIntent(ctx, intentID)
	if err != nil {
		return fmt.Errorf("settlement: confirm intent: %w", err)
	}
	switch intent.Status {
	case IntentStatusSucceeded:
		return s.complete(ctx, st)
	case IntentStatusFailed:
		s.fail(ctx, st, "gateway reported failure")
		return nil
	default:
		return nil
	}
}

func (s *Service) complete(ctx context.Context, st domain.Settlement) error {
	if err := s.settlements.SetStatus(ctx, st.ID, domain.SettlementStatusCompleted); err != nil {
		return fmt.Errorf("settlement: mark completed: %w", err)
	}

	// Move the auction to sold. The ended record stands if this races or
	// fails; the next confirmation attempt is a no-op on the settlement.
	a, err := s.auctions.GetByID(ctx, st.AuctionID)
	if err != nil {
		s.logger.Error("load auction for sold transition",
			"auction_id", st.AuctionID, "error", err)
	} else if a.Status == domain.AuctionStatusEnded {
		if err := s.auctions.SetStatus(ctx, a.ID, domain.AuctionStatusSold, "settled", a.Version); err != nil {
			s.logger.Error("mark auction sold", "auction_id", a.ID, "error", err)
		}
	}

	s.auditLog(ctx, "settlement_completed", map[string]any{
		"settlement_id": st.ID,
		"auction_id":    st.AuctionID,
		"amount":        st.Amount.String(),
	})
	s.logger.Info("settlement completed",
		"settlement_id", st.ID,
		"auction_id", st.AuctionID)
	return nil
}

func (s *Service) fail(ctx context.Context, st domain.Settlement, reason string) {
	if err := s.settlements.SetStatus(ctx, st.ID, domain.SettlementStatusFailed); err != nil {
		s.logger.Error("mark settlement failed", "settlement_id", st.ID, "error", err)
		return
	}

	s.auditLog(ctx, "settlement_failed", map[string]any{
		"settlement_id": st.ID,
		"auction_id":    st.AuctionID,
		"reason":        reason,
	})
	s.logger.Error("settlement failed",
		"settlement_id", st.ID,
		"auction_id", st.AuctionID,
		"reason", reason)

	if s.notifier != nil {
		msg := fmt.Sprintf("settlement %s for auction %s failed: %s",
			st.ID, st.AuctionID, reason)
		if err := s.notifier.Notify(ctx, "settlement_failed", "Settlement failed", msg); err != nil {
			s.logger.Warn("notify settlement failure", "error", err)
		}
	}
}

func (s *Service) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit log", "event", event, "error", err)
	}
}
