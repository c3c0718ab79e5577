package settlement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memSettlements struct {
	mu   sync.Mutex
	rows map[string]domain.Settlement
}

func newMemSettlements() *memSettlements {
	return &memSettlements{rows: make(map[string]domain.Settlement)}
}

func (m *memSettlements) Create(_ context.Context, st domain.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.AuctionID == st.AuctionID {
			return fmt.Errorf("duplicate auction %s", st.AuctionID)
		}
	}
	st.CreatedAt = time.Now()
	st.UpdatedAt = st.CreatedAt
	m.rows[st.ID] = st
	return nil
}

func (m *memSettlements) GetByID(_ context.Context, id string) (domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[id]
	if !ok {
		return domain.Settlement{}, domain.ErrNotFound
	}
	return st, nil
}

func (m *memSettlements) GetByAuction(_ context.Context, auctionID string) (domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.rows {
		if st.AuctionID == auctionID {
			return st, nil
		}
	}
	return domain.Settlement{}, domain.ErrNotFound
}

func (m *memSettlements) UpdateIntent(_ context.Context, id, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if intentID != "" {
		st.PaymentIntentID = intentID
	}
	st.Attempts++
	st.UpdatedAt = time.Now()
	m.rows[id] = st
	return nil
}

func (m *memSettlements) SetStatus(_ context.Context, id string, status domain.SettlementStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	st.Status = status
	st.UpdatedAt = time.Now()
	m.rows[id] = st
	return nil
}

func (m *memSettlements) ListPending(_ context.Context, olderThan time.Time, limit int) ([]domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Settlement
	for _, st := range m.rows {
		if st.Status == domain.SettlementStatusPending && !st.UpdatedAt.After(olderThan) {
			out = append(out, st)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memAuctions struct {
	mu   sync.Mutex
	rows map[string]domain.Auction
}

func newMemAuctions() *memAuctions {
	return &memAuctions{rows: make(map[string]domain.Auction)}
}

func (m *memAuctions) Create(_ context.Context, a domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.ID] = a
	return nil
}

func (m *memAuctions) GetByID(_ context.Context, id string) (domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memAuctions) List(context.Context, domain.AuctionFilter, domain.ListOpts) ([]domain.Auction, error) {
	return nil, nil
}

func (m *memAuctions) ListDue(context.Context, time.Time, int) ([]domain.Auction, error) {
	return nil, nil
}

func (m *memAuctions) Close(context.Context, string, *string, decimal.Decimal, int64) error {
	return nil
}

func (m *memAuctions) SetStatus(_ context.Context, id string, status domain.AuctionStatus, reason string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Version != version {
		return domain.ErrVersionConflict
	}
	a.Status = status
	a.StatusReason = reason
	a.Version++
	m.rows[id] = a
	return nil
}

func (m *memAuctions) Count(context.Context, domain.AuctionStatus) (int64, error) {
	return 0, nil
}

// scriptedGateway returns canned responses and records calls.
type scriptedGateway struct {
	mu            sync.Mutex
	createStatus  string
	confirmStatus string
	createErr     error
	confirmErr    error
	creates       int
	confirms      int
}

func (g *scriptedGateway) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return Intent{}, g.createErr
	}
	return Intent{ID: "pi_" + req.SettlementID, Status: g.createStatus}, nil
}

func (g *scriptedGateway) ConfirmIntent(_ context.Context, intentID string) (Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirms++
	if g.confirmErr != nil {
		return Intent{}, g.confirmErr
	}
	return Intent{ID: intentID, Status: g.confirmStatus}, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *captureNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func endedAuction(id string) domain.Auction {
	return domain.Auction{
		ID:       id,
		SellerID: "seller",
		Status:   domain.AuctionStatusEnded,
		Version:  3,
	}
}

func newTestService(settlements *memSettlements, auctions *memAuctions, gw Gateway) *Service {
	return NewService(settlements, auctions, gw, "usd", time.Minute, 10, testLogger())
}

func TestInitiateCollectsImmediately(t *testing.T) {
	settlements := newMemSettlements()
	auctions := newMemAuctions()
	gw := &scriptedGateway{createStatus: IntentStatusRequiresConfirmation, confirmStatus: IntentStatusSucceeded}
	svc := newTestService(settlements, auctions, gw)
	ctx := context.Background()

	require.NoError(t, auctions.Create(ctx, endedAuction("a1")))

	require.NoError(t, svc.Initiate(ctx, endedAuction("a1"), "alice", dec("200")))

	st, err := settlements.GetByAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCompleted, st.Status)
	assert.Equal(t, "alice", st.BuyerID)
	assert.True(t, st.Amount.Equal(dec("200")))
	assert.NotEmpty(t, st.PaymentIntentID)

	a, err := auctions.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusSold, a.Status)
}

func TestInitiateIdempotentPerAuction(t *testing.T) {
	settlements := newMemSettlements()
	auctions := newMemAuctions()
	gw := &scriptedGateway{createStatus: IntentStatusRequiresConfirmation, confirmStatus: IntentStatusSucceeded}
	svc := newTestService(settlements, auctions, gw)
	ctx := context.Background()

	require.NoError(t, auctions.Create(ctx, endedAuction("a1")))

	require.NoError(t, svc.Initiate(ctx, endedAuction("a1"), "alice", dec("200")))
	require.NoError(t, svc.Initiate(ctx, endedAuction("a1"), "alice", dec("200")))

	assert.Equal(t, 1, gw.creates)
	assert.Len(t, settlements.rows, 1)
}

func TestGatewayOutageKeepsPending(t *testing.T) {
	settlements := newMemSettlements()
	auctions := newMemAuctions()
	gw := &scriptedGateway{createErr: fmt.Errorf("gateway down")}
	svc := newTestService(settlements, auctions, gw)
	ctx := context.Background()

	require.NoError(t, auctions.Create(ctx, endedAuction("a1")))
	require.NoError(t, svc.Initiate(ctx, endedAuction("a1"), "alice", dec("200")))

	st, err := settlements.GetByAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusPending, st.Status)
	assert.Equal(t, 1, st.Attempts)

	// The auction's ended record is untouched by the payment failure.
	a, err := auctions.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusEnded, a.Status)
}

func TestRetryPendingCompletes(t *testing.T) {
	settlements := newMemSettlements()
	auctions := newMemAuctions()
	gw := &scriptedGateway{createErr: fmt.Errorf("gateway down")}
	svc := newTestService(settlements, auctions, gw)
	ctx := context.Background()

	require.NoError(t, auctions.Create(ctx, endedAuction("a1")))
	require.NoError(t, svc.Initiate(ctx, endedAuction("a1"), "alice", dec("200")))

	// Gateway recovers; age the settlement past the retry threshold.
	gw.createErr = nil
	gw.createStatus = IntentStatusSucceeded
	st, err := settlements.GetByAuction(ctx, "a1")
	require.NoError(t, err)
	st.UpdatedAt = time.Now().Add(-time.Hour)
	settlements.rows[st.ID] = st

	require.NoError(t, svc.retryPending(ctx))

	st, err = settlements.GetByAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCompleted, st.Status)
}

func TestAttemptBudgetExhausted(t *testing.T) {
	settlements := newMemSettlements()
	auctions := newMemAuctions()
	gw := &scriptedGateway{createErr: fmt.Errorf("gateway down")}
	svc := newTestService(settlements, auctions, gw)
	notifier := &captureNotifier{}
	svc.SetNotifier(notifier)
	ctx := context.Background()

	require.NoError(t, auctions.Create(ctx, endedAuction("a1")))
	require.NoError(t, svc.Initiate(ctx, endedAuction("a1"), "alice", dec("200")))

	st, err := settlements.GetByAuction(ctx, "a1")
	require.NoError(t, err)
	st.Attempts = maxAttempts
	st.UpdatedAt = time.Now().Add(-time.Hour)
	settlements.rows[st.ID] = st

	require.NoError(t, svc.retryPending(ctx))

	st, err = settlements.GetByAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusFailed, st.Status)
	assert.Contains(t, notifier.events, "settlement_failed")

	a, err := auctions.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusEnded, a.Status)
}

func TestConfirm(t *testing.T) {
	settlements := newMemSettlements()
	auctions := newMemAuctions()
	gw := &scriptedGateway{createStatus: IntentStatusRequiresConfirmation, confirmStatus: ""}
	svc := newTestService(settlements, auctions, gw)
	ctx := context.Background()

	require.NoError(t, auctions.Create(ctx, endedAuction("a1")))
	require.NoError(t, svc.Initiate(ctx, endedAuction("a1"), "alice", dec("200")))

	pending, err := settlements.GetByAuction(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, domain.SettlementStatusPending, pending.Status)

	gw.confirmStatus = IntentStatusSucceeded
	st, err := svc.Confirm(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCompleted, st.Status)

	// Re-confirming is a no-op.
	confirms := gw.confirms
	st, err = svc.Confirm(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCompleted, st.Status)
	assert.Equal(t, confirms, gw.confirms)
}

func TestConfirmUnknownSettlement(t *testing.T) {
	svc := newTestService(newMemSettlements(), newMemAuctions(), &scriptedGateway{})

	_, err := svc.Confirm(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
