package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/cache/memory"
	"github.com/gavelhq/gavel/internal/domain"
)

type captureInitiator struct {
	mu    sync.Mutex
	calls []struct {
		AuctionID string
		WinnerID  string
		Amount    decimal.Decimal
	}
}

func (c *captureInitiator) Initiate(_ context.Context, a domain.Auction, winnerID string, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, struct {
		AuctionID string
		WinnerID  string
		Amount    decimal.Decimal
	}{a.ID, winnerID, amount})
	return nil
}

func newTestCloser(backend *memBackend, sink domain.EventSink) *Closer {
	return NewCloser(
		backend, bidLedgerView{backend}, memory.NewLockManager(), sink,
		5*time.Second, time.Second, 100,
		500*time.Millisecond, 5*time.Second,
		testLogger(),
	)
}

func addBid(t *testing.T, backend *memBackend, auctionID, bidderID, amount string, at time.Time) domain.Bid {
	t.Helper()
	a, err := backend.GetByID(context.Background(), auctionID)
	require.NoError(t, err)
	b := domain.Bid{
		ID:        auctionID + "-" + bidderID + "-" + amount,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    dec(amount),
		Status:    domain.BidStatusActive,
		BidTime:   at,
	}
	require.NoError(t, backend.Append(context.Background(), b, a.Version))
	return b
}

func TestSweepClosesDueAuction(t *testing.T) {
	backend := newMemBackend()
	sink := &captureSink{}
	closer := newTestCloser(backend, sink)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", -time.Minute)))
	base := time.Now().Add(-time.Hour)
	addBid(t, backend, "a1", "alice", "150", base)
	addBid(t, backend, "a1", "bob", "200", base.Add(time.Minute))

	closed, err := closer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusEnded, a.Status)
	require.NotNil(t, a.WinnerID)
	assert.Equal(t, "bob", *a.WinnerID)
	assert.True(t, a.CurrentPrice.Equal(dec("200")))

	ended := sink.endedEvents()
	require.Len(t, ended, 1)
	require.NotNil(t, ended[0].WinnerID)
	assert.Equal(t, "bob", *ended[0].WinnerID)
	assert.True(t, ended[0].FinalPrice.Equal(dec("200")))
}

func TestSweepTieBreakEarliestBid(t *testing.T) {
	backend := newMemBackend()
	sink := &captureSink{}
	closer := newTestCloser(backend, sink)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", -time.Minute)))
	base := time.Now().Add(-time.Hour)
	// Equal amounts: the earlier bid wins.
	addBid(t, backend, "a1", "late", "200", base.Add(time.Minute))
	addBid(t, backend, "a1", "early", "200", base)
	addBid(t, backend, "a1", "low", "150", base.Add(2*time.Minute))

	_, err := closer.Sweep(ctx)
	require.NoError(t, err)

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, a.WinnerID)
	assert.Equal(t, "early", *a.WinnerID)
}

func TestSweepNoBids(t *testing.T) {
	backend := newMemBackend()
	sink := &captureSink{}
	closer := newTestCloser(backend, sink)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", -time.Minute)))

	closed, err := closer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusEnded, a.Status)
	assert.Nil(t, a.WinnerID)
	assert.True(t, a.CurrentPrice.Equal(dec("100")))

	ended := sink.endedEvents()
	require.Len(t, ended, 1)
	assert.Nil(t, ended[0].WinnerID)
}

func TestSweepCancelledBidsIgnored(t *testing.T) {
	backend := newMemBackend()
	closer := newTestCloser(backend, &captureSink{})
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", -time.Minute)))
	base := time.Now().Add(-time.Hour)
	top := addBid(t, backend, "a1", "alice", "300", base)
	addBid(t, backend, "a1", "bob", "200", base.Add(time.Minute))

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, backend.MarkCancelled(ctx, top.ID, dec("200"), a.Version))

	_, err = closer.Sweep(ctx)
	require.NoError(t, err)

	a, err = backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, a.WinnerID)
	assert.Equal(t, "bob", *a.WinnerID)
	assert.True(t, a.CurrentPrice.Equal(dec("200")))
}

func TestSweepIdempotent(t *testing.T) {
	backend := newMemBackend()
	sink := &captureSink{}
	closer := newTestCloser(backend, sink)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", -time.Minute)))

	closed, err := closer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	closed, err = closer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)

	// One close, one event.
	assert.Len(t, sink.endedEvents(), 1)
}

func TestSweepSkipsNotDue(t *testing.T) {
	backend := newMemBackend()
	closer := newTestCloser(backend, &captureSink{})
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	closed, err := closer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusActive, a.Status)
}

func TestSweepErrorIsolation(t *testing.T) {
	backend := newMemBackend()
	sink := &captureSink{}
	closer := newTestCloser(backend, sink)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", -time.Minute)))
	require.NoError(t, backend.Create(ctx, activeAuction("a2", "seller", "100", -time.Minute)))
	backend.failClose["a1"] = true

	closed, err := closer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	a2, err := backend.GetByID(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusEnded, a2.Status)

	// The failed auction stays due for the next sweep.
	backend.failClose["a1"] = false
	closed, err = closer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
}

func TestSweepInitiatesSettlement(t *testing.T) {
	backend := newMemBackend()
	closer := newTestCloser(backend, &captureSink{})
	initiator := &captureInitiator{}
	closer.SetSettlementInitiator(initiator)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", -time.Minute)))
	addBid(t, backend, "a1", "alice", "150", time.Now().Add(-time.Hour))

	// No winner means no settlement.
	require.NoError(t, backend.Create(ctx, activeAuction("a2", "seller", "100", -time.Minute)))

	_, err := closer.Sweep(ctx)
	require.NoError(t, err)

	require.Len(t, initiator.calls, 1)
	assert.Equal(t, "a1", initiator.calls[0].AuctionID)
	assert.Equal(t, "alice", initiator.calls[0].WinnerID)
	assert.True(t, initiator.calls[0].Amount.Equal(dec("150")))
}
