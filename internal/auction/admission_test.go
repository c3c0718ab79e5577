package auction

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/cache/memory"
	"github.com/gavelhq/gavel/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEngine(backend *memBackend, sink domain.EventSink) *Engine {
	return NewEngine(
		backend, bidLedgerView{backend}, memory.NewLockManager(), sink,
		500*time.Millisecond, 5*time.Second,
		testLogger(),
	)
}

func activeAuction(id, sellerID, price string, endsIn time.Duration) domain.Auction {
	now := time.Now()
	return domain.Auction{
		ID:            id,
		SellerID:      sellerID,
		Title:         "vintage camera",
		StartingPrice: dec(price),
		CurrentPrice:  dec(price),
		Status:        domain.AuctionStatusActive,
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(endsIn),
		Version:       1,
	}
}

func TestPlaceBid(t *testing.T) {
	backend := newMemBackend()
	sink := &captureSink{}
	engine := newTestEngine(backend, sink)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	bid, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	require.NoError(t, err)
	assert.Equal(t, "a1", bid.AuctionID)
	assert.Equal(t, "alice", bid.BidderID)
	assert.Equal(t, domain.BidStatusActive, bid.Status)
	assert.True(t, bid.Amount.Equal(dec("150")))

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.CurrentPrice.Equal(dec("150")))
	assert.Equal(t, int64(2), a.Version)

	require.Len(t, sink.placed, 1)
	assert.Equal(t, bid.ID, sink.placed[0].BidID)
}

func TestPlaceBidUnknownAuction(t *testing.T) {
	engine := newTestEngine(newMemBackend(), &captureSink{})

	_, err := engine.PlaceBid(context.Background(), "missing", "alice", dec("150"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBidClosedAuction(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	ended := activeAuction("a1", "seller", "100", time.Hour)
	ended.Status = domain.AuctionStatusEnded
	require.NoError(t, backend.Create(ctx, ended))

	_, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	assert.ErrorIs(t, err, domain.ErrAuctionClosed)
}

func TestPlaceBidPastEndTime(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	// Still marked active because the sweep has not run yet, but the window
	// has passed: admission must refuse without waiting for the closer.
	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", -time.Minute)))

	_, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	assert.ErrorIs(t, err, domain.ErrAuctionClosed)
}

func TestPlaceBidTooLow(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	for _, amount := range []string{"50", "100"} {
		_, err := engine.PlaceBid(ctx, "a1", "alice", dec(amount))
		assert.ErrorIs(t, err, domain.ErrBidTooLow, "amount %s", amount)
	}

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.CurrentPrice.Equal(dec("100")))
}

func TestPlaceBidEqualToCurrentRejected(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	_, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	require.NoError(t, err)

	// Matching the standing bid is not outbidding it.
	_, err = engine.PlaceBid(ctx, "a1", "bob", dec("150"))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)
}

func TestPlaceBidSelfBid(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	_, err := engine.PlaceBid(ctx, "a1", "seller", dec("150"))
	assert.ErrorIs(t, err, domain.ErrSelfBid)
}

func TestPlaceBidPreconditionOrder(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	// The seller bidding below the current price on an expired auction must
	// see the window error, not the amount or ownership error.
	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", -time.Minute)))
	_, err := engine.PlaceBid(ctx, "a1", "seller", dec("50"))
	assert.ErrorIs(t, err, domain.ErrAuctionClosed)

	// On an open auction a too-low self-bid reports the amount first.
	require.NoError(t, backend.Create(ctx, activeAuction("a2", "seller", "100", time.Hour)))
	_, err = engine.PlaceBid(ctx, "a2", "seller", dec("50"))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)
}

func TestPlaceBidConcurrentMonotonicPrice(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	amounts := []string{"150", "120"}
	for i, amount := range amounts {
		wg.Add(1)
		go func(i int, amount string) {
			defer wg.Done()
			_, errs[i] = engine.PlaceBid(ctx, "a1", "bidder"+amount, dec(amount))
		}(i, amount)
	}
	wg.Wait()

	// The 150 bid always lands. The 120 bid either landed first or lost to
	// the standing 150; the price never regresses below the highest commit.
	require.NoError(t, errs[0])
	if errs[1] != nil {
		assert.ErrorIs(t, errs[1], domain.ErrBidTooLow)
	}

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.CurrentPrice.Equal(dec("150")),
		"price %s after concurrent bids", a.CurrentPrice)
}

func TestPlaceBidBusy(t *testing.T) {
	backend := newMemBackend()
	locks := memory.NewLockManager()
	engine := NewEngine(
		backend, bidLedgerView{backend}, locks, &captureSink{},
		30*time.Millisecond, 5*time.Second,
		testLogger(),
	)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	unlock, err := locks.Acquire(ctx, "auction:a1", time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	assert.ErrorIs(t, err, domain.ErrBusy)
}

func TestPlaceBidRateLimited(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	engine.SetRateLimiter(denyLimiter{}, 5, time.Minute)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	_, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestPlaceBidStoreFailure(t *testing.T) {
	backend := newMemBackend()
	sink := &captureSink{}
	engine := newTestEngine(backend, sink)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))
	backend.failAppend = true

	// A ledger write failure surfaces to the caller with nothing applied: no
	// price change, no version bump, no event.
	_, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrBidTooLow)

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.CurrentPrice.Equal(dec("100")))
	assert.Equal(t, int64(1), a.Version)
	assert.Empty(t, sink.placed)

	// The outage clearing lets the same bid through untouched.
	backend.failAppend = false
	_, err = engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	require.NoError(t, err)
}

func TestCancelBidRecomputesPrice(t *testing.T) {
	backend := newMemBackend()
	sink := &captureSink{}
	engine := newTestEngine(backend, sink)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	_, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	require.NoError(t, err)
	top, err := engine.PlaceBid(ctx, "a1", "bob", dec("200"))
	require.NoError(t, err)

	cancelled, err := engine.CancelBid(ctx, top.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.CurrentPrice.Equal(dec("150")),
		"price %s after cancelling top bid", a.CurrentPrice)

	require.Len(t, sink.cancelled, 1)
	assert.True(t, sink.cancelled[0].CurrentPrice.Equal(dec("150")))
}

func TestCancelLastBidFallsBackToStartingPrice(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	bid, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	require.NoError(t, err)

	_, err = engine.CancelBid(ctx, bid.ID, "alice")
	require.NoError(t, err)

	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.CurrentPrice.Equal(dec("100")))
}

func TestCancelBidNotOwner(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	bid, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	require.NoError(t, err)

	_, err = engine.CancelBid(ctx, bid.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := bidLedgerView{backend}.GetByID(ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusActive, got.Status)
}

func TestCancelBidAfterEnd(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	bid, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	require.NoError(t, err)

	// Expire the window without running the closer.
	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	a.EndTime = time.Now().Add(-time.Minute)
	require.NoError(t, backend.Create(ctx, a))

	_, err = engine.CancelBid(ctx, bid.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrAuctionClosed)
}

func TestCancelBidTwice(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(backend, &captureSink{})
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	bid, err := engine.PlaceBid(ctx, "a1", "alice", dec("150"))
	require.NoError(t, err)

	_, err = engine.CancelBid(ctx, bid.ID, "alice")
	require.NoError(t, err)

	_, err = engine.CancelBid(ctx, bid.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
