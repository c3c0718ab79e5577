package auction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/domain"
)

func newTestService(backend *memBackend) *Service {
	return NewService(backend, testLogger())
}

func TestCreateAuction(t *testing.T) {
	backend := newMemBackend()
	svc := newTestService(backend)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateParams{
		SellerID:      "seller",
		Title:         "vintage camera",
		StartingPrice: dec("100"),
		StartTime:     time.Now().Add(-time.Minute),
		EndTime:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, domain.AuctionStatusActive, a.Status)
	assert.True(t, a.CurrentPrice.Equal(dec("100")))

	got, err := backend.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "seller", got.SellerID)
}

func TestCreateAuctionFutureStartIsDraft(t *testing.T) {
	svc := newTestService(newMemBackend())

	a, err := svc.Create(context.Background(), CreateParams{
		SellerID:      "seller",
		Title:         "vintage camera",
		StartingPrice: dec("100"),
		StartTime:     time.Now().Add(time.Hour),
		EndTime:       time.Now().Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusDraft, a.Status)
}

func TestCreateAuctionValidation(t *testing.T) {
	svc := newTestService(newMemBackend())
	now := time.Now()

	cases := map[string]CreateParams{
		"missing seller": {
			Title: "x", StartingPrice: dec("1"),
			StartTime: now, EndTime: now.Add(time.Hour),
		},
		"missing title": {
			SellerID: "s", StartingPrice: dec("1"),
			StartTime: now, EndTime: now.Add(time.Hour),
		},
		"zero price": {
			SellerID: "s", Title: "x", StartingPrice: dec("0"),
			StartTime: now, EndTime: now.Add(time.Hour),
		},
		"negative price": {
			SellerID: "s", Title: "x", StartingPrice: dec("-5"),
			StartTime: now, EndTime: now.Add(time.Hour),
		},
		"end before start": {
			SellerID: "s", Title: "x", StartingPrice: dec("1"),
			StartTime: now.Add(time.Hour), EndTime: now,
		},
		"end in past": {
			SellerID: "s", Title: "x", StartingPrice: dec("1"),
			StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour),
		},
	}
	for name, p := range cases {
		_, err := svc.Create(context.Background(), p)
		assert.ErrorIs(t, err, domain.ErrInvalidAuction, name)
	}
}

func TestSuspendAndActivate(t *testing.T) {
	backend := newMemBackend()
	svc := newTestService(backend)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	require.NoError(t, svc.Suspend(ctx, "a1", "reported listing"))
	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusSuspended, a.Status)
	assert.Equal(t, "reported listing", a.StatusReason)

	// Suspended auctions refuse bidding.
	assert.False(t, a.BiddingOpen(time.Now()))

	require.NoError(t, svc.Activate(ctx, "a1"))
	a, err = backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusActive, a.Status)
}

func TestRejectEndedAuction(t *testing.T) {
	backend := newMemBackend()
	svc := newTestService(backend)
	ctx := context.Background()

	ended := activeAuction("a1", "seller", "100", time.Hour)
	ended.Status = domain.AuctionStatusEnded
	require.NoError(t, backend.Create(ctx, ended))

	err := svc.Reject(ctx, "a1", "fraud")
	assert.ErrorIs(t, err, domain.ErrInvalidAuction)
}

func TestSellerCancel(t *testing.T) {
	backend := newMemBackend()
	svc := newTestService(backend)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, activeAuction("a1", "seller", "100", time.Hour)))

	err := svc.Cancel(ctx, "a1", "mallory", "changed my mind")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, svc.Cancel(ctx, "a1", "seller", "changed my mind"))
	a, err := backend.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusCancelled, a.Status)

	err = svc.Cancel(ctx, "a1", "seller", "again")
	assert.ErrorIs(t, err, domain.ErrAuctionClosed)
}
