package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// memBackend is an in-memory AuctionStore plus BidLedger sharing one state,
// with the same version guard semantics as the postgres implementations.
type memBackend struct {
	mu       sync.Mutex
	auctions map[string]domain.Auction
	bids     map[string]domain.Bid

	// failClose makes Close fail for the given auction IDs.
	failClose map[string]bool

	// failAppend makes every Append fail, simulating a store outage.
	failAppend bool
}

func newMemBackend() *memBackend {
	return &memBackend{
		auctions:  make(map[string]domain.Auction),
		bids:      make(map[string]domain.Bid),
		failClose: make(map[string]bool),
	}
}

func (m *memBackend) Create(_ context.Context, a domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[a.ID] = a
	return nil
}

func (m *memBackend) GetByID(_ context.Context, id string) (domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memBackend) List(_ context.Context, f domain.AuctionFilter, _ domain.ListOpts) ([]domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Auction
	for _, a := range m.auctions {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memBackend) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Auction
	for _, a := range m.auctions {
		if a.Status == domain.AuctionStatusActive && !now.Before(a.EndTime) {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memBackend) Close(_ context.Context, id string, winnerID *string, finalPrice decimal.Decimal, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClose[id] {
		return fmt.Errorf("backend down")
	}
	a, ok := m.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Status != domain.AuctionStatusActive || a.Version != version {
		return domain.ErrVersionConflict
	}
	a.Status = domain.AuctionStatusEnded
	a.WinnerID = winnerID
	a.CurrentPrice = finalPrice
	a.Version++
	m.auctions[id] = a
	return nil
}

func (m *memBackend) SetStatus(_ context.Context, id string, status domain.AuctionStatus, reason string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Version != version {
		return domain.ErrVersionConflict
	}
	a.Status = status
	a.StatusReason = reason
	a.Version++
	m.auctions[id] = a
	return nil
}

func (m *memBackend) Count(_ context.Context, status domain.AuctionStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.auctions {
		if status == "" || a.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memBackend) Append(_ context.Context, b domain.Bid, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return fmt.Errorf("backend down")
	}
	a, ok := m.auctions[b.AuctionID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Version != version {
		return domain.ErrVersionConflict
	}
	a.CurrentPrice = b.Amount
	a.Version++
	m.auctions[b.AuctionID] = a
	m.bids[b.ID] = b
	return nil
}

func (m *memBackend) MarkCancelled(_ context.Context, bidID string, newPrice decimal.Decimal, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[bidID]
	if !ok || b.Status != domain.BidStatusActive {
		return domain.ErrNotFound
	}
	a, ok := m.auctions[b.AuctionID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Version != version {
		return domain.ErrVersionConflict
	}
	now := time.Now()
	b.Status = domain.BidStatusCancelled
	b.CancelledAt = &now
	m.bids[bidID] = b
	a.CurrentPrice = newPrice
	a.Version++
	m.auctions[b.AuctionID] = a
	return nil
}

func (m *memBackend) GetBid(_ context.Context, id string) (domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok {
		return domain.Bid{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memBackend) ListActive(_ context.Context, auctionID string) ([]domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bid
	for _, b := range m.bids {
		if b.AuctionID == auctionID && b.Status == domain.BidStatusActive {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBackend) ListByAuction(_ context.Context, auctionID string, _ domain.ListOpts) ([]domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bid
	for _, b := range m.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBackend) ListByBidder(_ context.Context, bidderID string, status domain.BidStatus, _ domain.ListOpts) ([]domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bid
	for _, b := range m.bids {
		if b.BidderID != bidderID {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memBackend) CountByAuction(_ context.Context, auctionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.bids {
		if b.AuctionID == auctionID {
			n++
		}
	}
	return n, nil
}

// bidLedgerView adapts memBackend to domain.BidLedger, whose GetByID collides
// with the auction store method of the same name.
type bidLedgerView struct{ *memBackend }

func (v bidLedgerView) GetByID(ctx context.Context, id string) (domain.Bid, error) {
	return v.GetBid(ctx, id)
}

// captureSink records every delivered event.
type captureSink struct {
	mu        sync.Mutex
	placed    []domain.BidPlacedEvent
	cancelled []domain.BidCancelledEvent
	ended     []domain.AuctionEndedEvent
}

func (s *captureSink) BidPlaced(_ context.Context, ev domain.BidPlacedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed = append(s.placed, ev)
}

func (s *captureSink) BidCancelled(_ context.Context, ev domain.BidCancelledEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, ev)
}

func (s *captureSink) AuctionEnded(_ context.Context, ev domain.AuctionEndedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, ev)
}

func (s *captureSink) endedEvents() []domain.AuctionEndedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuctionEndedEvent(nil), s.ended...)
}

// denyLimiter rejects every request.
type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}
