package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type fakeArchiveStore struct {
	auctions []domain.Auction
	bids     []domain.Bid
	deleted  []time.Time
}

func (s *fakeArchiveStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Auction, error) {
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.EndTime.Before(before) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeArchiveStore) DeleteClosedBefore(_ context.Context, before time.Time) (int64, error) {
	s.deleted = append(s.deleted, before)
	var n int64
	for _, a := range s.auctions {
		if a.EndTime.Before(before) {
			n++
		}
	}
	return n, nil
}

type fakeBidArchive struct {
	bids []domain.Bid
}

func (s *fakeBidArchive) ListClosedBefore(context.Context, time.Time) ([]domain.Bid, error) {
	return s.bids, nil
}

type memAudit struct {
	events []string
	detail []map[string]any
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.detail = append(a.detail, detail)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func countLines(t *testing.T, data []byte) int {
	t.Helper()
	sc := bufio.NewScanner(bytes.NewReader(data))
	n := 0
	for sc.Scan() {
		var v map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		n++
	}
	return n
}

func TestArchiveAuctions(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-30 * 24 * time.Hour)

	store := &fakeArchiveStore{
		auctions: []domain.Auction{
			{ID: "a1", Status: domain.AuctionStatusSold, EndTime: old, StartingPrice: decimal.RequireFromString("10"), CurrentPrice: decimal.RequireFromString("40")},
			{ID: "a2", Status: domain.AuctionStatusEnded, EndTime: old.Add(time.Hour), StartingPrice: decimal.RequireFromString("5"), CurrentPrice: decimal.RequireFromString("5")},
			{ID: "a3", Status: domain.AuctionStatusActive, EndTime: cutoff.Add(time.Hour)},
		},
	}
	bids := &fakeBidArchive{bids: []domain.Bid{
		{ID: "b1", AuctionID: "a1", Amount: decimal.RequireFromString("40")},
		{ID: "b2", AuctionID: "a1", Amount: decimal.RequireFromString("20")},
	}}
	writer := &memWriter{}
	audit := &memAudit{}

	arch := NewArchiver(writer, store, bids, audit)
	count, err := arch.ArchiveAuctions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	auctionObj, ok := writer.objects["archive/auctions/2026-08.jsonl"]
	require.True(t, ok, "auction archive object missing")
	assert.Equal(t, 2, countLines(t, auctionObj))

	bidObj, ok := writer.objects["archive/bids/2026-08.jsonl"]
	require.True(t, ok, "bid archive object missing")
	assert.Equal(t, 2, countLines(t, bidObj))

	require.Len(t, store.deleted, 1, "archived rows should be purged")
	require.Len(t, audit.events, 1)
	assert.Equal(t, "archive.auctions", audit.events[0])
	assert.Equal(t, int64(2), audit.detail[0]["deleted"])
}

func TestArchiveAuctionsNothingDue(t *testing.T) {
	writer := &memWriter{}
	audit := &memAudit{}
	store := &fakeArchiveStore{}

	arch := NewArchiver(writer, store, &fakeBidArchive{}, audit)
	count, err := arch.ArchiveAuctions(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.objects)
	assert.Empty(t, store.deleted, "no purge without an upload")
	assert.Empty(t, audit.events)
}
