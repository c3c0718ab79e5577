package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gavelhq/gavel/internal/domain"
)

// terminalStatuses are the auction states eligible for cold-storage archival.
const terminalStatuses = `('ended', 'sold', 'cancelled', 'rejected')`

// ListClosedBefore returns auctions in a terminal state whose end time is
// strictly before the cutoff. Used by the archiver.
func (s *AuctionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions
		 WHERE status IN `+terminalStatuses+` AND end_time < $1
		 ORDER BY end_time ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed auctions: %w", err)
	}
	defer rows.Close()

	auctions, err := scanAuctionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed auctions: %w", err)
	}
	return auctions, nil
}

// DeleteClosedBefore removes archived auctions from the primary store. Bids
// and settlements cascade. Auctions with a settlement still pending are kept
// so the retry worker can finish them.
func (s *AuctionStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM auctions
		 WHERE status IN `+terminalStatuses+` AND end_time < $1
		 AND NOT EXISTS (
		     SELECT 1 FROM settlements st
		     WHERE st.auction_id = auctions.id AND st.status = 'pending'
		 )`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed auctions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListClosedBefore returns every bid on an auction in a terminal state whose
// end time is strictly before the cutoff. Used by the archiver.
func (l *BidLedger) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Bid, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT b.id, b.auction_id, b.bidder_id, b.amount, b.status, b.bid_time, b.cancelled_at
		 FROM bids b
		 JOIN auctions a ON a.id = b.auction_id
		 WHERE a.status IN `+terminalStatuses+` AND a.end_time < $1
		 ORDER BY b.bid_time ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed bids: %w", err)
	}
	defer rows.Close()

	bids, err := scanBidRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed bids: %w", err)
	}
	return bids, nil
}
