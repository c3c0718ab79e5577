package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// BidLedger implements domain.BidLedger using PostgreSQL. Writes that touch
// the auction's current price run in a single transaction with a version
// guard on the auctions row, so the ledger and the price move together.
type BidLedger struct {
	pool *pgxpool.Pool
}

// NewBidLedger creates a new BidLedger backed by the given connection pool.
func NewBidLedger(pool *pgxpool.Pool) *BidLedger {
	return &BidLedger{pool: pool}
}

// Append inserts the bid and raises the auction's current price to the bid
// amount in one transaction.
func (l *BidLedger) Append(ctx context.Context, b domain.Bid, version int64) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin append bid: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE auctions
		 SET current_price = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		b.Amount.String(), b.AuctionID, version)
	if err != nil {
		return fmt.Errorf("postgres: bump auction price %s: %w", b.AuctionID, err)
	}
	if tag.RowsAffected() == 0 {
		return l.auctionConflict(ctx, b.AuctionID, version)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, status, bid_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount.String(), string(b.Status), b.BidTime)
	if err != nil {
		return fmt.Errorf("postgres: insert bid %s: %w", b.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit append bid %s: %w", b.ID, err)
	}
	return nil
}

// MarkCancelled flips the bid to cancelled and writes the recomputed current
// price in one transaction.
func (l *BidLedger) MarkCancelled(ctx context.Context, bidID string, newPrice decimal.Decimal, version int64) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin cancel bid: %w", err)
	}
	defer tx.Rollback(ctx)

	var auctionID string
	err = tx.QueryRow(ctx,
		`UPDATE bids SET status = 'cancelled', cancelled_at = NOW()
		 WHERE id = $1 AND status = 'active'
		 RETURNING auction_id`, bidID).Scan(&auctionID)
	if err == pgx.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: cancel bid %s: %w", bidID, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE auctions
		 SET current_price = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		newPrice.String(), auctionID, version)
	if err != nil {
		return fmt.Errorf("postgres: lower auction price %s: %w", auctionID, err)
	}
	if tag.RowsAffected() == 0 {
		return l.auctionConflict(ctx, auctionID, version)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit cancel bid %s: %w", bidID, err)
	}
	return nil
}

const bidSelectCols = `id, auction_id, bidder_id, amount, status, bid_time, cancelled_at`

func scanBidFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Bid, error) {
	var b domain.Bid
	var status, amount string

	err := scanner.Scan(
		&b.ID, &b.AuctionID, &b.BidderID, &amount,
		&status, &b.BidTime, &b.CancelledAt,
	)
	if err != nil {
		return domain.Bid{}, err
	}

	b.Status = domain.BidStatus(status)
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Bid{}, fmt.Errorf("parse amount: %w", err)
	}
	return b, nil
}

func scanBidRows(rows pgx.Rows) ([]domain.Bid, error) {
	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBidFromRow(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// GetByID retrieves a single bid by ID.
func (l *BidLedger) GetByID(ctx context.Context, id string) (domain.Bid, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+bidSelectCols+` FROM bids WHERE id = $1`, id)

	b, err := scanBidFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bid{}, domain.ErrNotFound
		}
		return domain.Bid{}, fmt.Errorf("postgres: get bid %s: %w", id, err)
	}
	return b, nil
}

// ListActive returns the active bids on an auction ordered best-first:
// highest amount, then earliest bid time.
func (l *BidLedger) ListActive(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+bidSelectCols+` FROM bids
		 WHERE auction_id = $1 AND status = 'active'
		 ORDER BY amount DESC, bid_time ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active bids: %w", err)
	}
	defer rows.Close()

	bids, err := scanBidRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active bids: %w", err)
	}
	return bids, nil
}

// ListByAuction returns all bids on an auction, newest first, with pagination.
func (l *BidLedger) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE auction_id = $1`
	args := []any{auctionID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND bid_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND bid_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY bid_time DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids by auction: %w", err)
	}
	defer rows.Close()

	bids, err := scanBidRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bids by auction: %w", err)
	}
	return bids, nil
}

// ListByBidder returns a bidder's bids, newest first, optionally narrowed to
// one status.
func (l *BidLedger) ListByBidder(ctx context.Context, bidderID string, status domain.BidStatus, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE bidder_id = $1`
	args := []any{bidderID}
	argIdx := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}

	query += " ORDER BY bid_time DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids by bidder: %w", err)
	}
	defer rows.Close()

	bids, err := scanBidRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bids by bidder: %w", err)
	}
	return bids, nil
}

// CountByAuction returns the total number of bids ever placed on an auction.
func (l *BidLedger) CountByAuction(ctx context.Context, auctionID string) (int64, error) {
	var count int64
	err := l.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auctionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bids: %w", err)
	}
	return count, nil
}

func (l *BidLedger) auctionConflict(ctx context.Context, auctionID string, version int64) error {
	var current int64
	err := l.pool.QueryRow(ctx, `SELECT version FROM auctions WHERE id = $1`, auctionID).Scan(&current)
	if err == pgx.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: check auction %s: %w", auctionID, err)
	}
	return fmt.Errorf("postgres: auction %s at version %d, expected %d: %w",
		auctionID, current, version, domain.ErrVersionConflict)
}
