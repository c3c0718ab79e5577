package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

// Create inserts a new auction row.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	images, err := json.Marshal(a.Images)
	if err != nil {
		return fmt.Errorf("postgres: marshal auction images %s: %w", a.ID, err)
	}

	const query = `
		INSERT INTO auctions (
			id, seller_id, title, description, category, condition, images,
			starting_price, current_price, status, status_reason,
			start_time, end_time, winner_id, version,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			NOW(), NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.SellerID, a.Title, a.Description, a.Category, a.Condition, images,
		a.StartingPrice.String(), a.CurrentPrice.String(),
		string(a.Status), a.StatusReason,
		a.StartTime, a.EndTime, a.WinnerID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	return nil
}

// auctionSelectCols lists the columns selected when reading auctions.
const auctionSelectCols = `id, seller_id, title, description, category, condition, images,
	starting_price, current_price, status, status_reason,
	start_time, end_time, winner_id, version, created_at, updated_at`

func scanAuctionFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Auction, error) {
	var a domain.Auction
	var status string
	var images []byte
	var startingPrice, currentPrice string

	err := scanner.Scan(
		&a.ID, &a.SellerID, &a.Title, &a.Description, &a.Category, &a.Condition, &images,
		&startingPrice, &currentPrice, &status, &a.StatusReason,
		&a.StartTime, &a.EndTime, &a.WinnerID, &a.Version,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}

	a.Status = domain.AuctionStatus(status)
	if len(images) > 0 {
		if err := json.Unmarshal(images, &a.Images); err != nil {
			return domain.Auction{}, fmt.Errorf("unmarshal images: %w", err)
		}
	}
	if a.StartingPrice, err = decimal.NewFromString(startingPrice); err != nil {
		return domain.Auction{}, fmt.Errorf("parse starting_price: %w", err)
	}
	if a.CurrentPrice, err = decimal.NewFromString(currentPrice); err != nil {
		return domain.Auction{}, fmt.Errorf("parse current_price: %w", err)
	}
	return a, nil
}

func scanAuctionRows(rows pgx.Rows) ([]domain.Auction, error) {
	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuctionFromRow(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

// GetByID retrieves a single auction by ID.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id)

	a, err := scanAuctionFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// List returns auctions matching the filter with pagination.
func (s *AuctionStore) List(ctx context.Context, f domain.AuctionFilter, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.SellerID != "" {
		query += fmt.Sprintf(" AND seller_id = $%d", argIdx)
		args = append(args, f.SellerID)
		argIdx++
	}
	if f.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, f.Category)
		argIdx++
	}
	if f.MinPrice != nil {
		query += fmt.Sprintf(" AND current_price >= $%d", argIdx)
		args = append(args, f.MinPrice.String())
		argIdx++
	}
	if f.MaxPrice != nil {
		query += fmt.Sprintf(" AND current_price <= $%d", argIdx)
		args = append(args, f.MaxPrice.String())
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	defer rows.Close()

	auctions, err := scanAuctionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan auctions: %w", err)
	}
	return auctions, nil
}

// ListDue returns active auctions whose end time has passed, oldest first.
func (s *AuctionStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions
		 WHERE status = 'active' AND end_time <= $1
		 ORDER BY end_time ASC
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due auctions: %w", err)
	}
	defer rows.Close()

	auctions, err := scanAuctionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan due auctions: %w", err)
	}
	return auctions, nil
}

// Close transitions an active auction to ended, recording the winner and
// final price. The version guard makes a concurrent close or bid lose
// cleanly instead of silently overwriting.
func (s *AuctionStore) Close(ctx context.Context, id string, winnerID *string, finalPrice decimal.Decimal, version int64) error {
	const query = `
		UPDATE auctions
		SET status = 'ended', winner_id = $1, current_price = $2,
		    version = version + 1, updated_at = NOW()
		WHERE id = $3 AND status = 'active' AND version = $4`

	tag, err := s.pool.Exec(ctx, query, winnerID, finalPrice.String(), id, version)
	if err != nil {
		return fmt.Errorf("postgres: close auction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.rowConflict(ctx, id, version)
	}
	return nil
}

// SetStatus applies a moderation or settlement transition with its reason.
func (s *AuctionStore) SetStatus(ctx context.Context, id string, status domain.AuctionStatus, reason string, version int64) error {
	const query = `
		UPDATE auctions
		SET status = $1, status_reason = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`

	tag, err := s.pool.Exec(ctx, query, string(status), reason, id, version)
	if err != nil {
		return fmt.Errorf("postgres: set auction status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.rowConflict(ctx, id, version)
	}
	return nil
}

// Count returns the number of auctions in the given status, or all auctions
// when status is empty.
func (s *AuctionStore) Count(ctx context.Context, status domain.AuctionStatus) (int64, error) {
	var count int64
	var err error
	if status == "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM auctions`).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM auctions WHERE status = $1`, string(status)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: count auctions: %w", err)
	}
	return count, nil
}

// rowConflict distinguishes a missing row from a version (or status) guard
// failure after an UPDATE touched zero rows.
func (s *AuctionStore) rowConflict(ctx context.Context, id string, version int64) error {
	var current int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM auctions WHERE id = $1`, id).Scan(&current)
	if err == pgx.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: check auction %s: %w", id, err)
	}
	return fmt.Errorf("postgres: auction %s at version %d, expected %d: %w",
		id, current, version, domain.ErrVersionConflict)
}
