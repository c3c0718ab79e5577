package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given
// connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Create inserts a new settlement. The unique auction_id constraint makes a
// duplicate initiation for the same auction fail at the database.
func (s *SettlementStore) Create(ctx context.Context, st domain.Settlement) error {
	const query = `
		INSERT INTO settlements (
			id, auction_id, buyer_id, seller_id, amount,
			payment_intent_id, status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		st.ID, st.AuctionID, st.BuyerID, st.SellerID, st.Amount.String(),
		st.PaymentIntentID, string(st.Status), st.Attempts,
	)
	if err != nil {
		return fmt.Errorf("postgres: create settlement %s: %w", st.ID, err)
	}
	return nil
}

const settlementSelectCols = `id, auction_id, buyer_id, seller_id, amount,
	payment_intent_id, status, attempts, created_at, updated_at`

func scanSettlementFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Settlement, error) {
	var st domain.Settlement
	var status, amount string

	err := scanner.Scan(
		&st.ID, &st.AuctionID, &st.BuyerID, &st.SellerID, &amount,
		&st.PaymentIntentID, &status, &st.Attempts,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return domain.Settlement{}, err
	}

	st.Status = domain.SettlementStatus(status)
	if st.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Settlement{}, fmt.Errorf("parse amount: %w", err)
	}
	return st, nil
}

// GetByID retrieves a single settlement by ID.
func (s *SettlementStore) GetByID(ctx context.Context, id string) (domain.Settlement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+settlementSelectCols+` FROM settlements WHERE id = $1`, id)

	st, err := scanSettlementFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Settlement{}, domain.ErrNotFound
		}
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", id, err)
	}
	return st, nil
}

// GetByAuction retrieves the settlement for an auction.
func (s *SettlementStore) GetByAuction(ctx context.Context, auctionID string) (domain.Settlement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+settlementSelectCols+` FROM settlements WHERE auction_id = $1`, auctionID)

	st, err := scanSettlementFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Settlement{}, domain.ErrNotFound
		}
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement for auction %s: %w", auctionID, err)
	}
	return st, nil
}

// UpdateIntent records the payment intent handle returned by the gateway and
// bumps the attempt counter.
func (s *SettlementStore) UpdateIntent(ctx context.Context, id, intentID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE settlements
		 SET payment_intent_id = $1, attempts = attempts + 1, updated_at = NOW()
		 WHERE id = $2`, intentID, id)
	if err != nil {
		return fmt.Errorf("postgres: update settlement intent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetStatus changes a settlement's status.
func (s *SettlementStore) SetStatus(ctx context.Context, id string, status domain.SettlementStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE settlements SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: set settlement status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPending returns pending settlements not touched since olderThan, oldest
// first, for the retry worker.
func (s *SettlementStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementSelectCols+` FROM settlements
		 WHERE status = 'pending' AND updated_at <= $1
		 ORDER BY updated_at ASC
		 LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending settlements: %w", err)
	}
	defer rows.Close()

	var settlements []domain.Settlement
	for rows.Next() {
		st, err := scanSettlementFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pending settlements: %w", err)
		}
		settlements = append(settlements, st)
	}
	return settlements, rows.Err()
}
