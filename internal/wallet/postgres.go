package wallet

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore implements Store against a wallets table:
//
//	CREATE TABLE wallets (
//	  owner_id      text PRIMARY KEY,
//	  balance_minor bigint NOT NULL DEFAULT 0 CHECK (balance_minor >= 0),
//	  updated_at    timestamptz NOT NULL DEFAULT now()
//	);
//
// Both mutations are single conditional statements so concurrent debits
// serialize on the row inside Postgres; no client-side locking exists.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Balance(ctx context.Context, ownerID string) (int64, error) {
	const q = `SELECT balance_minor FROM wallets WHERE owner_id = $1`
	var bal int64
	if err := s.db.QueryRowContext(ctx, q, ownerID).Scan(&bal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return bal, nil
}

func (s *PostgresStore) Increase(ctx context.Context, ownerID string, amountMinor int64) (int64, error) {
	if amountMinor <= 0 {
		return 0, ErrInvalidAmount
	}

	const q = `
UPDATE wallets
SET balance_minor = balance_minor + $2, updated_at = now()
WHERE owner_id = $1
RETURNING balance_minor`
	var bal int64
	if err := s.db.QueryRowContext(ctx, q, ownerID, amountMinor).Scan(&bal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return bal, nil
}

func (s *PostgresStore) Decrease(ctx context.Context, ownerID string, amountMinor int64) (int64, error) {
	if amountMinor <= 0 {
		return 0, ErrInvalidAmount
	}

	// The balance guard lives in the WHERE clause: zero rows affected means the
	// wallet is missing or cannot cover the amount, and nothing was mutated.
	const q = `
UPDATE wallets
SET balance_minor = balance_minor - $2, updated_at = now()
WHERE owner_id = $1 AND balance_minor >= $2
RETURNING balance_minor`
	var bal int64
	err := s.db.QueryRowContext(ctx, q, ownerID, amountMinor).Scan(&bal)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	// Distinguish a missing wallet from an underfunded one.
	if _, berr := s.Balance(ctx, ownerID); berr != nil {
		return 0, berr
	}
	return 0, ErrInsufficientBalance
}
