package wallet

import (
	"context"
	"errors"
)

// Store is the balance contract for requester and provider accounts.
//
// Money invariants:
// - A balance only ever changes through Increase or Decrease.
// - Decrease is an atomic check-and-subtract at the storage layer. It must
//   never be implemented as read-compare-write: two concurrent debits reading
//   the same stale balance could both succeed and overdraw the account.
// - Balances are non-negative integers in the smallest currency unit.
//
// Callers must treat any cached balance as display-only and rely on Decrease
// itself to enforce sufficiency.
type Store interface {
	Balance(ctx context.Context, ownerID string) (int64, error)

	// Increase credits the account unconditionally and returns the new balance.
	Increase(ctx context.Context, ownerID string, amountMinor int64) (int64, error)

	// Decrease debits the account if and only if the balance covers the full
	// amount. Returns the new balance, or ErrInsufficientBalance with no
	// mutation applied.
	Decrease(ctx context.Context, ownerID string, amountMinor int64) (int64, error)
}

var (
	ErrNotFound            = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)
