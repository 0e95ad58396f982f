package wallet

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store with the same semantics as PostgresStore.
// Useful for tests and early development; not intended for production.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]int64)}
}

// Seed creates or replaces a wallet with the given balance.
func (s *MemoryStore) Seed(ownerID string, balanceMinor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ownerID] = balanceMinor
}

func (s *MemoryStore) Balance(ctx context.Context, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[ownerID]
	if !ok {
		return 0, ErrNotFound
	}
	return bal, nil
}

func (s *MemoryStore) Increase(ctx context.Context, ownerID string, amountMinor int64) (int64, error) {
	if amountMinor <= 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[ownerID]
	if !ok {
		return 0, ErrNotFound
	}
	bal += amountMinor
	s.balances[ownerID] = bal
	return bal, nil
}

func (s *MemoryStore) Decrease(ctx context.Context, ownerID string, amountMinor int64) (int64, error) {
	if amountMinor <= 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[ownerID]
	if !ok {
		return 0, ErrNotFound
	}
	if bal < amountMinor {
		return 0, ErrInsufficientBalance
	}
	bal -= amountMinor
	s.balances[ownerID] = bal
	return bal, nil
}
