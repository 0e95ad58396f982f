package booking

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository useful for tests and early
// development. Not intended for production.
type MemoryRepo struct {
	mu       sync.Mutex
	rows     map[string]Booking
	settling map[string]bool
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]Booking), settling: make(map[string]bool)}
}

func (r *MemoryRepo) Create(ctx context.Context, b Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[b.ID] = b
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

func (r *MemoryRepo) Update(ctx context.Context, b Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[b.ID]; !ok {
		return ErrNotFound
	}
	r.rows[b.ID] = b
	return nil
}

func (r *MemoryRepo) ClaimSettlement(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return false, ErrNotFound
	}
	if r.settling[id] {
		return false, nil
	}
	r.settling[id] = true
	return true, nil
}

func (r *MemoryRepo) ReleaseSettlement(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return ErrNotFound
	}
	delete(r.settling, id)
	return nil
}

func (r *MemoryRepo) ListByAccount(ctx context.Context, accountID string) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.rows {
		if b.RequesterID == accountID || b.ProviderID == accountID {
			out = append(out, b)
		}
	}
	return out, nil
}
