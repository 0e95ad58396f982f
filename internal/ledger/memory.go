package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository with the same transition semantics as
// PostgresRepo. Useful for tests; not intended for production.
type MemoryRepo struct {
	mu    sync.Mutex
	rows  map[string]Transaction
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]Transaction), clock: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, t Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[t.Reference]; ok {
		return ErrDuplicateReference
	}
	now := r.clock().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.Metadata = cloneMeta(t.Metadata)
	r.rows[t.Reference] = t
	return nil
}

func (r *MemoryRepo) GetByReference(ctx context.Context, reference string) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[reference]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	t.Metadata = cloneMeta(t.Metadata)
	return t, nil
}

func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID string) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transaction
	for _, t := range r.rows {
		if t.OwnerID == ownerID {
			t.Metadata = cloneMeta(t.Metadata)
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *MemoryRepo) MarkProcessing(ctx context.Context, reference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[reference]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return ErrTerminal
	}
	t.Status = StatusProcessing
	t.UpdatedAt = r.clock().UTC()
	r.rows[reference] = t
	return nil
}

func (r *MemoryRepo) ClaimCompletion(ctx context.Context, reference string, meta map[string]string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[reference]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status.Terminal() {
		return false, nil
	}
	t.Status = StatusCompleted
	t.Metadata = mergeMeta(t.Metadata, meta)
	t.UpdatedAt = r.clock().UTC()
	r.rows[reference] = t
	return true, nil
}

func (r *MemoryRepo) MarkFailed(ctx context.Context, reference string, stage Stage, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[reference]
	if !ok {
		return ErrNotFound
	}
	if t.Status == StatusFailed {
		return ErrTerminal
	}
	if t.Status == StatusCompleted && stage != StageWalletUpdate {
		return ErrTerminal
	}
	t.Status = StatusFailed
	t.Metadata = mergeMeta(t.Metadata, map[string]string{
		MetaFailureStage: string(stage),
		MetaErrorDetail:  detail,
	})
	t.UpdatedAt = r.clock().UTC()
	r.rows[reference] = t
	return nil
}

func (r *MemoryRepo) SumCapturedForBooking(ctx context.Context, bookingID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, t := range r.rows {
		if t.BookingID != bookingID || t.Type != TypePayment || t.Status != StatusCompleted {
			continue
		}
		if t.Metadata[MetaPaymentStage] == "refund" {
			continue
		}
		sum += t.AmountMinor
	}
	return sum, nil
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mergeMeta(dst, patch map[string]string) map[string]string {
	out := cloneMeta(dst)
	if out == nil {
		out = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
