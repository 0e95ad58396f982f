package catalog

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development. Supports exact offering id matches only.
type MemoryRepo struct {
	mu        sync.Mutex
	offerings []ServiceOffering
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Create(ctx context.Context, o ServiceOffering) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offerings = append(r.offerings, o)
	return nil
}

func (r *MemoryRepo) FindEffective(ctx context.Context, providerID, offeringID string, at time.Time) (ServiceOffering, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Prefer the most recently effective row.
	var best ServiceOffering
	found := false
	for _, o := range r.offerings {
		if !effective(o, providerID, offeringID, at) {
			continue
		}
		if !found || o.EffectiveFrom.After(best.EffectiveFrom) {
			best = o
			found = true
		}
	}
	return best, found, nil
}

func (r *MemoryRepo) ListByProvider(ctx context.Context, providerID string, at time.Time) ([]ServiceOffering, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ServiceOffering
	for _, o := range r.offerings {
		if effective(o, providerID, "", at) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *MemoryRepo) Retire(ctx context.Context, providerID, offeringID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.offerings {
		o := &r.offerings[i]
		if o.ProviderID == providerID && o.ID == offeringID && o.Status == OfferingStatusActive {
			o.Status = OfferingStatusRetired
			o.UpdatedAt = at
			return nil
		}
	}
	return ErrOfferingNotFound
}

func effective(o ServiceOffering, providerID, offeringID string, at time.Time) bool {
	if o.ProviderID != providerID {
		return false
	}
	if offeringID != "" && o.ID != offeringID {
		return false
	}
	if o.Status != OfferingStatusActive {
		return false
	}
	if at.Before(o.EffectiveFrom) {
		return false
	}
	if o.EffectiveTo != nil && !at.Before(*o.EffectiveTo) {
		return false
	}
	return true
}
