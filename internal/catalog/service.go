package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOfferingNotFound = errors.New("service offering not found")
	ErrInvalidOffering  = errors.New("invalid service offering")
)

// Repository abstracts offering persistence.
type Repository interface {
	Create(ctx context.Context, o ServiceOffering) error
	// FindEffective returns the offering row effective at the given time,
	// preferring the most recently effective one.
	FindEffective(ctx context.Context, providerID, offeringID string, at time.Time) (ServiceOffering, bool, error)
	ListByProvider(ctx context.Context, providerID string, at time.Time) ([]ServiceOffering, error)
	Retire(ctx context.Context, providerID, offeringID string, at time.Time) error
}

// Service manages provider service catalogs and quotes booking line items
// from them. Pure lookups and calculation; no wallet or gateway calls.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

type PublishRequest struct {
	ProviderID  string
	Name        string
	Description string
	PriceMinor  int64
	// EffectiveFrom defaults to now when zero.
	EffectiveFrom time.Time
}

func (s *Service) Publish(ctx context.Context, req PublishRequest) (ServiceOffering, error) {
	if req.ProviderID == "" || req.Name == "" {
		return ServiceOffering{}, ErrInvalidOffering
	}
	if req.PriceMinor <= 0 {
		return ServiceOffering{}, ErrInvalidOffering
	}

	now := s.clock().UTC()
	from := req.EffectiveFrom
	if from.IsZero() {
		from = now
	}
	o := ServiceOffering{
		ID:            uuid.NewString(),
		ProviderID:    req.ProviderID,
		Name:          req.Name,
		Description:   req.Description,
		PriceMinor:    req.PriceMinor,
		EffectiveFrom: from,
		Status:        OfferingStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return ServiceOffering{}, err
	}
	return o, nil
}

func (s *Service) ListByProvider(ctx context.Context, providerID string) ([]ServiceOffering, error) {
	return s.repo.ListByProvider(ctx, providerID, s.clock().UTC())
}

func (s *Service) Retire(ctx context.Context, providerID, offeringID string) error {
	return s.repo.Retire(ctx, providerID, offeringID, s.clock().UTC())
}

// QuoteLine is one priced line for a booking, quoted from the catalog.
type QuoteLine struct {
	OfferingID string `json:"offering_id"`
	Name       string `json:"name"`
	Details    string `json:"details,omitempty"`
	PriceMinor int64  `json:"price_minor"`
}

// Quote resolves offering ids against the provider's catalog at the current
// time. Every id must resolve; a stale or foreign id fails the whole quote.
func (s *Service) Quote(ctx context.Context, providerID string, offeringIDs []string) ([]QuoteLine, error) {
	if providerID == "" || len(offeringIDs) == 0 {
		return nil, ErrInvalidOffering
	}
	at := s.clock().UTC()

	lines := make([]QuoteLine, 0, len(offeringIDs))
	for _, id := range offeringIDs {
		o, ok, err := s.repo.FindEffective(ctx, providerID, id, at)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrOfferingNotFound
		}
		lines = append(lines, QuoteLine{
			OfferingID: o.ID,
			Name:       o.Name,
			Details:    o.Description,
			PriceMinor: o.PriceMinor,
		})
	}
	return lines, nil
}
