package catalog

import "time"

// Amounts are expressed in minor units (e.g., kobo/cents) using int64.

// ServiceOffering is one service a provider sells, with an effective price
// window. Price changes are new rows, not updates, so a booking always quotes
// against the row that was effective when it was created.
type ServiceOffering struct {
	ID         string `json:"id" db:"id"`
	ProviderID string `json:"provider_id" db:"provider_id"`

	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`

	PriceMinor int64 `json:"price_minor" db:"price_minor"`

	// Effective window for this price.
	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status OfferingStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type OfferingStatus string

const (
	OfferingStatusActive  OfferingStatus = "active"
	OfferingStatusRetired OfferingStatus = "retired"
)
