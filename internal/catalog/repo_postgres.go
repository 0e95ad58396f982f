package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, o ServiceOffering) error {
	const q = `
INSERT INTO service_offerings
  (id, provider_id, name, description, price_minor, effective_from, effective_to, status, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, q,
		o.ID, o.ProviderID, o.Name, o.Description, o.PriceMinor,
		o.EffectiveFrom, o.EffectiveTo, o.Status, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r *PostgresRepo) FindEffective(ctx context.Context, providerID, offeringID string, at time.Time) (ServiceOffering, bool, error) {
	const q = `
SELECT id, provider_id, name, COALESCE(description, ''), price_minor,
       effective_from, effective_to, status, created_at, updated_at
FROM service_offerings
WHERE provider_id = $1 AND id = $2 AND status = $3
  AND effective_from <= $4
  AND (effective_to IS NULL OR effective_to > $4)
ORDER BY effective_from DESC
LIMIT 1`
	var o ServiceOffering
	err := r.db.QueryRowContext(ctx, q, providerID, offeringID, OfferingStatusActive, at).Scan(
		&o.ID, &o.ProviderID, &o.Name, &o.Description, &o.PriceMinor,
		&o.EffectiveFrom, &o.EffectiveTo, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ServiceOffering{}, false, nil
	}
	if err != nil {
		return ServiceOffering{}, false, err
	}
	return o, true, nil
}

func (r *PostgresRepo) ListByProvider(ctx context.Context, providerID string, at time.Time) ([]ServiceOffering, error) {
	const q = `
SELECT id, provider_id, name, COALESCE(description, ''), price_minor,
       effective_from, effective_to, status, created_at, updated_at
FROM service_offerings
WHERE provider_id = $1 AND status = $2
  AND effective_from <= $3
  AND (effective_to IS NULL OR effective_to > $3)
ORDER BY name, effective_from DESC`
	rows, err := r.db.QueryContext(ctx, q, providerID, OfferingStatusActive, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ServiceOffering
	for rows.Next() {
		var o ServiceOffering
		if err := rows.Scan(
			&o.ID, &o.ProviderID, &o.Name, &o.Description, &o.PriceMinor,
			&o.EffectiveFrom, &o.EffectiveTo, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Retire(ctx context.Context, providerID, offeringID string, at time.Time) error {
	const q = `
UPDATE service_offerings
SET status = $4, updated_at = $3
WHERE provider_id = $1 AND id = $2 AND status = $5`
	res, err := r.db.ExecContext(ctx, q, providerID, offeringID, at, OfferingStatusRetired, OfferingStatusActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOfferingNotFound
	}
	return nil
}
