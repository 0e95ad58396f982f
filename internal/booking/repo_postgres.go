package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresRepo implements Repository against a bookings table:
//
//	CREATE TABLE bookings (
//	  id            text PRIMARY KEY,
//	  requester_id  text NOT NULL,
//	  provider_id   text NOT NULL,
//	  line_items    jsonb NOT NULL DEFAULT '[]',
//	  payment_plan  text NOT NULL,
//	  status        text NOT NULL,
//	  first_paid    boolean NOT NULL DEFAULT false,
//	  final_paid    boolean NOT NULL DEFAULT false,
//	  settling      boolean NOT NULL DEFAULT false,
//	  cancelled_by  text,
//	  cancel_reason text,
//	  created_at    timestamptz NOT NULL,
//	  updated_at    timestamptz NOT NULL
//	);
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) Create(ctx context.Context, b Booking) error {
	items, err := json.Marshal(b.LineItems)
	if err != nil {
		return err
	}
	now := r.clock().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}

	const q = `
INSERT INTO bookings (id, requester_id, provider_id, line_items, payment_plan, status, first_paid, final_paid, cancelled_by, cancel_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $11)`
	_, err = r.db.ExecContext(ctx, q,
		b.ID, b.RequesterID, b.ProviderID, items, b.PaymentPlan, b.Status,
		b.FirstPaymentCompleted, b.FinalPaymentCompleted, b.CancelledBy, b.CancelReason, b.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Booking, error) {
	const q = `
SELECT id, requester_id, provider_id, line_items, payment_plan, status, first_paid, final_paid,
       COALESCE(cancelled_by, ''), COALESCE(cancel_reason, ''), created_at, updated_at
FROM bookings
WHERE id = $1`
	return scanBooking(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) Update(ctx context.Context, b Booking) error {
	items, err := json.Marshal(b.LineItems)
	if err != nil {
		return err
	}

	const q = `
UPDATE bookings
SET line_items = $2, payment_plan = $3, status = $4, first_paid = $5, final_paid = $6,
    cancelled_by = NULLIF($7, ''), cancel_reason = NULLIF($8, ''), updated_at = $9
WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q,
		b.ID, items, b.PaymentPlan, b.Status,
		b.FirstPaymentCompleted, b.FinalPaymentCompleted, b.CancelledBy, b.CancelReason, r.clock().UTC(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ClaimSettlement(ctx context.Context, id string) (bool, error) {
	const q = `
UPDATE bookings
SET settling = TRUE, updated_at = $2
WHERE id = $1 AND NOT settling`
	res, err := r.db.ExecContext(ctx, q, id, r.clock().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) ReleaseSettlement(ctx context.Context, id string) error {
	const q = `
UPDATE bookings
SET settling = FALSE, updated_at = $2
WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, r.clock().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListByAccount(ctx context.Context, accountID string) ([]Booking, error) {
	const q = `
SELECT id, requester_id, provider_id, line_items, payment_plan, status, first_paid, final_paid,
       COALESCE(cancelled_by, ''), COALESCE(cancel_reason, ''), created_at, updated_at
FROM bookings
WHERE requester_id = $1 OR provider_id = $1
ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (Booking, error) {
	var b Booking
	var items []byte
	if err := row.Scan(
		&b.ID, &b.RequesterID, &b.ProviderID, &items, &b.PaymentPlan, &b.Status,
		&b.FirstPaymentCompleted, &b.FinalPaymentCompleted, &b.CancelledBy, &b.CancelReason,
		&b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &b.LineItems); err != nil {
			return Booking{}, err
		}
	}
	return b, nil
}
