package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo implements Repository against a transactions table:
//
//	CREATE TABLE transactions (
//	  reference    text PRIMARY KEY,
//	  owner_id     text NOT NULL,
//	  booking_id   text,
//	  type         text NOT NULL,
//	  amount_minor bigint NOT NULL CHECK (amount_minor > 0),
//	  status       text NOT NULL,
//	  metadata     jsonb NOT NULL DEFAULT '{}',
//	  created_at   timestamptz NOT NULL,
//	  updated_at   timestamptz NOT NULL
//	);
//
// Status transitions are guarded in the WHERE clause of each UPDATE so
// concurrent callers serialize on the row inside Postgres.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) Create(ctx context.Context, t Transaction) error {
	meta, err := marshalMeta(t.Metadata)
	if err != nil {
		return err
	}
	now := r.clock().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	const q = `
INSERT INTO transactions (reference, owner_id, booking_id, type, amount_minor, status, metadata, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $8)`
	if _, err := r.db.ExecContext(ctx, q,
		t.Reference, t.OwnerID, t.BookingID, t.Type, t.AmountMinor, t.Status, meta, t.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (r *PostgresRepo) GetByReference(ctx context.Context, reference string) (Transaction, error) {
	const q = `
SELECT reference, owner_id, COALESCE(booking_id, ''), type, amount_minor, status, metadata, created_at, updated_at
FROM transactions
WHERE reference = $1`
	return scanTransaction(r.db.QueryRowContext(ctx, q, reference))
}

func (r *PostgresRepo) ListByOwner(ctx context.Context, ownerID string) ([]Transaction, error) {
	const q = `
SELECT reference, owner_id, COALESCE(booking_id, ''), type, amount_minor, status, metadata, created_at, updated_at
FROM transactions
WHERE owner_id = $1
ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) MarkProcessing(ctx context.Context, reference string) error {
	const q = `
UPDATE transactions
SET status = $2, updated_at = $3
WHERE reference = $1 AND status IN ($4, $2)`
	res, err := r.db.ExecContext(ctx, q, reference, StatusProcessing, r.clock().UTC(), StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.classifyMiss(ctx, reference)
	}
	return nil
}

func (r *PostgresRepo) ClaimCompletion(ctx context.Context, reference string, meta map[string]string) (bool, error) {
	patch, err := marshalMeta(meta)
	if err != nil {
		return false, err
	}

	const q = `
UPDATE transactions
SET status = $2, metadata = metadata || $3, updated_at = $4
WHERE reference = $1 AND status NOT IN ($2, $5)`
	res, err := r.db.ExecContext(ctx, q, reference, StatusCompleted, patch, r.clock().UTC(), StatusFailed)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	// Lost the claim, or the reference does not exist at all.
	if _, err := r.GetByReference(ctx, reference); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, reference string, stage Stage, detail string) error {
	patch, err := marshalMeta(map[string]string{
		MetaFailureStage: string(stage),
		MetaErrorDetail:  detail,
	})
	if err != nil {
		return err
	}

	// completed -> failed is reachable only via the wallet_update stage.
	var q string
	if stage == StageWalletUpdate {
		q = `
UPDATE transactions
SET status = $2, metadata = metadata || $3, updated_at = $4
WHERE reference = $1 AND status <> $2`
	} else {
		q = `
UPDATE transactions
SET status = $2, metadata = metadata || $3, updated_at = $4
WHERE reference = $1 AND status NOT IN ($2, $5)`
	}

	args := []any{reference, StatusFailed, patch, r.clock().UTC()}
	if stage != StageWalletUpdate {
		args = append(args, StatusCompleted)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.classifyMiss(ctx, reference)
	}
	return nil
}

func (r *PostgresRepo) SumCapturedForBooking(ctx context.Context, bookingID string) (int64, error) {
	const q = `
SELECT COALESCE(SUM(amount_minor), 0)
FROM transactions
WHERE booking_id = $1
  AND type = $2
  AND status = $3
  AND COALESCE(metadata->>'payment_stage', '') <> 'refund'`
	var sum int64
	if err := r.db.QueryRowContext(ctx, q, bookingID, TypePayment, StatusCompleted).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// classifyMiss turns a zero-rows-affected update into the right sentinel.
func (r *PostgresRepo) classifyMiss(ctx context.Context, reference string) error {
	t, err := r.GetByReference(ctx, reference)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return ErrTerminal
	}
	// Row exists, not terminal, yet the guarded update matched nothing: a
	// concurrent writer moved it. Treat as terminal-equivalent conflict.
	return ErrTerminal
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var meta []byte
	if err := row.Scan(
		&t.Reference, &t.OwnerID, &t.BookingID, &t.Type, &t.AmountMinor, &t.Status, &meta, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return Transaction{}, err
		}
	}
	return t, nil
}

func marshalMeta(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	return json.Marshal(meta)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
