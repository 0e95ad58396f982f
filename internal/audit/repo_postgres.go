package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events to the audit_events table. The table is
// INSERT-only; no update or delete statements exist here on purpose.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events
  (id, type, actor_account_id, actor_role, ip_address, booking_id, reference, message, metadata, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, '')::jsonb, $10)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.Type, e.ActorAccountID, e.ActorRole, e.IPAddress,
		e.BookingID, e.Reference, e.Message, e.Metadata, e.CreatedAt)
	return err
}
