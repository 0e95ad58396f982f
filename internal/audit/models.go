package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Actor and IP capture are best-effort; never block money flows on audit
//   failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorAccountID is the authenticated account causing the event, empty
	// for system-originated events.
	ActorAccountID string `json:"actor_account_id,omitempty" db:"actor_account_id"`
	// ActorRole may include internal roles.
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress should capture the original client IP when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers (optional, depending on the event type).
	BookingID string `json:"booking_id,omitempty" db:"booking_id"`
	Reference string `json:"reference,omitempty" db:"reference"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminAction EventType = "admin_action"
	// EventTypeInconsistency marks a settlement where a debit landed but the
	// matching credit and its compensation both failed. These require a
	// manual operator review.
	EventTypeInconsistency EventType = "settlement_inconsistency"
)
