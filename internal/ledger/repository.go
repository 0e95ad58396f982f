package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for the transaction ledger.
//
// Implementations must enforce reference uniqueness and the status
// transition rules at the storage layer; callers may race.
type Repository interface {
	Create(ctx context.Context, t Transaction) error
	GetByReference(ctx context.Context, reference string) (Transaction, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Transaction, error)

	// MarkProcessing moves pending -> processing. Calling it on a transaction
	// already processing is a no-op; calling it on a terminal one is ErrTerminal.
	MarkProcessing(ctx context.Context, reference string) error

	// ClaimCompletion atomically moves a non-terminal transaction to completed
	// and reports whether this caller performed the transition. Exactly one of
	// any number of concurrent claimants wins; the wallet mutation tied to the
	// transaction must be applied only by the winner.
	ClaimCompletion(ctx context.Context, reference string, meta map[string]string) (bool, error)

	// MarkFailed moves the transaction to failed, recording the stage tag and
	// error detail in metadata. Failing an already-failed transaction is a
	// no-op. Failing a completed transaction is allowed only with stage
	// wallet_update.
	MarkFailed(ctx context.Context, reference string, stage Stage, detail string) error

	// SumCapturedForBooking returns the total of completed payment-type
	// transactions linked to the booking, excluding compensating refunds.
	// Used to derive the final installment of a half-plan booking.
	SumCapturedForBooking(ctx context.Context, bookingID string) (int64, error)
}

var (
	ErrNotFound           = errors.New("transaction not found")
	ErrDuplicateReference = errors.New("reference already exists")
	ErrTerminal           = errors.New("transaction already terminal")
)

// NewReference generates a client-side unique transaction reference,
// e.g. "DEP-1700000000123456789-1a2b3c4d".
func NewReference(prefix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), uuid.NewString()[:8])
}
