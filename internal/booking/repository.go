package booking

import "context"

// Repository is the persistence contract for bookings.
type Repository interface {
	Create(ctx context.Context, b Booking) error
	Get(ctx context.Context, id string) (Booking, error)
	Update(ctx context.Context, b Booking) error
	ListByAccount(ctx context.Context, accountID string) ([]Booking, error)

	// ClaimSettlement atomically takes the booking's settlement slot and
	// reports whether this caller got it. At most one settlement may be in
	// flight per booking; the winner must call ReleaseSettlement when the
	// attempt ends, win or lose. A claim orphaned by a crash stays held
	// until cleared by an operator.
	ClaimSettlement(ctx context.Context, id string) (bool, error)
	ReleaseSettlement(ctx context.Context, id string) error
}
