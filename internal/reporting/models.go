package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// SpendSummaryRequest requests aggregated money-movement metrics for one
// account. Figures are derived from the immutable transaction ledger.

type SpendSummaryRequest struct {
	AccountID string    `json:"account_id"`
	Range     TimeRange `json:"range"`
}

type SpendSummary struct {
	AccountID string `json:"account_id"`

	DepositedMinor  int64 `json:"deposited_minor"`
	WithdrawnMinor  int64 `json:"withdrawn_minor"`
	PaidMinor       int64 `json:"paid_minor"`
	RefundedMinor   int64 `json:"refunded_minor"`
	NetDeltaMinor   int64 `json:"net_delta_minor"`
	FailedAttempts  int   `json:"failed_attempts"`
	PendingAttempts int   `json:"pending_attempts"`
}

// BookingsSummaryRequest requests aggregated booking metrics for one account
// (as requester or provider).

type BookingsSummaryRequest struct {
	AccountID string    `json:"account_id"`
	Range     TimeRange `json:"range"`
}

type BookingsSummary struct {
	AccountID string `json:"account_id"`

	TotalBookings      int `json:"total_bookings"`
	PendingBookings    int `json:"pending_bookings"`
	AcceptedBookings   int `json:"accepted_bookings"`
	InProgressBookings int `json:"in_progress_bookings"`
	CompletedBookings  int `json:"completed_bookings"`
	CancelledBookings  int `json:"cancelled_bookings"`

	// BookedValueMinor is the total value of non-cancelled bookings.
	BookedValueMinor int64 `json:"booked_value_minor"`
}
