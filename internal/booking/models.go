package booking

import (
	"errors"
	"time"
)

// Booking is a requester's engagement of a provider for one or more service
// line items.
//
// Invariants:
// - FinalPaymentCompleted implies FirstPaymentCompleted (half plan).
// - StatusCompleted implies the first payment is done and, for the half plan,
//   the final payment too, unless the provider marked the work done out of
//   band via MarkDone, which never touches payment flags.
// - A half-plan booking with money already captured cannot be cancelled.
type Booking struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`
	ProviderID  string `json:"provider_id"`

	LineItems []ServiceLineItem `json:"line_items"`

	PaymentPlan PaymentPlan `json:"payment_plan"`
	Status      Status      `json:"status"`

	FirstPaymentCompleted bool `json:"first_payment_completed"`
	FinalPaymentCompleted bool `json:"final_payment_completed"`

	CancelledBy  string `json:"cancelled_by,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ServiceLineItem is one service within a booking. AgreedPriceMinor, when set,
// overrides the catalog price (mid-booking renegotiation).
type ServiceLineItem struct {
	Name              string `json:"name"`
	CatalogPriceMinor int64  `json:"catalog_price_minor"`
	AgreedPriceMinor  *int64 `json:"agreed_price_minor,omitempty"`
	Details           string `json:"details,omitempty"`
	Selected          bool   `json:"selected"`
}

func (i ServiceLineItem) priceMinor() int64 {
	if i.AgreedPriceMinor != nil {
		return *i.AgreedPriceMinor
	}
	return i.CatalogPriceMinor
}

type PaymentPlan string

const (
	PlanFullUpfront PaymentPlan = "full_upfront"
	PlanHalf        PaymentPlan = "half"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// PaymentStage identifies which installment a settlement covers.
type PaymentStage string

const (
	StageFull  PaymentStage = "full"
	StageFirst PaymentStage = "first"
	StageFinal PaymentStage = "final"
)

var (
	ErrNotFound          = errors.New("booking not found")
	ErrInvalidTransition = errors.New("invalid booking transition")
	ErrCannotCancel      = errors.New("booking cannot be cancelled after first payment")
	ErrInvalidStage      = errors.New("payment stage does not match payment plan")
)

// TotalMinor sums the selected line items, preferring the agreed price over
// the catalog price. This is the authoritative booking amount; it may change
// if prices are renegotiated mid-booking.
func (b *Booking) TotalMinor() int64 {
	var total int64
	for _, it := range b.LineItems {
		if it.Selected {
			total += it.priceMinor()
		}
	}
	return total
}

// Accept moves a pending booking to accepted.
func (b *Booking) Accept() error {
	if b.Status != StatusPending {
		return ErrInvalidTransition
	}
	b.Status = StatusAccepted
	return nil
}

// Cancel moves the booking to cancelled, recording actor and reason.
// Refused once money has moved on a half plan: that flow cannot unwind a
// captured installment.
func (b *Booking) Cancel(actor, reason string) error {
	switch b.Status {
	case StatusPending, StatusAccepted, StatusInProgress:
	default:
		return ErrInvalidTransition
	}
	if b.PaymentPlan == PlanHalf && b.FirstPaymentCompleted {
		return ErrCannotCancel
	}
	b.Status = StatusCancelled
	b.CancelledBy = actor
	b.CancelReason = reason
	return nil
}

// ApplyPayment records a settled installment. Re-applying a stage that is
// already satisfied is a no-op, not an error.
func (b *Booking) ApplyPayment(stage PaymentStage) error {
	if b.Status == StatusCancelled {
		return ErrInvalidTransition
	}

	switch stage {
	case StageFull:
		if b.PaymentPlan != PlanFullUpfront {
			return ErrInvalidStage
		}
		b.FirstPaymentCompleted = true
		b.Status = StatusCompleted
		return nil

	case StageFirst:
		if b.PaymentPlan != PlanHalf {
			return ErrInvalidStage
		}
		b.FirstPaymentCompleted = true
		if b.Status != StatusCompleted {
			b.Status = StatusInProgress
		}
		return nil

	case StageFinal:
		if b.PaymentPlan != PlanHalf {
			return ErrInvalidStage
		}
		if !b.FirstPaymentCompleted {
			return ErrInvalidTransition
		}
		b.FinalPaymentCompleted = true
		b.Status = StatusCompleted
		return nil

	default:
		return ErrInvalidStage
	}
}

// MarkDone is the provider attesting the work is finished, independent of
// payment bookkeeping. Payment flags are left untouched.
func (b *Booking) MarkDone() error {
	switch b.Status {
	case StatusAccepted, StatusInProgress:
		b.Status = StatusCompleted
		return nil
	default:
		return ErrInvalidTransition
	}
}

// NextStage returns the installment the booking expects next, or false if the
// booking is fully paid.
func (b *Booking) NextStage() (PaymentStage, bool) {
	switch b.PaymentPlan {
	case PlanFullUpfront:
		if b.FirstPaymentCompleted {
			return "", false
		}
		return StageFull, true
	case PlanHalf:
		if !b.FirstPaymentCompleted {
			return StageFirst, true
		}
		if !b.FinalPaymentCompleted {
			return StageFinal, true
		}
		return "", false
	default:
		return "", false
	}
}
