package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-platform/pkg/logger"

	"github.com/google/uuid"
)

// Publisher emits booking status change events so clients can react to
// accept/reject without polling. Publishing is best-effort.
type Publisher interface {
	PublishStatus(ctx context.Context, bookingID string, status Status) error
}

// Notifier is the minimal notification contract needed by the service.
// Failures must never block a booking transition.
type Notifier interface {
	Notify(ctx context.Context, accountID, title, message, category string) error
}

var ErrNotParticipant = errors.New("account is not a party to this booking")

// Service owns booking lifecycle transitions. Wallet mutations never happen
// here; payment flags are applied by the reconciliation engine through
// ApplyPayment once money has actually moved.
type Service struct {
	repo     Repository
	events   Publisher
	notifier Notifier
	clock    func() time.Time
}

func NewService(repo Repository, events Publisher, notifier Notifier) *Service {
	return &Service{repo: repo, events: events, notifier: notifier, clock: time.Now}
}

type CreateRequest struct {
	RequesterID string
	ProviderID  string
	LineItems   []ServiceLineItem
	PaymentPlan PaymentPlan
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Booking, error) {
	if req.RequesterID == "" || req.ProviderID == "" {
		return Booking{}, errors.New("requester and provider are required")
	}
	if req.PaymentPlan != PlanFullUpfront && req.PaymentPlan != PlanHalf {
		return Booking{}, fmt.Errorf("unknown payment plan %q", req.PaymentPlan)
	}

	b := Booking{
		ID:          uuid.NewString(),
		RequesterID: req.RequesterID,
		ProviderID:  req.ProviderID,
		LineItems:   req.LineItems,
		PaymentPlan: req.PaymentPlan,
		Status:      StatusPending,
		CreatedAt:   s.clock().UTC(),
	}
	if b.TotalMinor() <= 0 {
		return Booking{}, errors.New("booking total must be positive")
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return Booking{}, err
	}

	s.publish(ctx, b)
	s.notify(ctx, b.ProviderID, "New booking request", "You have a new booking request.", "booking")
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (Booking, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]Booking, error) {
	return s.repo.ListByAccount(ctx, accountID)
}

// Accept is a provider action.
func (s *Service) Accept(ctx context.Context, id, actorID string) (Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if b.ProviderID != actorID {
		return Booking{}, ErrNotParticipant
	}
	if err := b.Accept(); err != nil {
		return Booking{}, err
	}
	if err := s.repo.Update(ctx, b); err != nil {
		return Booking{}, err
	}

	s.publish(ctx, b)
	s.notify(ctx, b.RequesterID, "Booking accepted", "Your booking was accepted by the provider.", "booking")
	return b, nil
}

// Cancel may be called by either party while the guard allows it.
func (s *Service) Cancel(ctx context.Context, id, actorID, reason string) (Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	counterpart, ok := b.counterpartOf(actorID)
	if !ok {
		return Booking{}, ErrNotParticipant
	}
	if err := b.Cancel(actorID, reason); err != nil {
		return Booking{}, err
	}
	if err := s.repo.Update(ctx, b); err != nil {
		return Booking{}, err
	}

	s.publish(ctx, b)
	s.notify(ctx, counterpart, "Booking cancelled", "The booking was cancelled by the other party.", "booking")
	return b, nil
}

// MarkDone is a provider action, independent of payment bookkeeping.
func (s *Service) MarkDone(ctx context.Context, id, actorID string) (Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if b.ProviderID != actorID {
		return Booking{}, ErrNotParticipant
	}
	if err := b.MarkDone(); err != nil {
		return Booking{}, err
	}
	if err := s.repo.Update(ctx, b); err != nil {
		return Booking{}, err
	}

	s.publish(ctx, b)
	s.notify(ctx, b.RequesterID, "Work completed", "The provider marked your booking as done.", "booking")
	return b, nil
}

// ClaimSettlement takes the booking's settlement slot so only one settlement
// runs against it at a time. The reconciliation engine claims before any
// money moves and releases when the attempt ends, win or lose.
func (s *Service) ClaimSettlement(ctx context.Context, id string) (bool, error) {
	return s.repo.ClaimSettlement(ctx, id)
}

// ReleaseSettlement frees the slot taken by ClaimSettlement. Failures are
// logged rather than returned; a stuck claim is an operator problem, not one
// the settlement outcome depends on.
func (s *Service) ReleaseSettlement(ctx context.Context, id string) {
	if err := s.repo.ReleaseSettlement(ctx, id); err != nil {
		logger.From(ctx).Error("releasing booking settlement claim", "booking_id", id, "err", err)
	}
}

// ApplyPayment records a settled installment. Called by the reconciliation
// engine after the wallet mutations for the stage have succeeded.
func (s *Service) ApplyPayment(ctx context.Context, id string, stage PaymentStage) (Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if err := b.ApplyPayment(stage); err != nil {
		return Booking{}, err
	}
	if err := s.repo.Update(ctx, b); err != nil {
		return Booking{}, err
	}

	s.publish(ctx, b)
	return b, nil
}

func (s *Service) publish(ctx context.Context, b Booking) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishStatus(ctx, b.ID, b.Status); err != nil {
		logger.From(ctx).Warn("booking event publish failed", "booking_id", b.ID, "err", err)
	}
}

func (s *Service) notify(ctx context.Context, accountID, title, message, category string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, accountID, title, message, category); err != nil {
		logger.From(ctx).Warn("booking notification failed", "account_id", accountID, "err", err)
	}
}

func (b *Booking) counterpartOf(actorID string) (string, bool) {
	switch actorID {
	case b.RequesterID:
		return b.ProviderID, true
	case b.ProviderID:
		return b.RequesterID, true
	default:
		return "", false
	}
}
