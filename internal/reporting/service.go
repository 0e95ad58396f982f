package reporting

import (
	"context"
	"errors"

	"marketplace-platform/internal/booking"
	"marketplace-platform/internal/ledger"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations should query immutable sources when possible (the
// transaction ledger, booking records); time filtering happens in the service.

type Repository interface {
	ListTransactions(ctx context.Context, ownerID string) ([]ledger.Transaction, error)
	ListBookings(ctx context.Context, accountID string) ([]booking.Booking, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if err := s.check(req.AccountID, req.Range); err != nil {
		return SpendSummary{}, err
	}

	txs, err := s.repo.ListTransactions(ctx, req.AccountID)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{AccountID: req.AccountID}
	for _, t := range txs {
		if !req.Range.contains(t.CreatedAt) {
			continue
		}
		switch t.Status {
		case ledger.StatusFailed:
			out.FailedAttempts++
			continue
		case ledger.StatusPending, ledger.StatusProcessing:
			out.PendingAttempts++
			continue
		}

		switch t.Type {
		case ledger.TypeDeposit:
			out.DepositedMinor += t.AmountMinor
		case ledger.TypeWithdrawal:
			out.WithdrawnMinor += t.AmountMinor
		case ledger.TypePayment:
			if t.Metadata[ledger.MetaPaymentStage] == "refund" {
				out.RefundedMinor += t.AmountMinor
			} else {
				out.PaidMinor += t.AmountMinor
			}
		}
	}
	out.NetDeltaMinor = out.DepositedMinor + out.RefundedMinor - out.WithdrawnMinor - out.PaidMinor
	return out, nil
}

func (s *Service) BookingsSummary(ctx context.Context, req BookingsSummaryRequest) (BookingsSummary, error) {
	if err := s.check(req.AccountID, req.Range); err != nil {
		return BookingsSummary{}, err
	}

	rows, err := s.repo.ListBookings(ctx, req.AccountID)
	if err != nil {
		return BookingsSummary{}, err
	}

	out := BookingsSummary{AccountID: req.AccountID}
	for _, b := range rows {
		if !req.Range.contains(b.CreatedAt) {
			continue
		}
		out.TotalBookings++
		switch b.Status {
		case booking.StatusPending:
			out.PendingBookings++
		case booking.StatusAccepted:
			out.AcceptedBookings++
		case booking.StatusInProgress:
			out.InProgressBookings++
		case booking.StatusCompleted:
			out.CompletedBookings++
		case booking.StatusCancelled:
			out.CancelledBookings++
		}
		if b.Status != booking.StatusCancelled {
			out.BookedValueMinor += b.TotalMinor()
		}
	}
	return out, nil
}

func (s *Service) check(accountID string, r TimeRange) error {
	if s.repo == nil {
		return errors.New("reporting: repository not configured")
	}
	if accountID == "" {
		return ErrInvalidRequest
	}
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return ErrInvalidRequest
	}
	return nil
}

// StoreRepo adapts the ledger and booking repositories to the reporting
// contract for production wiring.
type StoreRepo struct {
	Ledger   ledger.Repository
	Bookings booking.Repository
}

func (r StoreRepo) ListTransactions(ctx context.Context, ownerID string) ([]ledger.Transaction, error) {
	return r.Ledger.ListByOwner(ctx, ownerID)
}

func (r StoreRepo) ListBookings(ctx context.Context, accountID string) ([]booking.Booking, error) {
	return r.Bookings.ListByAccount(ctx, accountID)
}
