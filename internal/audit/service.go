package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records an action taken by an internal role.
func (s *Service) LogAdminAction(ctx context.Context, actorAccountID, actorRole, ip, message string, metadata string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeAdminAction,
		ActorAccountID: actorAccountID,
		ActorRole:      actorRole,
		IPAddress:      ip,
		Message:        message,
		Metadata:       metadata,
	})
}

// LogInconsistency records a settlement whose books no longer balance and
// needs operator attention.
func (s *Service) LogInconsistency(ctx context.Context, bookingID, reference, message string, metadata string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeInconsistency,
		BookingID: bookingID,
		Reference: reference,
		Message:   message,
		Metadata:  metadata,
	})
}
