package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Reader lists recorded events, newest first. Kept separate from Repository
// so write paths cannot accidentally grow read dependencies.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only; the control API exposes it to operators only.
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

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogGateDecision records the outcome of an inbound call: opened when the
// caller matched, denied otherwise.
func (s *Service) LogGateDecision(ctx context.Context, callID, callerID, pattern string, opened bool, message string) error {
	t := EventTypeGateDenied
	if opened {
		t = EventTypeGateOpened
	}
	return s.Append(ctx, Event{
		Type:     t,
		CallID:   callID,
		CallerID: callerID,
		Pattern:  pattern,
		Message:  message,
	})
}

// LogAllowlistRefresh records an allowlist reload.
func (s *Service) LogAllowlistRefresh(ctx context.Context, patterns int, fromCache bool, message string) error {
	meta := fmt.Sprintf(`{"patterns":%d,"from_cache":%t}`, patterns, fromCache)
	return s.Append(ctx, Event{
		Type:     EventTypeAllowlistRefresh,
		Message:  message,
		Metadata: meta,
	})
}

// LogAdminAction records a control API action.
func (s *Service) LogAdminAction(ctx context.Context, actorSubject, actorRole, ip, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeAdminAction,
		ActorSubject: actorSubject,
		ActorRole:    actorRole,
		IPAddress:    ip,
		Message:      message,
		Metadata:     metadata,
	})
}
