package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"doorgate/internal/audit"
	"doorgate/internal/calls"
	"doorgate/internal/gpio"
	"doorgate/internal/sip"
)

// Service applies gate decisions to finished calls: pulse the relay for
// allowed callers, record everything, audit the outcome.
//
// IMPORTANT: the decision runs after the call has ended, never during it.
// The gate answers every call the same way regardless of the caller, so a
// probing caller learns nothing from call handling alone.

type Service struct {
	engine *Engine
	pulser *gpio.Pulser
	repo   calls.Repository
	audit  *audit.Service
	log    *slog.Logger

	clock func() time.Time
}

func NewService(engine *Engine, pulser *gpio.Pulser, repo calls.Repository, auditSvc *audit.Service, log *slog.Logger) *Service {
	return &Service{
		engine: engine,
		pulser: pulser,
		repo:   repo,
		audit:  auditSvc,
		log:    log,
		clock:  time.Now,
	}
}

// HandleCall is the sip.CallHandler the agent invokes once per finished
// call. History and audit failures are logged, never propagated; the relay
// must not depend on storage health.
func (s *Service) HandleCall(ctx context.Context, ev sip.CallEvent) Decision {
	if ev.Outcome == sip.StateCanceled {
		// Caller hung up during ringing: no decision, no relay.
		d := Decision{Allowed: false, Reason: ReasonCanceled}
		s.record(ctx, ev, d)
		return d
	}

	d := s.engine.Decide(ev.CallerID)
	if d.Allowed {
		if s.pulser.Activate() {
			s.log.Info("gate opened", "caller", ev.CallerID, "pattern", d.Pattern)
		} else {
			s.log.Info("gate already active, pulse suppressed", "caller", ev.CallerID)
		}
	} else {
		s.log.Info("caller denied", "caller", ev.CallerID, "reason", d.Reason)
	}

	if err := s.audit.LogGateDecision(ctx, ev.CallID, ev.CallerID, d.Pattern, d.Allowed, d.Reason); err != nil {
		s.log.Error("audit append failed", "error", err)
	}
	s.record(ctx, ev, d)
	return d
}

func (s *Service) record(ctx context.Context, ev sip.CallEvent, d Decision) {
	outcome := calls.OutcomeEnded
	if ev.Outcome == sip.StateCanceled {
		outcome = calls.OutcomeCanceled
	}
	rec := calls.Record{
		ID:              uuid.NewString(),
		CallID:          ev.CallID,
		CallerID:        ev.CallerID,
		Normalized:      d.Normalized,
		Outcome:         outcome,
		Allowed:         d.Allowed,
		Pattern:         d.Pattern,
		Reason:          d.Reason,
		StartedAt:       ev.StartedAt,
		DurationSeconds: int(ev.Duration.Seconds()),
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		s.log.Error("call record insert failed", "call_id", ev.CallID, "error", err)
	}
}

// Pulse fires the relay outside any call, for the control API. Returns false
// when a pulse is already in flight.
func (s *Service) Pulse(ctx context.Context, actorSubject, actorRole, ip string) bool {
	fired := s.pulser.Activate()
	msg := "manual pulse"
	if !fired {
		msg = "manual pulse suppressed, already active"
	}
	if err := s.audit.LogAdminAction(ctx, actorSubject, actorRole, ip, msg, ""); err != nil {
		s.log.Error("audit append failed", "error", err)
	}
	return fired
}
