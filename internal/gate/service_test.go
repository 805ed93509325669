package gate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"doorgate/internal/audit"
	"doorgate/internal/calls"
	"doorgate/internal/gpio"
	"doorgate/internal/match"
	"doorgate/internal/sip"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type fixture struct {
	svc       *Service
	repo      *calls.MemoryRepo
	auditRepo *audit.MemoryRepo
	pulser    *gpio.Pulser
}

func newFixture(t *testing.T, patterns []string) *fixture {
	t.Helper()
	log := testLogger()

	m := match.New()
	m.Load(patterns)

	pulser := gpio.NewPulser(gpio.NewDriver(gpio.ModeMock, 0, log), 5*time.Millisecond, log)
	t.Cleanup(func() { _ = pulser.Close() })

	repo := calls.NewMemoryRepo(0)
	auditRepo := audit.NewMemoryRepo(0)

	return &fixture{
		svc:       NewService(NewEngine(m), pulser, repo, audit.NewService(auditRepo), log),
		repo:      repo,
		auditRepo: auditRepo,
		pulser:    pulser,
	}
}

func event(caller, outcome string) sip.CallEvent {
	return sip.CallEvent{
		CallID:    "call-1",
		CallerID:  caller,
		Outcome:   outcome,
		StartedAt: time.Now(),
		Duration:  12 * time.Second,
	}
}

func TestHandleCall_AllowedCallerOpensGate(t *testing.T) {
	f := newFixture(t, []string{"441234*"})

	d := f.svc.HandleCall(context.Background(), event("+441234567890", sip.StateEnded))
	if !d.Allowed || d.Pattern != "441234*" {
		t.Fatalf("decision = %+v", d)
	}
	if d.Normalized != "441234567890" {
		t.Fatalf("normalized = %q", d.Normalized)
	}

	if st := f.pulser.Stats(); st.Activations != 1 {
		t.Fatalf("activations = %d", st.Activations)
	}

	recs, _ := f.repo.List(context.Background(), 1)
	if len(recs) != 1 || !recs[0].Allowed || recs[0].Outcome != calls.OutcomeEnded {
		t.Fatalf("record = %+v", recs)
	}

	evs, _ := f.auditRepo.Recent(context.Background(), 1)
	if len(evs) != 1 || evs[0].Type != audit.EventTypeGateOpened {
		t.Fatalf("audit = %+v", evs)
	}
}

func TestHandleCall_UnknownCallerIsDenied(t *testing.T) {
	f := newFixture(t, []string{"441234*"})

	d := f.svc.HandleCall(context.Background(), event("+15550100", sip.StateEnded))
	if d.Allowed || d.Reason != ReasonNoMatch {
		t.Fatalf("decision = %+v", d)
	}
	if st := f.pulser.Stats(); st.Activations != 0 {
		t.Fatalf("relay fired for denied caller")
	}

	evs, _ := f.auditRepo.Recent(context.Background(), 1)
	if len(evs) != 1 || evs[0].Type != audit.EventTypeGateDenied {
		t.Fatalf("audit = %+v", evs)
	}
}

func TestHandleCall_AnonymousCallerIsDenied(t *testing.T) {
	f := newFixture(t, []string{"*"})

	d := f.svc.HandleCall(context.Background(), event("anonymous", sip.StateEnded))
	if d.Allowed {
		t.Fatalf("universal wildcard matched an empty caller: %+v", d)
	}
	if d.Reason != ReasonEmptyCaller {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestHandleCall_CanceledCallNeverFiresGate(t *testing.T) {
	f := newFixture(t, []string{"*"})

	d := f.svc.HandleCall(context.Background(), event("+441234567890", sip.StateCanceled))
	if d.Allowed || d.Reason != ReasonCanceled {
		t.Fatalf("decision = %+v", d)
	}
	if st := f.pulser.Stats(); st.Activations != 0 {
		t.Fatalf("relay fired for canceled call")
	}

	recs, _ := f.repo.List(context.Background(), 1)
	if len(recs) != 1 || recs[0].Outcome != calls.OutcomeCanceled {
		t.Fatalf("record = %+v", recs)
	}
	// Canceled calls leave no gate decision in the audit trail.
	evs, _ := f.auditRepo.Recent(context.Background(), 10)
	if len(evs) != 0 {
		t.Fatalf("audit = %+v", evs)
	}
}

func TestPulse_Manual(t *testing.T) {
	f := newFixture(t, nil)

	if !f.svc.Pulse(context.Background(), "ops", "admin", "1.2.3.4") {
		t.Fatal("manual pulse refused")
	}
	evs, _ := f.auditRepo.Recent(context.Background(), 1)
	if len(evs) != 1 || evs[0].Type != audit.EventTypeAdminAction {
		t.Fatalf("audit = %+v", evs)
	}
	if evs[0].ActorSubject != "ops" || evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("actor not captured: %+v", evs[0])
	}
}
