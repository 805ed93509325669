package sip

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type eventRecorder struct {
	mu     sync.Mutex
	events []CallEvent
	notify chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan struct{}, 8)}
}

func (r *eventRecorder) handle(_ context.Context, ev CallEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *eventRecorder) wait(t *testing.T) CallEvent {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for call event")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func mockAgent(rec *eventRecorder) *Agent {
	return NewAgent(Config{
		Server:      "pbx.example.com",
		Username:    "gate",
		Mode:        ModeMock,
		AnswerDelay: 10 * time.Millisecond,
		HangupDelay: 10 * time.Millisecond,
	}, nil, rec.handle, testLogger())
}

func TestSimulateCallAnswersAndEnds(t *testing.T) {
	rec := newEventRecorder()
	a := mockAgent(rec)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	callID := a.SimulateCall(context.Background(), "+441234567890")
	if callID == "" {
		t.Fatal("SimulateCall returned empty call id")
	}

	ev := rec.wait(t)
	if ev.CallID != callID {
		t.Fatalf("event call id = %q, want %q", ev.CallID, callID)
	}
	if ev.CallerID != "+441234567890" {
		t.Fatalf("caller = %q", ev.CallerID)
	}
	if ev.Outcome != StateEnded {
		t.Fatalf("outcome = %q, want %q", ev.Outcome, StateEnded)
	}
	if ev.Duration <= 0 {
		t.Fatalf("duration = %v", ev.Duration)
	}

	st := a.Stats()
	if st.TotalCalls != 1 || st.AnsweredCalls != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.ActiveCalls != 0 {
		t.Fatalf("call not removed from active set: %+v", st)
	}
}

func TestSimulateCallCountsEveryCall(t *testing.T) {
	rec := newEventRecorder()
	a := mockAgent(rec)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	a.SimulateCall(context.Background(), "100")
	rec.wait(t)
	a.SimulateCall(context.Background(), "200")
	rec.wait(t)

	if st := a.Stats(); st.TotalCalls != 2 {
		t.Fatalf("total = %d, want 2", st.TotalCalls)
	}
}

func TestCallStateMachine(t *testing.T) {
	c := newCall("c1", "100", &Request{Method: MethodInvite}, nil, "tag1", time.Now())
	if c.state() != StateRinging {
		t.Fatalf("initial state = %q", c.state())
	}
	if !c.fire(triggerAnswer) {
		t.Fatal("answer transition refused")
	}
	if c.fire(triggerCancel) {
		t.Fatal("cancel accepted after answer")
	}
	if !c.fire(triggerHangup) {
		t.Fatal("hangup transition refused")
	}
	if c.state() != StateEnded {
		t.Fatalf("final state = %q", c.state())
	}
}

func TestCallCancelBeforeAnswer(t *testing.T) {
	c := newCall("c2", "100", &Request{Method: MethodInvite}, nil, "tag2", time.Now())
	if !c.fire(triggerCancel) {
		t.Fatal("cancel transition refused while ringing")
	}
	if c.state() != StateCanceled {
		t.Fatalf("state = %q", c.state())
	}
	if c.fire(triggerAnswer) {
		t.Fatal("answer accepted after cancel")
	}
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := l.Acquire(ctx)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := l.Acquire(ctx); ok {
		t.Fatal("third acquire should be rejected")
	}
	l.Release(ctx)
	if ok, _ := l.Acquire(ctx); !ok {
		t.Fatal("acquire after release should succeed")
	}
}

type fullLimiter struct{ acquires int }

func (l *fullLimiter) Acquire(context.Context) (bool, error) {
	l.acquires++
	return false, nil
}

func (l *fullLimiter) Release(context.Context) {}

func TestRetransmittedInviteReplaysBusyResponse(t *testing.T) {
	rec := newEventRecorder()
	lim := &fullLimiter{}
	a := NewAgent(Config{
		Server:      "pbx.example.com",
		Username:    "gate",
		Mode:        ModeMock,
		AnswerDelay: 10 * time.Millisecond,
		HangupDelay: 10 * time.Millisecond,
	}, lim, rec.handle, testLogger())

	req, _, err := Parse([]byte(sampleInvite))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// UDP retransmits re-deliver the same INVITE; only the first may touch
	// the limiter or the counters, the rest replay the remembered 486.
	a.handleInvite(context.Background(), req, nil)
	a.handleInvite(context.Background(), req, nil)
	a.handleInvite(context.Background(), req, nil)

	if lim.acquires != 1 {
		t.Fatalf("limiter acquires = %d, want 1", lim.acquires)
	}
	st := a.Stats()
	if st.TotalCalls != 1 || st.RejectedCalls != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.ActiveCalls != 0 {
		t.Fatalf("rejected call must not enter the active set: %+v", st)
	}

	a.mu.Lock()
	last := a.lastResp[req.CallID()]
	a.mu.Unlock()
	if last == nil || last.StatusCode != 486 {
		t.Fatalf("remembered response = %+v, want 486", last)
	}
}
