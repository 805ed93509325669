package gpio

import (
	"sync"
	"testing"
	"time"
)

type recordingDriver struct {
	mu     sync.Mutex
	events []string
}

func (d *recordingDriver) record(e string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return nil
}

func (d *recordingDriver) On() error    { return d.record("on") }
func (d *recordingDriver) Off() error   { return d.record("off") }
func (d *recordingDriver) Close() error { return d.record("close") }

func (d *recordingDriver) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.events))
	copy(out, d.events)
	return out
}

func TestPulser_SingleActivation(t *testing.T) {
	drv := &recordingDriver{}
	p := NewPulser(drv, 20*time.Millisecond, nil)

	if !p.Activate() {
		t.Fatalf("expected activation to start")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := drv.snapshot()
	want := []string{"on", "off", "close"}
	if len(got) != len(want) {
		t.Fatalf("unexpected events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPulser_SuppressesConcurrentActivation(t *testing.T) {
	drv := &recordingDriver{}
	p := NewPulser(drv, 50*time.Millisecond, nil)

	if !p.Activate() {
		t.Fatalf("first activation should start")
	}
	time.Sleep(10 * time.Millisecond)
	if p.Activate() {
		t.Fatalf("second activation should be suppressed while active")
	}
	if !p.IsActive() {
		t.Fatalf("expected pulse to be active")
	}

	p.Close()

	if st := p.Stats(); st.Activations != 1 || st.Active {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestPulser_ReactivatesAfterPulseEnds(t *testing.T) {
	drv := &recordingDriver{}
	p := NewPulser(drv, 5*time.Millisecond, nil)

	p.Activate()
	time.Sleep(20 * time.Millisecond)
	if !p.Activate() {
		t.Fatalf("expected re-activation after pulse ended")
	}
	p.Close()

	if st := p.Stats(); st.Activations != 2 {
		t.Fatalf("expected 2 activations, got %d", st.Activations)
	}
}

func TestNewDriver_UnknownModeFallsBackToMock(t *testing.T) {
	d := NewDriver("mock", 17, nil)
	if _, ok := d.(*mockDriver); !ok {
		t.Fatalf("expected mock driver, got %T", d)
	}
}
