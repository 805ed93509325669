package sip

import (
	"net"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
)

// Call lifecycle states. A call is ringing from INVITE receipt, answered once
// the 200 OK goes out, and ends either normally (local or remote BYE) or as
// canceled when the caller gave up before the answer.
const (
	StateRinging  = "ringing"
	StateAnswered = "answered"
	StateEnded    = "ended"
	StateCanceled = "canceled"
)

const (
	triggerAnswer    = "answer"
	triggerHangup    = "hangup"
	triggerRemoteBye = "remote-bye"
	triggerCancel    = "cancel"
)

// call tracks one inbound INVITE dialog.
type call struct {
	id       string // Call-ID
	callerID string
	invite   *Request
	src      *net.UDPAddr // nil for simulated calls
	toTag    string

	// limited marks calls holding a limiter slot.
	limited bool

	startedAt time.Time

	fsm *stateless.StateMachine

	mu      sync.Mutex
	endedAt time.Time

	// Closed by the read loop; the per-call goroutine selects on these.
	acked    chan struct{}
	canceled chan struct{}
	byed     chan struct{}

	ackOnce    sync.Once
	cancelOnce sync.Once
	byeOnce    sync.Once
}

func newCall(id, callerID string, invite *Request, src *net.UDPAddr, toTag string, now time.Time) *call {
	fsm := stateless.NewStateMachine(StateRinging)
	fsm.Configure(StateRinging).
		Permit(triggerAnswer, StateAnswered).
		Permit(triggerCancel, StateCanceled).
		Permit(triggerRemoteBye, StateEnded)
	fsm.Configure(StateAnswered).
		Permit(triggerHangup, StateEnded).
		Permit(triggerRemoteBye, StateEnded)

	return &call{
		id:        id,
		callerID:  callerID,
		invite:    invite,
		src:       src,
		toTag:     toTag,
		startedAt: now,
		fsm:       fsm,
		acked:     make(chan struct{}),
		canceled:  make(chan struct{}),
		byed:      make(chan struct{}),
	}
}

func (c *call) state() string {
	return c.fsm.MustState().(string)
}

// fire attempts a transition, ignoring triggers invalid for the current
// state (e.g. a CANCEL racing the answer).
func (c *call) fire(trigger string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok, _ := c.fsm.CanFire(trigger); !ok {
		return false
	}
	if err := c.fsm.Fire(trigger); err != nil {
		return false
	}
	if trigger != triggerAnswer {
		c.endedAt = time.Now()
	}
	return true
}

func (c *call) markAcked()    { c.ackOnce.Do(func() { close(c.acked) }) }
func (c *call) markCanceled() { c.cancelOnce.Do(func() { close(c.canceled) }) }
func (c *call) markByed()     { c.byeOnce.Do(func() { close(c.byed) }) }

func (c *call) duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endedAt.IsZero() {
		return time.Since(c.startedAt)
	}
	return c.endedAt.Sub(c.startedAt)
}
