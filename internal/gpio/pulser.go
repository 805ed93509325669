package gpio

import (
	"log/slog"
	"sync"
	"time"
)

// Pulser raises the pin for a fixed duration per activation.
//
// Rules:
// - Only one pulse runs at a time; Activate during an active pulse is a
//   no-op returning false. The gate stays open for the original duration.
// - The activation counter counts started pulses only.
// - Close forces the pin low even if a pulse is mid-flight.
type Pulser struct {
	driver   Driver
	duration time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	active bool
	count  int
	wg     sync.WaitGroup
}

// Stats is a point-in-time snapshot for the control API.
type Stats struct {
	Active      bool `json:"active"`
	Activations int  `json:"activations"`
}

func NewPulser(driver Driver, duration time.Duration, log *slog.Logger) *Pulser {
	if log == nil {
		log = slog.Default()
	}
	return &Pulser{driver: driver, duration: duration, log: log}
}

// Activate starts a pulse. Returns false when a pulse is already running.
func (p *Pulser) Activate() bool {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		p.log.Debug("gpio already active, skipping")
		return false
	}
	p.active = true
	p.count++
	pulse := p.count
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(pulse)
	return true
}

func (p *Pulser) run(pulse int) {
	defer p.wg.Done()

	if err := p.driver.On(); err != nil {
		p.log.Error("gpio activation failed", "pulse", pulse, "err", err)
	}

	time.Sleep(p.duration)

	if err := p.driver.Off(); err != nil {
		p.log.Error("gpio deactivation failed", "pulse", pulse, "err", err)
	}

	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

// IsActive reports whether a pulse is currently running.
func (p *Pulser) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Stats returns current pulse stats.
func (p *Pulser) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: p.active, Activations: p.count}
}

// Close waits for any running pulse and releases the driver.
func (p *Pulser) Close() error {
	p.wg.Wait()
	return p.driver.Close()
}
