package calls

import (
	"context"
	"sync"
	"time"
)

// Repository is the persistence contract for call history.
type Repository interface {
	Insert(ctx context.Context, r Record) error
	List(ctx context.Context, limit int) ([]Record, error)
	Summarize(ctx context.Context) (Summary, error)
}

// Summary aggregates call history for the status and reporting endpoints.
type Summary struct {
	Total    int64 `json:"total"`
	Allowed  int64 `json:"allowed"`
	Denied   int64 `json:"denied"`
	Canceled int64 `json:"canceled"`

	LastCallAt time.Time `json:"last_call_at"`
}

// MemoryRepo keeps the most recent records in memory, the default when no
// Postgres store is configured.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
	cap     int

	total    int64
	allowed  int64
	denied   int64
	canceled int64
	lastAt   time.Time
}

func NewMemoryRepo(capacity int) *MemoryRepo {
	if capacity <= 0 {
		capacity = 500
	}
	return &MemoryRepo{cap: capacity}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if len(r.records) > r.cap {
		r.records = r.records[len(r.records)-r.cap:]
	}

	// Counters survive ring-buffer eviction.
	r.total++
	switch {
	case rec.Outcome == OutcomeCanceled:
		r.canceled++
	case rec.Allowed:
		r.allowed++
	default:
		r.denied++
	}
	if rec.StartedAt.After(r.lastAt) {
		r.lastAt = rec.StartedAt
	}
	return nil
}

// List returns up to limit records, newest first.
func (r *MemoryRepo) List(ctx context.Context, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}
	out := make([]Record, 0, limit)
	for i := len(r.records) - 1; i >= len(r.records)-limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}

func (r *MemoryRepo) Summarize(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		Total:      r.total,
		Allowed:    r.allowed,
		Denied:     r.denied,
		Canceled:   r.canceled,
		LastCallAt: r.lastAt,
	}, nil
}
