package allowlist

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Service owns the current pattern set: it fetches at startup, refreshes on
// an interval in the background, and falls back to the cached snapshot when
// the initial fetch fails.
//
// Rules:
// - A failed refresh keeps the previous pattern set untouched.
// - The cache is consulted only at startup; later failures rely on the
//   in-memory set.
// - OnUpdate fires on every successful fetch (and on a startup cache load).
type Service struct {
	fetcher  *Fetcher
	store    Store
	interval time.Duration

	// useCacheOnFailure enables the startup cache fallback.
	useCacheOnFailure bool

	// OnUpdate receives the new pattern list after each successful refresh.
	OnUpdate func(numbers []string)

	log *slog.Logger

	mu          sync.Mutex
	numbers     []string
	lastFetch   time.Time
	lastSuccess bool
	fetchCount  int
	errorCount  int
	fromCache   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Status is a point-in-time snapshot for the control API.
type Status struct {
	URL         string    `json:"url"`
	Patterns    int       `json:"patterns"`
	LastFetch   time.Time `json:"last_fetch"`
	LastSuccess bool      `json:"last_success"`
	FetchCount  int       `json:"fetch_count"`
	ErrorCount  int       `json:"error_count"`
	FromCache   bool      `json:"from_cache"`
}

func NewService(fetcher *Fetcher, store Store, interval time.Duration, useCacheOnFailure bool, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		fetcher:           fetcher,
		store:             store,
		interval:          interval,
		useCacheOnFailure: useCacheOnFailure,
		log:               log,
	}
}

// Start performs the initial fetch (falling back to the cache) and launches
// the background refresh loop. It returns true when patterns are available
// from either source.
func (s *Service) Start(ctx context.Context) bool {
	ok := s.refresh(ctx)

	if !ok && s.useCacheOnFailure && s.store != nil {
		snap, err := s.store.Load(ctx)
		switch {
		case err == nil:
			s.mu.Lock()
			s.numbers = snap.Numbers
			s.fromCache = true
			s.mu.Unlock()
			s.log.Info("loaded allowlist from cache", "patterns", len(snap.Numbers), "fetched_at", snap.FetchedAt)
			s.notify(snap.Numbers)
		case err == ErrCacheMiss:
			s.log.Warn("initial fetch failed and cache is empty")
		default:
			s.log.Warn("cache load failed", "err", err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.refreshLoop(loopCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	return ok || len(s.numbers) > 0
}

// Stop cancels the refresh loop and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// ForceRefresh runs an immediate fetch, used by the control API.
func (s *Service) ForceRefresh(ctx context.Context) bool {
	return s.refresh(ctx)
}

// Numbers returns a copy of the current pattern list.
func (s *Service) Numbers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.numbers))
	copy(out, s.numbers)
	return out
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		URL:         s.fetcher.URL,
		Patterns:    len(s.numbers),
		LastFetch:   s.lastFetch,
		LastSuccess: s.lastSuccess,
		FetchCount:  s.fetchCount,
		ErrorCount:  s.errorCount,
		FromCache:   s.fromCache,
	}
}

func (s *Service) refreshLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) refresh(ctx context.Context) bool {
	s.mu.Lock()
	s.fetchCount++
	attempt := s.fetchCount
	s.mu.Unlock()

	numbers, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.mu.Lock()
		s.errorCount++
		s.lastSuccess = false
		s.mu.Unlock()
		s.log.Error("allowlist fetch failed", "attempt", attempt, "err", err)
		return false
	}

	s.mu.Lock()
	previous := len(s.numbers)
	s.numbers = numbers
	s.lastFetch = time.Now()
	s.lastSuccess = true
	s.fromCache = false
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Save(ctx, Snapshot{Numbers: numbers, FetchedAt: time.Now(), Source: s.fetcher.URL}); err != nil {
			s.log.Warn("allowlist cache save failed", "err", err)
		}
	}

	s.log.Info("allowlist refreshed", "patterns", len(numbers), "previous", previous, "attempt", attempt)
	s.notify(numbers)
	return true
}

func (s *Service) notify(numbers []string) {
	if s.OnUpdate != nil {
		s.OnUpdate(numbers)
	}
}
