package allowlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "allowlist.json")
	s := &FileStore{Path: path}

	snap := Snapshot{Numbers: []string{"44*"}, FetchedAt: time.Now().UTC(), Source: "http://api"}
	if err := s.Save(context.Background(), snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Numbers) != 1 || got.Numbers[0] != "44*" || got.Source != "http://api" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestFileStore_MissReported(t *testing.T) {
	s := &FileStore{Path: filepath.Join(t.TempDir(), "missing.json")}
	if _, err := s.Load(context.Background()); err != ErrCacheMiss {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestService_StartFetchesAndNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["44*"]`))
	}))
	defer srv.Close()

	var updates atomic.Int32
	f := &Fetcher{URL: srv.URL, Method: http.MethodGet, DataKey: "data"}
	store := &FileStore{Path: filepath.Join(t.TempDir(), "cache.json")}

	svc := NewService(f, store, time.Hour, true, nil)
	svc.OnUpdate = func(numbers []string) {
		updates.Add(1)
		if len(numbers) != 1 || numbers[0] != "44*" {
			t.Errorf("unexpected update: %v", numbers)
		}
	}

	if !svc.Start(context.Background()) {
		t.Fatalf("expected start to succeed")
	}
	defer svc.Stop()

	if updates.Load() != 1 {
		t.Fatalf("expected 1 update, got %d", updates.Load())
	}

	st := svc.Status()
	if !st.LastSuccess || st.Patterns != 1 || st.FetchCount != 1 || st.FromCache {
		t.Fatalf("unexpected status: %+v", st)
	}

	// The successful fetch must have populated the cache.
	snap, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("cache load: %v", err)
	}
	if len(snap.Numbers) != 1 {
		t.Fatalf("unexpected cached snapshot: %+v", snap)
	}
}

func TestService_FallsBackToCacheOnStartupFailure(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "cache.json")}
	seed := Snapshot{Numbers: []string{"441234*"}, FetchedAt: time.Now(), Source: "seed"}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	// Unreachable endpoint.
	f := &Fetcher{URL: "http://127.0.0.1:1", Method: http.MethodGet, DataKey: "data", Client: &http.Client{Timeout: 100 * time.Millisecond}}

	svc := NewService(f, store, time.Hour, true, nil)
	if !svc.Start(context.Background()) {
		t.Fatalf("expected start to succeed via cache")
	}
	defer svc.Stop()

	st := svc.Status()
	if st.LastSuccess || !st.FromCache || st.Patterns != 1 || st.ErrorCount != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
	nums := svc.Numbers()
	if len(nums) != 1 || nums[0] != "441234*" {
		t.Fatalf("unexpected numbers: %v", nums)
	}
}

func TestService_FailedRefreshKeepsPreviousSet(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`["44*"]`))
	}))
	defer srv.Close()

	f := &Fetcher{URL: srv.URL, Method: http.MethodGet, DataKey: "data"}
	svc := NewService(f, nil, time.Hour, false, nil)
	if !svc.Start(context.Background()) {
		t.Fatalf("start failed")
	}
	defer svc.Stop()

	fail.Store(true)
	if svc.ForceRefresh(context.Background()) {
		t.Fatalf("expected refresh to fail")
	}
	if nums := svc.Numbers(); len(nums) != 1 {
		t.Fatalf("expected previous set to survive, got %v", nums)
	}
	st := svc.Status()
	if st.LastSuccess || st.ErrorCount != 1 || st.FetchCount != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
}
