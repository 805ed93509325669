package allowlist

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the last successfully fetched pattern set so the gate keeps
// working across restarts while the numbers API is down.
//
// Saves are best-effort; a failed save must never fail the fetch that
// produced the data.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Snapshot is the cached document: the patterns plus provenance.
type Snapshot struct {
	Numbers   []string  `json:"numbers"`
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
}

var ErrCacheMiss = errors.New("allowlist: no cached snapshot")

// FileStore keeps the snapshot as a JSON file on local disk.
type FileStore struct {
	Path string
}

func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}

	// Write-then-rename so a crash mid-write cannot truncate the cache.
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, ErrCacheMiss
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// RedisStore keeps the snapshot under a single Redis key. Useful when the
// gate runs on a read-only root filesystem.
type RedisStore struct {
	Client *redis.Client
	Key    string
}

const defaultRedisKey = "doorgate:allowlist"

func (s *RedisStore) key() string {
	if s.Key != "" {
		return s.Key
	}
	return defaultRedisKey
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, s.key(), data, 0).Err()
}

func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := s.Client.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrCacheMiss
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
