package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
)

// Store persists the registry snapshot as a write-through snapshot, not a
// log; Load is best-effort at startup, Save happens synchronously after
// every Register.
type Store interface {
	Load(ctx context.Context) (map[string]snapshotRecord, error)
	Save(ctx context.Context, snapshot map[string]snapshotRecord) error
}

// FileStore persists the snapshot as a JSON object on the local
// filesystem, writing through a temp-file + rename so readers never
// observe a partially written snapshot.
type FileStore struct {
	path string
}

// NewFileStore returns a Store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (map[string]snapshotRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]snapshotRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry snapshot %s: %w", s.path, err)
	}
	var snapshot map[string]snapshotRecord
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("corrupt registry snapshot %s: %w", s.path, err)
	}
	return snapshot, nil
}

func (s *FileStore) Save(_ context.Context, snapshot map[string]snapshotRecord) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".registry-snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp registry snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp registry snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename registry snapshot into place: %w", err)
	}
	return nil
}

// RedisStore mirrors the snapshot into Redis (one hash field per agent).
// It is an optional secondary store, combined with a FileStore primary
// through MirroredStore so a second orchestrator process (read-only) can
// observe the same snapshot without sharing a filesystem. cmd/orchestrator
// wires only a FileStore and has no setting that enables this mirror.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore returns a Store backed by a Redis hash at key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]snapshotRecord, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load registry snapshot from redis: %w", err)
	}
	snapshot := make(map[string]snapshotRecord, len(raw))
	for name, data := range raw {
		var rec snapshotRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("corrupt redis registry entry %q: %w", name, err)
		}
		snapshot[name] = rec
	}
	return snapshot, nil
}

func (s *RedisStore) Save(ctx context.Context, snapshot map[string]snapshotRecord) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	for name, rec := range snapshot {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal redis registry entry %q: %w", name, err)
		}
		pipe.HSet(ctx, s.key, name, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save registry snapshot to redis: %w", err)
	}
	return nil
}

// MirroredStore writes to Primary and, best-effort, to Mirror; reads
// always come from Primary. Mirror write failures are logged by the
// caller, not surfaced, matching spec.md's "persistence failure is logged
// but does not abort callers" rule for the water counter and extending it
// to the optional Redis mirror.
type MirroredStore struct {
	Primary Store
	Mirror  Store
	OnMirrorError func(error)
}

func (s *MirroredStore) Load(ctx context.Context) (map[string]snapshotRecord, error) {
	return s.Primary.Load(ctx)
}

func (s *MirroredStore) Save(ctx context.Context, snapshot map[string]snapshotRecord) error {
	if err := s.Primary.Save(ctx, snapshot); err != nil {
		return err
	}
	if s.Mirror != nil {
		if err := s.Mirror.Save(ctx, snapshot); err != nil && s.OnMirrorError != nil {
			s.OnMirrorError(err)
		}
	}
	return nil
}
