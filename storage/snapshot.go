// Package storage persists the last good collection snapshot in a NATS
// JetStream key-value bucket so a restarted client can show data before its
// first refresh completes.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/reliefdesk/cache"
	"github.com/c360studio/reliefdesk/report"
)

// DefaultBucket is the KV bucket holding snapshots.
const DefaultBucket = "RELIEFDESK_SNAPSHOTS"

// latestKey is the key of the most recent snapshot.
const latestKey = "houses.latest"

// Bucket is the subset of jetstream.KeyValue the store uses.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// storedSnapshot is the persisted form of a cache.Snapshot.
type storedSnapshot struct {
	Version   uint64          `json:"version"`
	FetchedAt time.Time       `json:"fetched_at"`
	Records   []report.Record `json:"records"`
}

// SnapshotStore implements cache.SnapshotStore on a KV bucket.
type SnapshotStore struct {
	kv     Bucket
	logger *slog.Logger
}

var _ cache.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore opens bucket, creating it if it doesn't exist.
func NewSnapshotStore(ctx context.Context, js jetstream.JetStream, bucket string, logger *slog.Logger) (*SnapshotStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		return nil, fmt.Errorf("create snapshot bucket: %w", err)
	}
	return NewSnapshotStoreWithBucket(kv, logger), nil
}

// NewSnapshotStoreWithBucket wraps an already opened bucket.
func NewSnapshotStoreWithBucket(kv Bucket, logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{kv: kv, logger: logger}
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Reliefdesk %s", strings.ToLower(name)),
		History:     5, // Keep last 5 snapshots
	})
}

// Load returns the most recently saved snapshot, or ErrNotFound.
func (s *SnapshotStore) Load(ctx context.Context) (cache.Snapshot, error) {
	entry, err := s.kv.Get(ctx, latestKey)
	if err != nil {
		if isNotFound(err) {
			return cache.Snapshot{}, ErrNotFound
		}
		return cache.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}

	var stored storedSnapshot
	if err := json.Unmarshal(entry.Value(), &stored); err != nil {
		return cache.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	s.logger.Debug("Loaded stored snapshot",
		"version", stored.Version,
		"records", len(stored.Records),
		"revision", entry.Revision())
	return cache.NewSnapshot(stored.Records, stored.Version, stored.FetchedAt), nil
}

// Save stores snap as the latest snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap cache.Snapshot) error {
	data, err := json.Marshal(storedSnapshot{
		Version:   snap.Version,
		FetchedAt: snap.FetchedAt,
		Records:   snap.Records(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := s.kv.Put(ctx, latestKey, data); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}
