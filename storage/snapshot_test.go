package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/reliefdesk/cache"
	"github.com/c360studio/reliefdesk/report"
)

type fakeEntry struct {
	jetstream.KeyValueEntry
	value    []byte
	revision uint64
}

func (e fakeEntry) Value() []byte    { return e.value }
func (e fakeEntry) Revision() uint64 { return e.revision }

type fakeBucket struct {
	data     map[string][]byte
	revision uint64
	getErr   error
	putErr   error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{data: make(map[string][]byte)}
}

func (b *fakeBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	v, ok := b.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return fakeEntry{value: v, revision: b.revision}, nil
}

func (b *fakeBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if b.putErr != nil {
		return 0, b.putErr
	}
	b.revision++
	b.data[key] = append([]byte(nil), value...)
	return b.revision, nil
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	store := NewSnapshotStoreWithBucket(newFakeBucket(), nil)
	fetched := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	records := []report.Record{
		{ID: "b", Location: "Hill Street", Category: report.CategoryStorm, DamageTime: fetched.Add(-time.Hour), Images: []string{"https://cdn/b/0.jpg"}},
		{ID: "a", Location: "Canal Road", Category: report.CategoryFire, DamageTime: fetched.Add(-2 * time.Hour), Contact: "0300"},
	}

	require.NoError(t, store.Save(context.Background(), cache.NewSnapshot(records, 7, fetched)))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, got.Version)
	assert.True(t, fetched.Equal(got.FetchedAt))
	assert.Equal(t, records, got.Records(), "server order is preserved")
	rec, ok := got.Find("a")
	require.True(t, ok)
	assert.Equal(t, "0300", rec.Contact)
}

func TestSnapshotStore_LoadEmpty(t *testing.T) {
	store := NewSnapshotStoreWithBucket(newFakeBucket(), nil)

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotStore_Errors(t *testing.T) {
	bucket := newFakeBucket()
	store := NewSnapshotStoreWithBucket(bucket, nil)

	bucket.putErr = errors.New("nats: timeout")
	err := store.Save(context.Background(), cache.NewSnapshot(nil, 1, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store snapshot")

	bucket.getErr = errors.New("nats: connection closed")
	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	bucket.getErr = nil
	bucket.data[latestKey] = []byte("{not json")
	_, err = store.Load(context.Background())
	assert.ErrorContains(t, err, "unmarshal snapshot")
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, isNotFound(nil))
	assert.True(t, isNotFound(jetstream.ErrKeyNotFound))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", jetstream.ErrKeyNotFound)))
	assert.True(t, isNotFound(errors.New("nats: key not found")))
	assert.False(t, isNotFound(errors.New("nats: timeout")))
}

func TestSnapshotStore_WarmsCache(t *testing.T) {
	store := NewSnapshotStoreWithBucket(newFakeBucket(), nil)
	records := []report.Record{{ID: "1", Location: "Depot", Category: report.CategoryOther}}
	require.NoError(t, store.Save(context.Background(), cache.NewSnapshot(records, 3, time.Now())))

	c := cache.New(nil, cache.WithStore(store))
	require.NoError(t, c.Warm(context.Background()))

	snap := c.Snapshot()
	assert.True(t, snap.Stale)
	assert.True(t, snap.Contains("1"))
	assert.EqualValues(t, 3, snap.Version)
}
