package cache

import (
	"time"

	"github.com/c360studio/reliefdesk/report"
)

// Snapshot is an immutable view of the canonical collection at one version.
// Accessors hand out copies, so holding a Snapshot never exposes the cache's
// own storage.
type Snapshot struct {
	records []report.Record
	index   map[string]int

	// Version increases by one every time the collection is replaced.
	Version uint64
	// FetchedAt is when the records were listed from the server. Zero when
	// the collection has never been loaded.
	FetchedAt time.Time
	// Stale is set once the collection has been invalidated or a refresh
	// failed, until the next successful refresh.
	Stale bool
}

// NewSnapshot builds a snapshot from records, copying them.
func NewSnapshot(records []report.Record, version uint64, fetchedAt time.Time) Snapshot {
	owned := make([]report.Record, 0, len(records))
	index := make(map[string]int, len(records))
	for _, r := range records {
		index[r.ID] = len(owned)
		owned = append(owned, r.Clone())
	}
	return Snapshot{
		records:   owned,
		index:     index,
		Version:   version,
		FetchedAt: fetchedAt,
	}
}

// Records returns a copy of the records in server order.
func (s Snapshot) Records() []report.Record {
	out := make([]report.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	return out
}

// Len returns the number of records.
func (s Snapshot) Len() int {
	return len(s.records)
}

// Find looks a record up by identifier.
func (s Snapshot) Find(id string) (report.Record, bool) {
	i, ok := s.index[id]
	if !ok {
		return report.Record{}, false
	}
	return s.records[i].Clone(), true
}

// Contains reports whether a record with id is present.
func (s Snapshot) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Loaded reports whether the snapshot came from a fetch or the store.
func (s Snapshot) Loaded() bool {
	return !s.FetchedAt.IsZero()
}
