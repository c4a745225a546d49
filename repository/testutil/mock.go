// Package testutil provides an in-memory stand-in for the repository client.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360studio/reliefdesk/report"
	"github.com/c360studio/reliefdesk/repository"
)

// MockRepository is a thread-safe in-memory repository for tests.
//
// Records behaves like the server's collection: successful mutations change
// it, failed ones do not. Set the *Err fields to force failures, and
// ListGate to hold List calls until the test releases them.
//
// Usage:
//
//	mock := testutil.NewMockRepository(report.Record{ID: "1", Category: "fire"})
//	mock.UpdateErr = &repository.Error{Kind: repository.KindServer, Op: "update"}
type MockRepository struct {
	mu      sync.Mutex
	records []report.Record
	nextID  int

	ListErr         error
	GetErr          error
	CreateErr       error
	UpdateErr       error
	DeleteErr       error
	ReplaceMediaErr error

	// ListGate, when non-nil, blocks every List call until it is closed or
	// receives a value.
	ListGate chan struct{}

	listCalls atomic.Int32

	// Captured arguments of the last mutation calls.
	LastCreate       report.Draft
	LastUpdate       report.Draft
	LastReplaceMedia []report.Attachment
}

// NewMockRepository seeds the mock with records in server order.
func NewMockRepository(records ...report.Record) *MockRepository {
	m := &MockRepository{nextID: 100}
	for _, r := range records {
		m.records = append(m.records, r.Clone())
	}
	return m
}

// ListCalls returns how many times List has been invoked.
func (m *MockRepository) ListCalls() int {
	return int(m.listCalls.Load())
}

// Records returns a copy of the server-side collection.
func (m *MockRepository) Records() []report.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.records)
}

// List implements the repository list operation.
func (m *MockRepository) List(ctx context.Context) ([]report.Record, error) {
	m.listCalls.Add(1)
	if m.ListGate != nil {
		select {
		case <-m.ListGate:
		case <-ctx.Done():
			return nil, &repository.Error{Kind: repository.KindNetwork, Op: repository.OpList, Err: ctx.Err()}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return cloneAll(m.records), nil
}

// Get implements the repository get operation.
func (m *MockRepository) Get(_ context.Context, id string) (report.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return report.Record{}, m.GetErr
	}
	i := m.indexOf(id)
	if i < 0 {
		return report.Record{}, notFound(repository.OpGet, id)
	}
	return m.records[i].Clone(), nil
}

// Create implements the repository create operation.
func (m *MockRepository) Create(_ context.Context, draft report.Draft) (report.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastCreate = draft
	if m.CreateErr != nil {
		return report.Record{}, m.CreateErr
	}

	m.nextID++
	rec := report.Record{ID: fmt.Sprintf("%d", m.nextID)}
	apply(&rec, draft)
	rec.Images = uploadURIs(rec.ID, draft.Images)
	m.records = append(m.records, rec)
	return rec.Clone(), nil
}

// Update implements the repository update operation.
func (m *MockRepository) Update(_ context.Context, id string, draft report.Draft) (report.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastUpdate = draft
	if m.UpdateErr != nil {
		return report.Record{}, m.UpdateErr
	}
	i := m.indexOf(id)
	if i < 0 {
		return report.Record{}, notFound(repository.OpUpdate, id)
	}
	apply(&m.records[i], draft)
	if len(draft.Images) > 0 {
		m.records[i].Images = append(m.records[i].Images, uploadURIs(id, draft.Images)...)
	}
	return m.records[i].Clone(), nil
}

// Delete implements the repository delete operation.
func (m *MockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	i := m.indexOf(id)
	if i < 0 {
		return notFound(repository.OpDelete, id)
	}
	m.records = append(m.records[:i], m.records[i+1:]...)
	return nil
}

// ReplaceMedia implements the repository replace-media operation.
func (m *MockRepository) ReplaceMedia(_ context.Context, id string, images []report.Attachment) (report.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastReplaceMedia = images
	if m.ReplaceMediaErr != nil {
		return report.Record{}, m.ReplaceMediaErr
	}
	i := m.indexOf(id)
	if i < 0 {
		return report.Record{}, notFound(repository.OpReplaceMedia, id)
	}
	m.records[i].Images = uploadURIs(id, images)
	return m.records[i].Clone(), nil
}

func (m *MockRepository) indexOf(id string) int {
	for i, r := range m.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func apply(rec *report.Record, d report.Draft) {
	if d.Location != "" {
		rec.Location = d.Location
	}
	if d.Size != "" {
		rec.Size = d.Size
	}
	if d.Description != "" {
		rec.Description = d.Description
	}
	if !d.DamageTime.IsZero() {
		rec.DamageTime = d.DamageTime
	}
	if d.Category != "" {
		rec.Category = d.Category
	}
	if d.ReportedBy != "" {
		rec.ReportedBy = d.ReportedBy
	}
	if d.Contact != "" {
		rec.Contact = d.Contact
	}
}

func uploadURIs(id string, images []report.Attachment) []string {
	uris := make([]string, 0, len(images))
	for i, img := range images {
		uris = append(uris, fmt.Sprintf("https://cdn.example.test/%s/%d-%s", id, i, img.Filename))
	}
	return uris
}

func notFound(op, id string) error {
	return &repository.Error{Kind: repository.KindNotFound, Op: op, ID: id, Status: 404, Message: "House not found"}
}

func cloneAll(records []report.Record) []report.Record {
	out := make([]report.Record, 0, len(records))
	for _, r := range records {
		out = append(out, r.Clone())
	}
	return out
}
