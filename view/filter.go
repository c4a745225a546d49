package view

import (
	"strings"
	"sync"

	"github.com/c360studio/reliefdesk/report"
)

// AllCategories is the filter value meaning no category restriction.
const AllCategories = "all"

// Filter is the active list filter. The zero value matches everything.
type Filter struct {
	// Category is a damage category or AllCategories. Empty means all.
	Category string
	// Search is matched case-insensitively against location, description
	// and reporter name. Empty disables search.
	Search string
	// Expr is an optional boolean expression over record fields.
	Expr string
}

// AllowsAny reports whether the category part of the filter is unrestricted.
func (f Filter) AllowsAny() bool {
	c := strings.TrimSpace(f.Category)
	return c == "" || strings.EqualFold(c, AllCategories)
}

// MatchesCategory reports whether category passes the category part of the filter.
func (f Filter) MatchesCategory(category report.Category) bool {
	if f.AllowsAny() {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(f.Category), string(category))
}

// FilterState holds the dashboard's current filter. It is not persisted.
type FilterState struct {
	mu     sync.RWMutex
	filter Filter
}

// Get returns the current filter.
func (s *FilterState) Get() Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// SetCategory changes the category restriction.
func (s *FilterState) SetCategory(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Category = category
}

// SetSearch changes the search term.
func (s *FilterState) SetSearch(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Search = term
}

// Set replaces the whole filter.
func (s *FilterState) Set(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}
