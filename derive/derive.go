// Package derive computes filtered lists and dashboard statistics from a
// collection snapshot. Everything here is a pure function of its inputs.
package derive

import (
	"math"
	"strings"
	"time"

	"github.com/c360studio/reliefdesk/report"
	"github.com/c360studio/reliefdesk/view"
)

// RecentWindow is how far back a report counts as recent.
const RecentWindow = 7 * 24 * time.Hour

// severeCategories is the fixed severe-damage policy. Storm is excluded.
var severeCategories = map[report.Category]bool{
	report.CategoryEarthquake: true,
	report.CategoryFlood:      true,
	report.CategoryFire:       true,
}

// IsSevere reports whether category counts as severe damage.
func IsSevere(category report.Category) bool {
	return severeCategories[report.Category(strings.ToLower(string(category)))]
}

// IsRecent reports whether t falls within RecentWindow before now. The lower
// bound is inclusive; future timestamps count as recent.
func IsRecent(t, now time.Time) bool {
	return !t.Before(now.Add(-RecentWindow))
}

// Filtered returns the records passing f's category and search parts, in
// input order.
func Filtered(records []report.Record, f view.Filter) []report.Record {
	term := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]report.Record, 0, len(records))
	for _, r := range records {
		if !f.MatchesCategory(r.Category) {
			continue
		}
		if term != "" && !matchesSearch(r, term) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesSearch(r report.Record, term string) bool {
	return strings.Contains(strings.ToLower(r.Location), term) ||
		strings.Contains(strings.ToLower(r.Description), term) ||
		strings.Contains(strings.ToLower(r.ReportedBy), term)
}

// Stats are the dashboard's summary figures.
type Stats struct {
	Total       int `json:"total"`
	SevereCount int `json:"severe_count"`
	RecentCount int `json:"recent_count"`
	// RecoveryRate is RecentCount as a rounded percentage of Total.
	RecoveryRate int `json:"recovery_rate"`
}

// ComputeStats summarises records as of now. Callers pass wall-clock time at
// render, so RecentCount moves as time passes.
func ComputeStats(records []report.Record, now time.Time) Stats {
	s := Stats{Total: len(records)}
	for _, r := range records {
		if IsSevere(r.Category) {
			s.SevereCount++
		}
		if IsRecent(r.DamageTime, now) {
			s.RecentCount++
		}
	}
	if s.Total > 0 {
		s.RecoveryRate = int(math.Round(float64(s.RecentCount) / float64(s.Total) * 100))
	}
	return s
}

// CountByCategory counts records per lower-cased category.
func CountByCategory(records []report.Record) map[report.Category]int {
	counts := make(map[report.Category]int, len(report.Categories))
	for _, r := range records {
		counts[report.Category(strings.ToLower(string(r.Category)))]++
	}
	return counts
}
