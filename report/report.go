// Package report defines the damage report record, the draft a form produces,
// and the attachments carried with it.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Category is the kind of damage a report describes.
type Category string

const (
	CategoryStorm      Category = "storm"
	CategoryEarthquake Category = "earthquake"
	CategoryFlood      Category = "flood"
	CategoryFire       Category = "fire"
	CategoryOther      Category = "other"
)

// Categories lists the accepted categories in form order.
var Categories = []Category{
	CategoryStorm,
	CategoryEarthquake,
	CategoryFlood,
	CategoryFire,
	CategoryOther,
}

// ParseCategory parses a category case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown damage category: %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the accepted categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryStorm, CategoryEarthquake, CategoryFlood, CategoryFire, CategoryOther:
		return true
	default:
		return false
	}
}

// Equal compares categories case-insensitively. Server records may carry
// values in any case.
func (c Category) Equal(other Category) bool {
	return strings.EqualFold(string(c), string(other))
}

// Record is a damage report as stored by the remote service.
type Record struct {
	ID          string     `json:"_id"`
	Location    string     `json:"houseLocation"`
	Size        string     `json:"houseSize"`
	Description string     `json:"damageDescription"`
	DamageTime  time.Time  `json:"damageTime"`
	Category    Category   `json:"damageType"`
	ReportedBy  string     `json:"reportedBy"`
	Contact     string     `json:"contactInfo,omitempty"`
	Images      []string   `json:"images"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`

	rawDamageTime string
}

// PrimaryImage returns the first image URI, or "" when the record has none.
func (r Record) PrimaryImage() string {
	if len(r.Images) == 0 {
		return ""
	}
	return r.Images[0]
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Images != nil {
		out.Images = append([]string(nil), r.Images...)
	}
	if r.CreatedAt != nil {
		t := *r.CreatedAt
		out.CreatedAt = &t
	}
	if r.UpdatedAt != nil {
		t := *r.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// Attachment is a newly selected image destined for a multipart upload.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}
