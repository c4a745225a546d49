package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeLayouts are tried in order when parsing damage timestamps. Browser
// datetime-local inputs submit minute precision without a zone.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses a damage timestamp in any of the accepted layouts.
// Zone-less values are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %q", s)
}

// FormatTime renders t the way the multipart encoder sends it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// UnmarshalJSON accepts the loose damageTime formats the service echoes back.
// A value in none of them leaves DamageTime zero and is kept for
// UnparsedDamageTime, so one bad record cannot fail a whole listing.
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	aux := struct {
		*alias
		DamageTime string `json:"damageTime"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := ParseTime(aux.DamageTime)
	if err != nil {
		r.DamageTime = time.Time{}
		r.rawDamageTime = aux.DamageTime
		return nil
	}
	r.DamageTime = t
	r.rawDamageTime = ""
	return nil
}

// UnparsedDamageTime returns the server's damageTime when it could not be
// parsed, or "".
func (r Record) UnparsedDamageTime() string {
	return r.rawDamageTime
}
