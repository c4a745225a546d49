package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft() Draft {
	return Draft{
		Location:    "12 Canal Road",
		Size:        "5",
		Description: "Roof collapsed",
		DamageTime:  time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
		Category:    CategoryFlood,
		ReportedBy:  "Field Team A",
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input   string
		want    Category
		wantErr bool
	}{
		{"fire", CategoryFire, false},
		{"FIRE", CategoryFire, false},
		{" Storm ", CategoryStorm, false},
		{"other", CategoryOther, false},
		{"tornado", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCategory(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategoryEqual(t *testing.T) {
	assert.True(t, Category("Fire").Equal(CategoryFire))
	assert.False(t, CategoryStorm.Equal(CategoryFire))
}

func TestRecordUnmarshal_LooseDamageTime(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"rfc3339", "2024-05-01T10:30:00Z", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{"millis", "2024-05-01T10:30:00.000Z", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{"datetime-local", "2024-05-01T10:30", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{"date only", "2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"_id":"1","houseLocation":"x","damageType":"fire","damageTime":"` + tt.value + `","images":["a.jpg"]}`
			var r Record
			require.NoError(t, json.Unmarshal([]byte(body), &r))
			assert.True(t, tt.want.Equal(r.DamageTime), "got %s", r.DamageTime)
			assert.Equal(t, "1", r.ID)
			assert.Equal(t, CategoryFire, r.Category)
			assert.Equal(t, "a.jpg", r.PrimaryImage())
		})
	}

	t.Run("unparseable kept", func(t *testing.T) {
		var r Record
		require.NoError(t, json.Unmarshal([]byte(`{"_id":"1","damageType":"flood","damageTime":"yesterday"}`), &r))
		assert.Equal(t, "1", r.ID)
		assert.Equal(t, CategoryFlood, r.Category)
		assert.True(t, r.DamageTime.IsZero())
		assert.Equal(t, "yesterday", r.UnparsedDamageTime())
	})

	t.Run("malformed json", func(t *testing.T) {
		var r Record
		assert.Error(t, json.Unmarshal([]byte(`{"_id":1`), &r))
	})
}

func TestRecordClone_Independent(t *testing.T) {
	now := time.Now()
	orig := Record{ID: "1", Images: []string{"a", "b"}, CreatedAt: &now}
	cp := orig.Clone()
	cp.Images[0] = "changed"
	*cp.CreatedAt = now.Add(time.Hour)

	assert.Equal(t, "a", orig.Images[0])
	assert.True(t, orig.CreatedAt.Equal(now))
}

func TestDraftFields(t *testing.T) {
	d := validDraft()
	d.Category = "Flood"

	fields := d.Fields()
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		FieldLocation, FieldSize, FieldDescription, FieldDamageTime, FieldCategory, FieldReportedBy,
	}, names)
	assert.Equal(t, "2024-05-01T10:30:00Z", fields[3].Value)
	assert.Equal(t, "flood", fields[4].Value)

	assert.False(t, Draft{}.HasScalars())
}

func TestValidateCreate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Draft)
		wantField string
	}{
		{"valid", func(d *Draft) {}, ""},
		{"missing location", func(d *Draft) { d.Location = "" }, FieldLocation},
		{"missing time", func(d *Draft) { d.DamageTime = time.Time{} }, FieldDamageTime},
		{"bad category", func(d *Draft) { d.Category = "tornado" }, FieldCategory},
		{"missing reporter", func(d *Draft) { d.ReportedBy = "" }, FieldReportedBy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.modify(&d)
			err := d.ValidateCreate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, tt.wantField, verr.Fields[0].Field)
		})
	}
}

func TestValidateUpdate(t *testing.T) {
	t.Run("partial draft only checks set fields", func(t *testing.T) {
		d := Draft{Description: "Water level rose further"}
		assert.NoError(t, d.ValidateUpdate())
	})

	t.Run("set category still validated", func(t *testing.T) {
		d := Draft{Category: "volcano"}
		var verr *ValidationError
		require.ErrorAs(t, d.ValidateUpdate(), &verr)
		assert.Contains(t, verr.Error(), FieldCategory)
	})

	t.Run("images only", func(t *testing.T) {
		d := Draft{Images: []Attachment{{Filename: "a.jpg"}}, ReplaceMedia: true}
		assert.NoError(t, d.ValidateUpdate())
	})

	t.Run("empty draft rejected", func(t *testing.T) {
		assert.Error(t, Draft{}.ValidateUpdate())
	})
}

func TestFromRecord(t *testing.T) {
	r := Record{ID: "9", Location: "Main St", Category: CategoryFire, Images: []string{"x"}}
	d := FromRecord(r)
	assert.Equal(t, "Main St", d.Location)
	assert.Equal(t, CategoryFire, d.Category)
	assert.Empty(t, d.Images)
	assert.False(t, d.ReplaceMedia)
}
