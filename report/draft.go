package report

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Multipart form field names.
const (
	FieldLocation    = "houseLocation"
	FieldSize        = "houseSize"
	FieldDescription = "damageDescription"
	FieldDamageTime  = "damageTime"
	FieldCategory    = "damageType"
	FieldReportedBy  = "reportedBy"
	FieldContact     = "contactInfo"
	FieldImages      = "images"
)

// Draft is unsaved form input destined to become, or update, a Record.
// Zero-valued fields are treated as unset on update.
type Draft struct {
	Location    string    `form:"houseLocation" validate:"required,max=500"`
	Size        string    `form:"houseSize" validate:"required,max=50"`
	Description string    `form:"damageDescription" validate:"required"`
	DamageTime  time.Time `form:"damageTime" validate:"required_time"`
	Category    Category  `form:"damageType" validate:"required,damage_category"`
	ReportedBy  string    `form:"reportedBy" validate:"required,max=200"`
	Contact     string    `form:"contactInfo" validate:"omitempty,max=200"`

	// Images are newly selected attachments in selection order.
	Images []Attachment `form:"-" validate:"-"`

	// ReplaceMedia asks an update to swap the record's whole image list for
	// Images. Ignored on create.
	ReplaceMedia bool `form:"-" validate:"-"`
}

// FormField is one scalar multipart field.
type FormField struct {
	Name  string
	Value string
}

// Fields returns the set scalar fields in form order, stringified.
func (d Draft) Fields() []FormField {
	var fields []FormField
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, FormField{Name: name, Value: value})
		}
	}
	add(FieldLocation, d.Location)
	add(FieldSize, d.Size)
	add(FieldDescription, d.Description)
	if !d.DamageTime.IsZero() {
		add(FieldDamageTime, FormatTime(d.DamageTime))
	}
	add(FieldCategory, strings.ToLower(string(d.Category)))
	add(FieldReportedBy, d.ReportedBy)
	add(FieldContact, d.Contact)
	return fields
}

// HasScalars reports whether any scalar field is set.
func (d Draft) HasScalars() bool {
	return len(d.Fields()) > 0
}

// FromRecord builds a draft pre-filled from an existing record, the way the
// edit form is seeded. Images are left empty: existing media stays on the
// server unless replaced.
func FromRecord(r Record) Draft {
	return Draft{
		Location:    r.Location,
		Size:        r.Size,
		Description: r.Description,
		DamageTime:  r.DamageTime,
		Category:    r.Category,
		ReportedBy:  r.ReportedBy,
		Contact:     r.Contact,
	}
}

// FieldError describes one invalid draft field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is returned when a draft fails local validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func draftValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("damage_category", func(fl validator.FieldLevel) bool {
			return Category(strings.ToLower(fl.Field().String())).Valid()
		})
		_ = v.RegisterValidation("required_time", func(fl validator.FieldLevel) bool {
			t, ok := fl.Field().Interface().(time.Time)
			return ok && !t.IsZero()
		}, true)
		validate = v
	})
	return validate
}

// ValidateCreate checks that every required field is present and well formed.
func (d Draft) ValidateCreate() error {
	return translate(draftValidator().Struct(d))
}

// ValidateUpdate checks only the fields the draft sets.
func (d Draft) ValidateUpdate() error {
	var set []string
	if d.Location != "" {
		set = append(set, "Location")
	}
	if d.Size != "" {
		set = append(set, "Size")
	}
	if d.Description != "" {
		set = append(set, "Description")
	}
	if !d.DamageTime.IsZero() {
		set = append(set, "DamageTime")
	}
	if d.Category != "" {
		set = append(set, "Category")
	}
	if d.ReportedBy != "" {
		set = append(set, "ReportedBy")
	}
	if d.Contact != "" {
		set = append(set, "Contact")
	}
	if len(set) == 0 {
		if len(d.Images) == 0 {
			return &ValidationError{Fields: []FieldError{{Message: "nothing to update"}}}
		}
		return nil
	}
	return translate(draftValidator().StructPartial(d, set...))
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_time":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "damage_category":
		return fmt.Sprintf("%s must be one of storm, earthquake, flood, fire, other", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
