// Package report holds the field-report data model: the ordered set of
// required fields, the accumulated field values, and the immutable draft
// handed to storage.
package report

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Canonical field names used by the default field set.
const (
	FieldDate            = "date"
	FieldEquipmentNumber = "equipment_number"
	FieldBrigadeNumber   = "brigade_number"
	FieldWorkDescription = "work_description"
)

// DefaultFieldNames is the default required field order.
var DefaultFieldNames = []string{FieldDate, FieldEquipmentNumber, FieldBrigadeNumber, FieldWorkDescription}

// FieldSet is an ordered, duplicate-free list of required field names. Its
// order decides the order of clarification questions.
type FieldSet struct {
	names []string
}

// NewFieldSet validates and builds a field set.
func NewFieldSet(names ...string) (FieldSet, error) {
	if len(names) == 0 {
		return FieldSet{}, fmt.Errorf("report: field set is empty")
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return FieldSet{}, fmt.Errorf("report: empty field name")
		}
		if seen[n] {
			return FieldSet{}, fmt.Errorf("report: duplicate field %q", n)
		}
		seen[n] = true
		out = append(out, n)
	}
	return FieldSet{names: out}, nil
}

// DefaultFieldSet returns the default four-field set.
func DefaultFieldSet() FieldSet {
	return FieldSet{names: slices.Clone(DefaultFieldNames)}
}

// Names returns the field names in declared order.
func (s FieldSet) Names() []string { return slices.Clone(s.names) }

// Len returns the number of fields.
func (s FieldSet) Len() int { return len(s.names) }

// Contains reports whether name is a required field.
func (s FieldSet) Contains(name string) bool { return slices.Contains(s.names, name) }

// Missing returns the fields with no non-empty value in f, in declared order.
func (s FieldSet) Missing(f Fields) []string {
	missing := []string{}
	for _, n := range s.names {
		if strings.TrimSpace(f[n]) == "" {
			missing = append(missing, n)
		}
	}
	return missing
}

// Complete reports whether every field has a non-empty value in f.
func (s FieldSet) Complete(f Fields) bool { return len(s.Missing(f)) == 0 }

// Fields maps canonical field names to values.
type Fields map[string]string

// Clone returns a copy of f. A nil receiver yields an empty map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	maps.Copy(out, f)
	return out
}

// Merge returns prior overlaid with every non-empty value from next.
// Empty or absent values in next leave prior untouched.
func Merge(prior, next Fields) Fields {
	out := prior.Clone()
	for k, v := range next {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// Draft is a complete, immutable set of report fields awaiting confirmation.
type Draft struct {
	fields Fields
	order  []string
	at     time.Time
}

// NewDraft freezes f into a draft. It fails if any field in set is missing.
func NewDraft(set FieldSet, f Fields, at time.Time) (Draft, error) {
	if missing := set.Missing(f); len(missing) > 0 {
		return Draft{}, fmt.Errorf("report: draft incomplete, missing %s", strings.Join(missing, ", "))
	}
	kept := make(Fields, set.Len())
	for _, n := range set.names {
		kept[n] = strings.TrimSpace(f[n])
	}
	return Draft{fields: kept, order: set.Names(), at: at}, nil
}

// Fields returns a copy of the draft's values.
func (d Draft) Fields() Fields { return d.fields.Clone() }

// Get returns one field value.
func (d Draft) Get(name string) string { return d.fields[name] }

// CreatedAt returns when the draft was assembled.
func (d Draft) CreatedAt() time.Time { return d.at }

// IsZero reports whether d was never built.
func (d Draft) IsZero() bool { return d.fields == nil }

// Summary renders the draft as "label: value" lines in field order.
func (d Draft) Summary() string {
	var b strings.Builder
	for _, n := range d.order {
		fmt.Fprintf(&b, "%s: %s\n", Label(n), d.fields[n])
	}
	return strings.TrimRight(b.String(), "\n")
}

// ReportDate parses the draft's date field, if present.
func (d Draft) ReportDate() (time.Time, bool) {
	return ParseDate(d.fields[FieldDate])
}

// Record is a stored report.
type Record struct {
	ID          uint
	Platform    string
	UserID      string
	ReportDate  time.Time
	Fields      Fields
	Transcript  string
	ConfirmedAt time.Time
}

var labels = map[string]string{
	FieldDate:            "Дата",
	FieldEquipmentNumber: "Номер техники",
	FieldBrigadeNumber:   "Номер бригады",
	FieldWorkDescription: "Описание работ",
}

// Label returns the human-readable name of a field, or the name itself.
func Label(name string) string {
	if l, ok := labels[name]; ok {
		return l
	}
	return name
}
