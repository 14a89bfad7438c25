package report

import (
	"strings"
	"time"
)

// DateLayout is the canonical date format stored in the date field.
const DateLayout = "02.01.2006"

var dateLayouts = []string{DateLayout, "2006-01-02", "02/01/2006", "2.1.2006"}

// maxIdentifierLen bounds *_number fields; longer values are rejected.
const maxIdentifierLen = 100

// ParseDate accepts DD.MM.YYYY, YYYY-MM-DD and a few close variants.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Normalize cleans raw extracted values: keys outside set are dropped,
// values are trimmed, the date is rewritten as DD.MM.YYYY and identifier
// fields over the length limit are cleared. Values that fail these checks
// come back empty, so they count as missing.
func Normalize(set FieldSet, raw map[string]string) Fields {
	out := make(Fields, len(raw))
	for k, v := range raw {
		k = strings.TrimSpace(k)
		if !set.Contains(k) {
			continue
		}
		v = strings.TrimSpace(v)
		switch {
		case v == "":
		case k == FieldDate:
			if t, ok := ParseDate(v); ok {
				v = t.Format(DateLayout)
			} else {
				v = ""
			}
		case strings.HasSuffix(k, "_number"):
			v = strings.ToUpper(v)
			if len(v) > maxIdentifierLen {
				v = ""
			}
		}
		if v != "" {
			out[k] = v
		}
	}
	return out
}
