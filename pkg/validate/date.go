package validate

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Aquilesorei/strutex/pkg/schema"
)

// DefaultDateFormats are tried in order when no formats are configured.
var DefaultDateFormats = []string{"2006-01-02", "02.01.2006", "01/02/2006"}

// DateValidator checks that date fields parse and fall within a year range.
// Without configured fields every top-level string field whose name
// contains "date" is checked. Empty and null values are skipped.
type DateValidator struct {
	Fields  []string // dot paths
	Formats []string // Go layouts, default DefaultDateFormats
	MinYear int      // default 1900
	MaxYear int      // default 2100

	// Normalize rewrites valid dates in ISO form (2006-01-02).
	Normalize bool
}

func (DateValidator) Name() string { return "date" }

func (v DateValidator) Validate(data map[string]any, _ *schema.Schema) Result {
	formats := v.Formats
	if len(formats) == 0 {
		formats = DefaultDateFormats
	}
	minYear, maxYear := v.MinYear, v.MaxYear
	if minYear == 0 {
		minYear = 1900
	}
	if maxYear == 0 {
		maxYear = 2100
	}

	out := data
	var issues []string
	for _, field := range v.fields(data) {
		raw, ok := lookup(data, field)
		if !ok || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: expected date string, got %T", field, raw))
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		t, ok := parseDate(s, formats)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: %q does not match any date format", field, s))
			continue
		}
		if y := t.Year(); y < minYear || y > maxYear {
			issues = append(issues, fmt.Sprintf("%s: year %d outside [%d, %d]", field, y, minYear, maxYear))
			continue
		}
		if v.Normalize {
			if iso := t.Format(time.DateOnly); iso != s {
				out = assign(out, field, iso)
			}
		}
	}
	return Fail(out, issues...)
}

func (v DateValidator) fields(data map[string]any) []string {
	if len(v.Fields) > 0 {
		return v.Fields
	}
	var fields []string
	for k, val := range data {
		if _, isString := val.(string); isString && strings.Contains(strings.ToLower(k), "date") {
			fields = append(fields, k)
		}
	}
	slices.Sort(fields)
	return fields
}

func parseDate(s string, formats []string) (time.Time, bool) {
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
