package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Skippable record errors. A record failing date parsing is dropped and
// counted, never raised to the caller of a transform.
var (
	ErrMissingDate = errors.New("missing incident date")
	ErrBadDate     = errors.New("unparseable incident date")
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e11

// Layouts tried in order after stripping a trailing "Z" / "+00:00".
// hasTime marks layouts that carry time-of-day precision.
var dateLayouts = []struct {
	layout  string
	hasTime bool
}{
	{"2006-01-02T15:04:05.999999999", true},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02", false},
	{"01/02/2006 15:04:05", true},
	{"01/02/2006 03:04:05 PM", true},
	{"01/02/2006", false},
	{"2006/01/02", false},
	{"2006-1", false}, // composite year,month fields
}

// Layouts that carry their own zone and are tried before stripping.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
}

// ParseDate reads an incident date from a raw field value. It returns the
// calendar date (UTC midnight) and, when the source had time precision, the
// full timestamp.
func ParseDate(val any) (time.Time, *time.Time, error) {
	switch v := val.(type) {
	case nil:
		return time.Time{}, nil, ErrMissingDate
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("%w: %q", ErrBadDate, v.String())
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(v)
	case int64:
		return fromEpoch(float64(v))
	case int:
		return fromEpoch(float64(v))
	case string:
		return parseDateString(v)
	default:
		return time.Time{}, nil, fmt.Errorf("%w: unsupported type %T", ErrBadDate, val)
	}
}

func fromEpoch(f float64) (time.Time, *time.Time, error) {
	if f <= 0 {
		return time.Time{}, nil, fmt.Errorf("%w: epoch %v", ErrBadDate, f)
	}
	var t time.Time
	if f > epochMillisThreshold {
		t = time.UnixMilli(int64(f)).UTC()
	} else {
		t = time.Unix(int64(f), 0).UTC()
	}
	return DateOf(t), &t, nil
}

func parseDateString(s string) (time.Time, *time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil, ErrMissingDate
	}
	if isEpochString(s) {
		f, _ := strconv.ParseFloat(s, 64)
		return fromEpoch(f)
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			// Keep the calendar date as reported at the source.
			date := DateOf(t)
			utc := t.UTC()
			return date, &utc, nil
		}
	}

	s = strings.TrimSuffix(strings.TrimSuffix(s, "Z"), "+00:00")
	if len(s) > 29 {
		s = s[:29]
	}
	for _, l := range dateLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if !l.hasTime {
			return DateOf(t), nil, nil
		}
		return DateOf(t), &t, nil
	}
	return time.Time{}, nil, fmt.Errorf("%w: %q", ErrBadDate, s)
}

// isEpochString reports whether s is a bare run of digits long enough to be
// an epoch timestamp rather than a compact date.
func isEpochString(s string) bool {
	if len(s) < 9 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DateOf truncates a time to its calendar date at UTC midnight, using the
// wall-clock date of t.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
