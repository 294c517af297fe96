package schedule

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Schedule is a validated six-field schedule.
//
// The zero value matches every second; use Parse or New to build one.
type Schedule struct {
	fields [numFields]Field
	expr   string
}

// New builds a schedule from fields already in stored form (month values
// zero-based). Five fields get a trailing Exact(0) seconds field.
func New(fields ...Field) (Schedule, error) {
	if len(fields) < minFields || len(fields) > maxFields {
		return Schedule{}, &ParseError{
			Field:  -1,
			Reason: fmt.Sprintf("expected %d or %d fields, got %d", minFields, maxFields, len(fields)),
		}
	}
	var s Schedule
	for i, f := range fields {
		switch f.Kind {
		case KindWildcard, KindExact:
		case KindStep:
			if f.Value <= 0 {
				return Schedule{}, &ParseError{Field: i, Value: f.String(), Reason: "step divisor must be a positive integer"}
			}
		case KindAnyOf:
			if len(f.Values) == 0 {
				return Schedule{}, &ParseError{Field: i, Reason: "empty list"}
			}
			f.Values = slices.Clone(f.Values)
		default:
			return Schedule{}, &ParseError{Field: i, Reason: "unknown field kind"}
		}
		s.fields[i] = f
	}
	if len(fields) < maxFields {
		s.fields[Second] = Exact(0)
	}

	toks := make([]string, numFields)
	for i, f := range s.fields {
		if Position(i) == Month {
			f = toOneBasedMonth(f)
		}
		toks[i] = f.String()
	}
	s.expr = strings.Join(toks, " ")
	return s, nil
}

// String returns the normalized expression (always six fields).
func (s Schedule) String() string {
	if s.expr == "" {
		return "* * * * * *"
	}
	return s.expr
}

// Field returns the stored field at p.
func (s Schedule) Field(p Position) Field {
	if p < 0 || int(p) >= numFields {
		return Field{}
	}
	f := s.fields[p]
	f.Values = slices.Clone(f.Values)
	return f
}

// Due reports whether t satisfies every field of s.
// Components are read in t's own location.
func (s Schedule) Due(t time.Time) bool {
	for p := Year; p <= Second; p++ {
		if !s.fields[p].matches(p, p.value(t)) {
			return false
		}
	}
	return true
}

// SameSecond reports whether last and now fall in the same UTC calendar second.
// A zero last means "never" and always returns false.
func SameSecond(last, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	a, b := last.UTC(), now.UTC()
	for p := Year; p <= Second; p++ {
		if p.value(a) != p.value(b) {
			return false
		}
	}
	return true
}
