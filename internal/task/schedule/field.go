package schedule

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind tags the shape of a schedule field.
type Kind int

const (
	KindWildcard Kind = iota
	KindExact
	KindAnyOf
	KindStep
)

func (k Kind) String() string {
	switch k {
	case KindWildcard:
		return "wildcard"
	case KindExact:
		return "exact"
	case KindAnyOf:
		return "any-of"
	case KindStep:
		return "step"
	default:
		return "unknown"
	}
}

// Position identifies one of the six calendar fields, ordered coarse to fine.
type Position int

const (
	Year Position = iota
	Month
	Day
	Hour
	Minute
	Second

	numFields = 6
)

var positionNames = [numFields]string{"year", "month", "day", "hour", "minute", "second"}

func (p Position) String() string {
	if p < 0 || int(p) >= numFields {
		return "position(" + strconv.Itoa(int(p)) + ")"
	}
	return positionNames[p]
}

// value extracts the calendar component for p from t.
// Months are zero-based to match how month literals are stored.
func (p Position) value(t time.Time) int {
	switch p {
	case Year:
		return t.Year()
	case Month:
		return int(t.Month()) - 1
	case Day:
		return t.Day()
	case Hour:
		return t.Hour()
	case Minute:
		return t.Minute()
	default:
		return t.Second()
	}
}

// Field is one parsed schedule field.
//
// Value holds the exact value (KindExact) or the step divisor (KindStep).
// Values holds the set for KindAnyOf. Month values are stored zero-based.
type Field struct {
	Kind   Kind
	Value  int
	Values []int
}

func Wildcard() Field        { return Field{Kind: KindWildcard} }
func Exact(v int) Field      { return Field{Kind: KindExact, Value: v} }
func Step(divisor int) Field { return Field{Kind: KindStep, Value: divisor} }
func AnyOf(vs ...int) Field  { return Field{Kind: KindAnyOf, Values: slices.Clone(vs)} }

// matches reports whether the observed value v satisfies f at position p.
func (f Field) matches(p Position, v int) bool {
	switch f.Kind {
	case KindWildcard:
		return true
	case KindExact:
		return v == f.Value
	case KindAnyOf:
		return slices.Contains(f.Values, v)
	case KindStep:
		if f.Value <= 0 {
			return false
		}
		if p == Month {
			v++
		}
		return v%f.Value == 0
	default:
		return false
	}
}

// String renders the field in its stored (internal) form.
func (f Field) String() string {
	switch f.Kind {
	case KindWildcard:
		return "*"
	case KindExact:
		return strconv.Itoa(f.Value)
	case KindStep:
		return "*/" + strconv.Itoa(f.Value)
	case KindAnyOf:
		parts := make([]string, len(f.Values))
		for i, v := range f.Values {
			parts[i] = strconv.Itoa(v)
		}
		return strings.Join(parts, ",")
	default:
		return "?"
	}
}
