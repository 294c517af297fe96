package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultExpr fires once per minute, at second 0.
const DefaultExpr = "* * * * * 0"

const (
	minFields = 5
	maxFields = numFields
)

// ErrParse is the class of every schedule parse failure.
var ErrParse = errors.New("unable to parse schedule")

// ParseError describes a rejected schedule expression.
//
// Field is the zero-based index of the offending field, or -1 when the
// expression has the wrong number of fields.
type ParseError struct {
	Expr   string
	Field  int
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field < 0 {
		return fmt.Sprintf("%s %q: %s", ErrParse, e.Expr, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s field %q: %s", ErrParse, e.Expr, Position(e.Field), e.Value, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// Parse validates expr and returns the structured schedule.
//
// A 5-field expression gets a trailing "0" seconds field, which is also
// reflected in the normalized expression returned by Schedule.String.
func Parse(expr string) (Schedule, error) {
	toks := strings.Fields(expr)
	if len(toks) < minFields || len(toks) > maxFields {
		return Schedule{}, &ParseError{
			Expr:   expr,
			Field:  -1,
			Reason: fmt.Sprintf("expected %d or %d fields (year month day hour minute [second]), got %d", minFields, maxFields, len(toks)),
		}
	}
	if len(toks) < maxFields {
		toks = append(toks, "0")
	}

	var s Schedule
	for i, tok := range toks {
		f, reason := parseField(tok)
		if reason != "" {
			return Schedule{}, &ParseError{Expr: expr, Field: i, Value: tok, Reason: reason}
		}
		if Position(i) == Month {
			f = toZeroBasedMonth(f)
		}
		s.fields[i] = f
	}
	s.expr = strings.Join(toks, " ")
	return s, nil
}

// MustParse is like Parse but panics on error. Intended for static expressions.
func MustParse(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// parseField returns the parsed field, or a non-empty reason when tok is malformed.
func parseField(tok string) (Field, string) {
	switch {
	case tok == "*":
		return Wildcard(), ""
	case strings.HasPrefix(tok, "*/"):
		n, ok := parseUint(tok[2:])
		if !ok {
			return Field{}, "step divisor must be a positive integer"
		}
		if n == 0 {
			return Field{}, "step divisor must not be zero"
		}
		return Step(n), ""
	case strings.Contains(tok, ","):
		parts := strings.Split(tok, ",")
		vs := make([]int, 0, len(parts))
		for _, p := range parts {
			n, ok := parseUint(p)
			if !ok {
				return Field{}, "list elements must be non-negative integers"
			}
			vs = append(vs, n)
		}
		return Field{Kind: KindAnyOf, Values: vs}, ""
	default:
		n, ok := parseUint(tok)
		if !ok {
			return Field{}, "expected *, an integer, */N or a comma-separated list"
		}
		return Exact(n), ""
	}
}

// parseUint accepts only plain ASCII digits (no sign, no spaces).
func parseUint(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func toZeroBasedMonth(f Field) Field {
	switch f.Kind {
	case KindExact:
		f.Value--
	case KindAnyOf:
		for i := range f.Values {
			f.Values[i]--
		}
	}
	return f
}

func toOneBasedMonth(f Field) Field {
	switch f.Kind {
	case KindExact:
		f.Value++
	case KindAnyOf:
		vs := make([]int, len(f.Values))
		for i, v := range f.Values {
			vs[i] = v + 1
		}
		f.Values = vs
	}
	return f
}
