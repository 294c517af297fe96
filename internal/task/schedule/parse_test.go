package schedule

import (
	"errors"
	"strings"
	"testing"
)

func TestParseNormalizesSeconds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "* * * * *", want: "* * * * * 0"},
		{raw: "* 1 * * *", want: "* 1 * * * 0"},
		{raw: "* 1 * * * 1", want: "* 1 * * * 1"},
		{raw: "  2024 *   *\t9 0 ", want: "2024 * * 9 0 0"},
		{raw: "* * * * */5", want: "* * * * */5 0"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			s, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got := s.String(); got != tt.want {
				t.Fatalf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseStoredFields(t *testing.T) {
	t.Parallel()
	s := MustParse("* 1 * * *")
	want := []Field{Wildcard(), Exact(0), Wildcard(), Wildcard(), Wildcard(), Exact(0)}
	for p := Year; p <= Second; p++ {
		got := s.Field(p)
		if got.Kind != want[p].Kind || got.Value != want[p].Value {
			t.Fatalf("%s = %+v, want %+v", p, got, want[p])
		}
	}

	s = MustParse("* 1,6,12 * * * 1")
	m := s.Field(Month)
	if m.Kind != KindAnyOf || len(m.Values) != 3 || m.Values[0] != 0 || m.Values[1] != 5 || m.Values[2] != 11 {
		t.Fatalf("month list = %+v, want any-of [0 5 11]", m)
	}
	if sec := s.Field(Second); sec.Kind != KindExact || sec.Value != 1 {
		t.Fatalf("second = %+v, want Exact(1)", sec)
	}

	// Step divisors on the month field are kept as written.
	if m := MustParse("* */4 * * *").Field(Month); m.Kind != KindStep || m.Value != 4 {
		t.Fatalf("month step = %+v, want Step(4)", m)
	}
}

func TestParseAcceptsFieldShapes(t *testing.T) {
	t.Parallel()
	for _, el := range []string{"*", "1", "*/1", "0", "1,2,3", "007"} {
		expr := el + " * * * *"
		if _, err := Parse(expr); err != nil {
			t.Fatalf("Parse(%q) unexpected error: %v", expr, err)
		}
	}
}

func TestParseRejectsMalformedFields(t *testing.T) {
	t.Parallel()
	for _, el := range []string{"**", "2*", "*/*", "*/", "*/0", "-1", "1,", ",1", "1,,2", "a", "*/-2", "1-5", "+3", "*/5,6"} {
		expr := "* * " + el + " * *"
		_, err := Parse(expr)
		if err == nil {
			t.Fatalf("Parse(%q) expected error", expr)
		}
		if !errors.Is(err, ErrParse) {
			t.Fatalf("Parse(%q) error %v is not ErrParse", expr, err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse(%q) error %T is not *ParseError", expr, err)
		}
		if pe.Field != int(Day) || pe.Value != el {
			t.Fatalf("Parse(%q) blamed field %d %q, want %d %q", expr, pe.Field, pe.Value, Day, el)
		}
		if !strings.Contains(err.Error(), "day") {
			t.Fatalf("error %q does not name the day field", err)
		}
	}
}

func TestParseRejectsWrongFieldCount(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"", "   ", "*", "* * * *", "* * * * * * *", "1 2 3 4 5 6 7 8"} {
		_, err := Parse(expr)
		if !errors.Is(err, ErrParse) {
			t.Fatalf("Parse(%q) err = %v, want ErrParse", expr, err)
		}
		var pe *ParseError
		if errors.As(err, &pe) && pe.Field != -1 {
			t.Fatalf("Parse(%q) Field = %d, want -1", expr, pe.Field)
		}
	}
}

func TestMustParsePanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("MustParse did not panic on invalid input")
		}
	}()
	_ = MustParse("* * * *")
}

func TestDefaultExprParses(t *testing.T) {
	t.Parallel()
	s := MustParse(DefaultExpr)
	if s.String() != DefaultExpr {
		t.Fatalf("String() = %q, want %q", s.String(), DefaultExpr)
	}
}
