package amount

import "testing"

func TestParseAndString(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"100", "100.00000000"},
		{"100.5", "100.50000000"},
		{"-0.5", "-0.50000000"},
		{"0", "0.00000000"},
		{"+3.14159265", "3.14159265"},
	}
	for _, c := range cases {
		a, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", c.in, err)
		}
		if got := a.String(); got != c.want {
			t.Errorf("Parse(%q).String() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{"", "abc", "1.123456789", "1.2.3", "-", "."}
	for _, s := range bad {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", s)
		}
	}
}

func TestMulTruncatesTowardZero(t *testing.T) {
	price := MustParse("100.00000000")
	qty := MustParse("10.00000000")
	got := price.Mul(qty)
	if got.String() != "1000.00000000" {
		t.Errorf("got %s", got)
	}

	a := MustParse("0.00000003")
	b := MustParse("0.00000003")
	got = a.Mul(b)
	if !got.IsZero() {
		t.Errorf("expected truncation to zero, got %s", got)
	}

	negA := MustParse("-0.00000003")
	gotNeg := negA.Mul(b)
	if !gotNeg.IsZero() {
		t.Errorf("expected truncation toward zero for negative operand, got %s", gotNeg)
	}
}

func TestMulBps(t *testing.T) {
	value := MustParse("100.00000000")
	fee := value.MulBps(10)
	if fee.String() != "0.10000000" {
		t.Errorf("got %s", fee)
	}

	odd := MustParse("0.00000009")
	half := odd.MulBps(5000)
	if half.String() != "0.00000004" {
		t.Errorf("expected truncation, got %s", half)
	}
}

func TestDiv(t *testing.T) {
	a := MustParse("10.00000000")
	b := MustParse("4.00000000")
	got := a.Div(b)
	if got.String() != "2.50000000" {
		t.Errorf("got %s", got)
	}
}

func TestCompareMinMax(t *testing.T) {
	a := MustParse("1.0")
	b := MustParse("2.0")
	if !a.LessThan(b) || b.LessThan(a) {
		t.Fatal("ordering broken")
	}
	if Min(a, b) != a || Max(a, b) != b {
		t.Fatal("min/max broken")
	}
}

func TestAddSubNeg(t *testing.T) {
	a := MustParse("5.5")
	b := MustParse("2.25")
	if got := a.Add(b).String(); got != "7.75000000" {
		t.Errorf("add: got %s", got)
	}
	if got := a.Sub(b).String(); got != "3.25000000" {
		t.Errorf("sub: got %s", got)
	}
	if got := a.Neg().String(); got != "-5.50000000" {
		t.Errorf("neg: got %s", got)
	}
}
