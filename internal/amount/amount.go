// Package amount implements the fixed-point money/quantity type shared by
// every other package in the simulator.
//
// Design Decisions:
//
// 1. Scale: values are stored as a *big.Int counting units of 10^-8, so an
//    Amount of "1.00000000" is the integer 100000000. This matches the
//    8-fractional-digit contract every decimal string in this system uses.
//
// 2. Unbounded range: prices, quantities, cash and fee balances are backed
//    by math/big rather than int64 so that accumulated decay, fees and
//    trades over a long-running simulation can never silently overflow.
//
// 3. Truncation toward zero: multiply, divide and basis-point multiply all
//    truncate toward zero rather than round, matching the settlement rules
//    a real exchange documents precisely so replays never disagree on a
//    fraction of a cent.
package amount

import (
	"fmt"
	"math/big"
	"strings"
)

// Scale is 10^8, the number of units per whole token.
var scale = big.NewInt(100000000)

// bpsDivisor is the basis-point divisor, 10000.
var bpsDivisor = big.NewInt(10000)

// Amount is a signed fixed-point number with 8 fractional digits.
type Amount struct {
	v *big.Int
}

// InvalidAmount is returned when parsing a malformed decimal string.
type InvalidAmount struct {
	Input  string
	Reason string
}

func (e *InvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Input, e.Reason)
}

// Zero is the additive identity.
func Zero() Amount {
	return Amount{v: big.NewInt(0)}
}

// FromInt64 builds an Amount representing an integer count of whole units
// (e.g. FromInt64(5) is "5.00000000"). Useful for tests and constants.
func FromInt64(whole int64) Amount {
	return Amount{v: new(big.Int).Mul(big.NewInt(whole), scale)}
}

// Parse converts a decimal string ("123.45", "-0.5", "10") into an Amount.
// It rejects malformed input and strings with more than 8 fractional digits.
func Parse(s string) (Amount, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Amount{}, &InvalidAmount{Input: s, Reason: "empty"}
	}

	neg := false
	rest := trimmed
	switch rest[0] {
	case '-':
		neg = true
		rest = rest[1:]
	case '+':
		rest = rest[1:]
	}
	if rest == "" {
		return Amount{}, &InvalidAmount{Input: s, Reason: "no digits"}
	}

	intPart := rest
	fracPart := ""
	if idx := strings.IndexByte(rest, '.'); idx >= 0 {
		intPart = rest[:idx]
		fracPart = rest[idx+1:]
		if strings.IndexByte(fracPart, '.') >= 0 {
			return Amount{}, &InvalidAmount{Input: s, Reason: "multiple decimal points"}
		}
	}
	if intPart == "" && fracPart == "" {
		return Amount{}, &InvalidAmount{Input: s, Reason: "no digits"}
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 8 {
		return Amount{}, &InvalidAmount{Input: s, Reason: "more than 8 fractional digits"}
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return Amount{}, &InvalidAmount{Input: s, Reason: "non-numeric"}
	}

	fracPadded := fracPart + strings.Repeat("0", 8-len(fracPart))

	combined := intPart + fracPadded
	v, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return Amount{}, &InvalidAmount{Input: s, Reason: "non-numeric"}
	}
	if neg {
		v.Neg(v)
	}
	return Amount{v: v}, nil
}

// MustParse panics on malformed input; intended for tests and constants.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String formats the amount as a fixed 8-decimal string, e.g. "100.00000000".
func (a Amount) String() string {
	if a.v == nil {
		return Zero().String()
	}
	neg := a.v.Sign() < 0
	abs := new(big.Int).Abs(a.v)
	digits := abs.String()
	for len(digits) <= 8 {
		digits = "0" + digits
	}
	intPart := digits[:len(digits)-8]
	fracPart := digits[len(digits)-8:]
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%s", sign, intPart, fracPart)
}

// Raw returns the underlying 10^-8-scaled integer, for canonical encoding.
func (a Amount) Raw() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.v)
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.raw(), b.raw())}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{v: new(big.Int).Sub(a.raw(), b.raw())}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{v: new(big.Int).Neg(a.raw())}
}

// Mul returns a * b under price*quantity semantics: (a.raw * b.raw) / scale,
// truncated toward zero.
func (a Amount) Mul(b Amount) Amount {
	product := new(big.Int).Mul(a.raw(), b.raw())
	return Amount{v: truncDiv(product, scale)}
}

// Div returns a / b as (a.raw * scale) / b.raw, truncated toward zero.
// Division by zero panics: callers must never divide by a zero Amount,
// since the spec defines no behavior for it.
func (a Amount) Div(b Amount) Amount {
	if b.raw().Sign() == 0 {
		panic("amount: division by zero")
	}
	numerator := new(big.Int).Mul(a.raw(), scale)
	return Amount{v: truncDiv(numerator, b.raw())}
}

// MulBps returns a * bps / 10000, truncated toward zero. bps may be negative.
func (a Amount) MulBps(bps int64) Amount {
	product := new(big.Int).Mul(a.raw(), big.NewInt(bps))
	return Amount{v: truncDiv(product, bpsDivisor)}
}

// truncDiv performs integer division truncating toward zero, which is the
// behavior of big.Int.Quo (as opposed to Div, which floors).
func truncDiv(a, b *big.Int) *big.Int {
	return new(big.Int).Quo(a, b)
}

// Cmp compares a to b: -1, 0, 1.
func (a Amount) Cmp(b Amount) int {
	return a.raw().Cmp(b.raw())
}

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.Cmp(b) < 0 }

// GreaterThan reports whether a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.Cmp(b) > 0 }

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	return Amount{v: new(big.Int).Abs(a.raw())}
}

// Min returns the lesser of a and b.
func Min(a, b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the greater of a and b.
func Max(a, b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sign returns -1, 0 or 1.
func (a Amount) Sign() int {
	return a.raw().Sign()
}

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool { return a.Sign() > 0 }

// IsNegative reports whether a < 0.
func (a Amount) IsNegative() bool { return a.Sign() < 0 }

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool { return a.Sign() == 0 }

func (a Amount) raw() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}
