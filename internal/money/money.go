// Package money provides the fixed-scale decimal helpers every monetary
// computation in the service goes through.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// InternalScale is the minimum number of fractional digits carried by
	// intermediate results and by stored quantities.
	InternalScale int32 = 4
	// PersistScale is the number of fractional digits monetary amounts are
	// rounded to once they become part of a line or document snapshot.
	PersistScale int32 = 2
)

var (
	// ErrOverflow is returned when a value cannot be represented by the
	// numeric(18,4) storage columns. It is fatal for the computation.
	ErrOverflow = errors.New("money: amount exceeds storable range")
	// ErrPercentOutOfRange is returned when a percentage lies outside [0, 100].
	ErrPercentOutOfRange = errors.New("money: percent must be between 0 and 100")
	// ErrTooPrecise is returned for values with more fractional digits than
	// the storage columns keep.
	ErrTooPrecise = errors.New("money: too many fractional digits")

	hundred = decimal.NewFromInt(100)
	limit   = decimal.New(1, 14)
)

// Zero is the additive identity.
var Zero = decimal.Zero

// Add returns a + b.
func Add(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b)
}

// Sub returns a - b.
func Sub(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b)
}

// Sum adds all values together.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MulPercent returns value * percent / 100 without rounding.
func MulPercent(value, percent decimal.Decimal) decimal.Decimal {
	return value.Mul(percent).Shift(-2)
}

// RoundHalfUp rounds value to scale fractional digits, ties away from zero.
func RoundHalfUp(value decimal.Decimal, scale int32) decimal.Decimal {
	return value.Round(scale)
}

// Round2 rounds value to the persisted monetary scale.
func Round2(value decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(value, PersistScale)
}

// ValidatePercent reports whether p lies inside [0, 100] and carries no more
// than InternalScale fractional digits.
func ValidatePercent(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return fmt.Errorf("%w: got %s", ErrPercentOutOfRange, p.String())
	}
	return CheckScale(InternalScale, p)
}

// CheckScale fails with ErrTooPrecise when a value would be rounded by a
// column holding scale fractional digits.
func CheckScale(scale int32, values ...decimal.Decimal) error {
	for _, v := range values {
		if !v.Equal(v.Truncate(scale)) {
			return fmt.Errorf("%w: %s has more than %d decimals", ErrTooPrecise, v.String(), scale)
		}
	}
	return nil
}

// CheckBounds fails with ErrOverflow for any value whose magnitude does not
// fit the storage columns.
func CheckBounds(values ...decimal.Decimal) error {
	for _, v := range values {
		if v.Abs().GreaterThanOrEqual(limit) {
			return fmt.Errorf("%w: %s", ErrOverflow, v.String())
		}
	}
	return nil
}

// Parse reads a decimal from its canonical string form.
func Parse(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Zero, errors.New("money: empty amount")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders value with exactly PersistScale fractional digits.
func Format(value decimal.Decimal) string {
	return value.StringFixed(PersistScale)
}
