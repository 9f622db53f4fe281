package domain

import "github.com/shopspring/decimal"

// SafeParse parses a string into a decimal, returning zero for invalid or empty input.
func SafeParse(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FromNative converts a native integer amount into token units.
func FromNative(amount uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(amount).Shift(-decimals)
}

// SafeDiv divides a by b. It returns false instead of dividing by zero.
func SafeDiv(a, b decimal.Decimal) (decimal.Decimal, bool) {
	if b.IsZero() {
		return decimal.Zero, false
	}
	return a.Div(b), true
}

// ClampNonNegative returns zero for negative values.
func ClampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
