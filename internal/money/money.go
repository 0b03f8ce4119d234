package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnsupportedCurrency occurs when a currency code has no registered exponent.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrInvalidAmount occurs when an amount string cannot be parsed, is not
	// strictly positive, or carries more fractional digits than the currency allows.
	ErrInvalidAmount = errors.New("invalid amount")
)

// exponents maps a currency code to its number of fractional digits.
// LYD subdivides into 1000 dirhams.
var exponents = map[string]int32{
	"LYD": 3,
	"USD": 2,
	"EUR": 2,
}

// Supported reports whether the currency code has a registered exponent.
func Supported(currency string) bool {
	_, ok := exponents[strings.ToUpper(currency)]
	return ok
}

// Exponent returns the number of fractional digits for the currency.
func Exponent(currency string) (int32, error) {
	exp, ok := exponents[strings.ToUpper(currency)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	return exp, nil
}

// ParseAmount converts a decimal string such as "10.500" into integer minor
// units for the currency. It rejects non-positive values and values with more
// fractional digits than the currency supports.
func ParseAmount(value, currency string) (int64, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return 0, err
	}

	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if -d.Exponent() > exp {
		return 0, fmt.Errorf("%w: %s supports at most %d fractional digits", ErrInvalidAmount, strings.ToUpper(currency), exp)
	}

	minor := d.Shift(exp)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount out of range", ErrInvalidAmount)
	}
	return minor.IntPart(), nil
}

// FormatMinor renders integer minor units as a decimal string for the currency.
func FormatMinor(minor int64, currency string) string {
	exp, err := Exponent(currency)
	if err != nil {
		return decimal.NewFromInt(minor).String()
	}
	return decimal.New(minor, -exp).StringFixed(exp)
}
