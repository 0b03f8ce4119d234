package money

import (
	"errors"
	"testing"
)

func TestParseAmountMinorUnits(t *testing.T) {
	cases := []struct {
		value    string
		currency string
		want     int64
	}{
		{"500", "LYD", 500_000},
		{"0.001", "LYD", 1},
		{"10.50", "USD", 1_050},
		{"1", "EUR", 100},
		{"12.345", "lyd", 12_345},
	}

	for _, tc := range cases {
		got, err := ParseAmount(tc.value, tc.currency)
		if err != nil {
			t.Fatalf("ParseAmount(%q, %q): %v", tc.value, tc.currency, err)
		}
		if got != tc.want {
			t.Fatalf("ParseAmount(%q, %q) = %d, want %d", tc.value, tc.currency, got, tc.want)
		}
	}
}

func TestParseAmountRejectsInvalid(t *testing.T) {
	cases := []struct {
		value    string
		currency string
	}{
		{"0", "LYD"},
		{"-5", "LYD"},
		{"abc", "LYD"},
		{"", "LYD"},
		{"1.234", "USD"},  // too many fractional digits
		{"0.0001", "LYD"}, // beyond LYD exponent
	}

	for _, tc := range cases {
		if _, err := ParseAmount(tc.value, tc.currency); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("ParseAmount(%q, %q): expected ErrInvalidAmount, got %v", tc.value, tc.currency, err)
		}
	}
}

func TestParseAmountRejectsUnknownCurrency(t *testing.T) {
	if _, err := ParseAmount("10", "XTS"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestFormatMinor(t *testing.T) {
	if got := FormatMinor(500_000, "LYD"); got != "500.000" {
		t.Fatalf("FormatMinor LYD = %q", got)
	}
	if got := FormatMinor(1_050, "USD"); got != "10.50" {
		t.Fatalf("FormatMinor USD = %q", got)
	}
}
