// Package money holds currency codes and the conversions between decimal
// amounts and the integer minor units some providers expect.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// exponents lists the supported ISO 4217 codes and their minor-unit digits.
var exponents = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CNY": 2,
	"HKD": 2,
	"SGD": 2,
	"AUD": 2,
	"CAD": 2,
	"CHF": 2,
	"JPY": 0,
	"KRW": 0,
}

// Normalize upper-cases and trims a currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func IsSupported(code string) bool {
	_, ok := exponents[Normalize(code)]
	return ok
}

func Exponent(code string) (int32, error) {
	e, ok := exponents[Normalize(code)]
	if !ok {
		return 0, fmt.Errorf("unsupported currency %q", code)
	}
	return e, nil
}

// ToMinor converts amount to integer minor units. Amounts with more precision
// than the currency allows are rejected rather than rounded.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return 0, err
	}
	scaled := amount.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places for %s", amount, exp, Normalize(currency))
	}
	return scaled.IntPart(), nil
}

func FromMinor(minor int64, currency string) (decimal.Decimal, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(minor, -exp), nil
}

// Format renders amount with the currency's fixed number of decimals, the
// shape wallet providers expect ("9.99", "1000").
func Format(amount decimal.Decimal, currency string) (string, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return "", err
	}
	return amount.StringFixed(exp), nil
}

func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}
