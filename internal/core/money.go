// Package core provides the expense domain types, the error taxonomy and
// the statistics aggregator.
//
// This file contains amount parsing. Amounts travel as decimal text and are
// parsed with shopspring/decimal so sums are exact.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a decimal amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional sign. NaN, infinities and exponent-free garbage are rejected.
// A comma followed by exactly three digits after a non-zero integer part
// reads as a thousands group as often as a decimal one, so it is rejected
// rather than guessed.
//
// Examples:
//
//	ParseAmount("42.50") -> 42.5, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("0,125") -> 0.125, nil
//	ParseAmount("1,234") -> 0, ErrInvalidAmount
//	ParseAmount("NaN")   -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// A single comma is a decimal separator; more than one is ambiguous.
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		if looksGrouped(s) {
			return decimal.Zero, ErrInvalidAmount
		}
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// looksGrouped reports whether s has the shape of a thousands group, such
// as 1,234 or -12,500.
func looksGrouped(s string) bool {
	whole, frac, _ := strings.Cut(strings.TrimLeft(s, "+-"), ",")
	if len(frac) != 3 || whole == "" || strings.Trim(whole, "0") == "" {
		return false
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatAmount renders an amount with two decimals for display.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// MustParseAmount is ParseAmount for constants; it panics on bad input.
func MustParseAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic("core: invalid amount " + s)
	}
	return d
}
