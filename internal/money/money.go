// Package money holds the fixed-point helpers shared by postings and interest math.
// Amounts are shopspring decimals rounded to two places at every persistence boundary.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Scale is the number of fractional digits kept on stored amounts.
	Scale int32 = 2
)

var (
	hundred     = decimal.NewFromInt(100)
	monthsInYr  = decimal.NewFromInt(12)
	daysInYear  = decimal.NewFromInt(365)
	maxRateSane = decimal.NewFromInt(100)
)

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// ParseAmount parses a decimal amount string and rejects more than two fractional digits.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.Equal(Round2(d)) {
		return decimal.Zero, fmt.Errorf("amount %q has more than %d decimal places", s, Scale)
	}
	return d, nil
}

// ParsePercent parses an annual rate written either as "12", "12.5" or "12%".
// The result is the percentage value itself (12 for 12%), never a fraction.
func ParsePercent(s string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty rate")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", s, err)
	}
	if d.IsNegative() || d.GreaterThan(maxRateSane) {
		return decimal.Zero, fmt.Errorf("rate %q out of range [0, 100]", s)
	}
	return d, nil
}

// MustPercent is ParsePercent for literals known to be valid.
func MustPercent(s string) decimal.Decimal {
	d, err := ParsePercent(s)
	if err != nil {
		panic(err)
	}
	return d
}

// MonthlyInterest returns principal * annualPercent/100/12 * periods, unrounded.
func MonthlyInterest(principal, annualPercent decimal.Decimal, periods int64) decimal.Decimal {
	return principal.Mul(annualPercent).Mul(decimal.NewFromInt(periods)).Div(hundred.Mul(monthsInYr))
}

// DailyInterest returns principal * annualPercent/100/365 * days, unrounded.
func DailyInterest(principal, annualPercent decimal.Decimal, days int64) decimal.Decimal {
	return principal.Mul(annualPercent).Mul(decimal.NewFromInt(days)).Div(hundred.Mul(daysInYear))
}

// Format renders an amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
