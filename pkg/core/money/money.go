// Package money provides fixed-point arithmetic helpers and financial-year
// handling for the ledger. All monetary amounts are kept at 2 fractional
// digits and all unit quantities at 4, with banker's rounding at boundaries.
package money

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Comparison tolerances. Amounts compare equal within 0.01, unit quantities
// within 0.0001.
var (
	AmountTolerance = decimal.New(1, -2)
	UnitTolerance   = decimal.New(1, -4)
)

// RoundAmount rounds a monetary amount to 2 fractional digits, half-to-even.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// RoundUnits rounds a unit quantity to 4 fractional digits, half-to-even.
func RoundUnits(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(4)
}

// EqualAmount reports whether two monetary amounts are equal within 0.01.
func EqualAmount(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(AmountTolerance) <= 0
}

// EqualUnits reports whether two unit quantities are equal within 0.0001.
func EqualUnits(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(UnitTolerance) <= 0
}

// FromRupees builds a Decimal from a float amount, rounded to 2 digits.
// Intended for literals and test fixtures, not for parsing statements.
func FromRupees(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).RoundBank(2)
}

// ParseAmount parses a statement cell into a monetary amount. It tolerates
// Indian-style digit grouping ("1,23,456.78"), currency markers, parenthesised
// negatives and stray whitespace.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" || cleaned == "-" || cleaned == "--" {
		return decimal.Zero, nil
	}
	neg := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		neg = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	cleaned = strings.NewReplacer(",", "", "₹", "", "Rs.", "", "Rs", "", "INR", "", " ", "").Replace(cleaned)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cannot parse amount %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// ParseUnits parses a statement cell into a unit quantity (4 digits).
func ParseUnits(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.RoundBank(4), nil
}

// FY identifies an Indian financial year: April 1 of StartYear through
// March 31 of StartYear+1.
type FY struct {
	StartYear int
}

// FYOf derives the financial year a date falls in. Never stored redundantly;
// always recomputed from the transaction date.
func FYOf(t time.Time) FY {
	if t.Month() >= time.April {
		return FY{StartYear: t.Year()}
	}
	return FY{StartYear: t.Year() - 1}
}

// ParseFY parses the "YYYY-YY" rendering, e.g. "2024-25".
func ParseFY(s string) (FY, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return FY{}, fmt.Errorf("invalid financial year %q", s)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return FY{}, fmt.Errorf("invalid financial year %q: %w", s, err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return FY{}, fmt.Errorf("invalid financial year %q: %w", s, err)
	}
	if (start+1)%100 != end {
		return FY{}, fmt.Errorf("financial year %q: end does not follow start", s)
	}
	return FY{StartYear: start}, nil
}

// String renders the FY as "YYYY-YY".
func (fy FY) String() string {
	return fmt.Sprintf("%04d-%02d", fy.StartYear, (fy.StartYear+1)%100)
}

// Start returns April 1 of the start year (UTC midnight).
func (fy FY) Start() time.Time {
	return time.Date(fy.StartYear, time.April, 1, 0, 0, 0, 0, time.UTC)
}

// End returns March 31 of the following year (UTC midnight).
func (fy FY) End() time.Time {
	return time.Date(fy.StartYear+1, time.March, 31, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether t falls inside the financial year.
func (fy FY) Contains(t time.Time) bool {
	return FYOf(t) == fy
}

// Next returns the following financial year (the assessment year's FY).
func (fy FY) Next() FY {
	return FY{StartYear: fy.StartYear + 1}
}
