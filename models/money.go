package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Money is a currency amount in millimes (thousandths of the major unit).
// All arithmetic and comparisons use the integer millime value, so checks
// like "fully paid" are exact rather than epsilon-tolerant.
type Money int64

// millimes per major unit (3 decimal places).
const moneyScale = 1000

// FromUnits builds a Money from whole major units.
func FromUnits(units int64) Money { return Money(units * moneyScale) }

// String formats the amount with three decimal places, e.g. "1000.000".
func (m Money) String() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%03d", sign, v/moneyScale, v%moneyScale)
}

// ParseMoney parses a decimal string like "1000.5" or "1000.000" into
// millimes. At most three fractional digits are accepted.
func ParseMoney(s string) (Money, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	neg := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")
	if whole == "" {
		whole = "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	if len(frac) > 3 {
		return 0, fmt.Errorf("invalid amount %q: more than 3 decimal places", s)
	}
	// The fraction must be bare digits; ParseInt alone would let a stray
	// sign through ("1.-5").
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
	}
	for len(frac) < 3 {
		frac += "0"
	}
	millimes, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	v := units*moneyScale + millimes
	if neg {
		v = -v
	}
	return Money(v), nil
}
