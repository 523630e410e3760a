package shared

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// MoneyScale is the number of decimal places stored for currency amounts.
const MoneyScale = 2

// DefaultTolerance is the zero-sum tolerance applied before posting allocation batches.
var DefaultTolerance = decimal.New(1, -MoneyScale)

// RoundMoney rounds half away from zero to MoneyScale places.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyScale)
}

// WithinTolerance reports whether |diff| <= tolerance.
func WithinTolerance(diff, tolerance decimal.Decimal) bool {
	if tolerance.IsNegative() {
		tolerance = tolerance.Abs()
	}
	return diff.Abs().LessThanOrEqual(tolerance)
}

// ParseMoney parses a user supplied amount and rejects more than MoneyScale decimals.
func ParseMoney(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if !v.Equal(RoundMoney(v)) {
		return decimal.Zero, fmt.Errorf("amount %s has more than %d decimals", raw, MoneyScale)
	}
	return v, nil
}

// FormatMoney renders v at MoneyScale with the printer's grouping and decimal
// separator. The whole part is formatted as an integer so large totals stay exact.
func FormatMoney(p *message.Printer, v decimal.Decimal) string {
	r := RoundMoney(v)
	sign := ""
	if r.IsNegative() {
		sign = "-"
		r = r.Abs()
	}
	whole := r.Truncate(0)
	cents := r.Sub(whole).StringFixed(MoneyScale)
	return sign + p.Sprint(number.Decimal(whole.IntPart())) + decimalSeparator(p) + cents[strings.IndexByte(cents, '.')+1:]
}

func decimalSeparator(p *message.Printer) string {
	return strings.Trim(p.Sprint(number.Decimal(1.5, number.Scale(1))), "15")
}
