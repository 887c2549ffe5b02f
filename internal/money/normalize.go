// Package money turns loosely formatted currency text into exact decimal amounts.
package money

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountFormatError is returned when cleaned currency text is not a decimal literal
type AmountFormatError struct {
	Raw     string
	Cleaned string
}

func (e *AmountFormatError) Error() string {
	return fmt.Sprintf("invalid amount %q (cleaned %q)", e.Raw, e.Cleaned)
}

// clean keeps ASCII digits and decimal points only
func clean(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeAmount converts text like "$1,234.56" into an exact decimal.
// Text with no digits at all normalizes to zero.
func NormalizeAmount(raw string) (decimal.Decimal, error) {
	cleaned := clean(raw)
	if cleaned == "" {
		return decimal.Zero, nil
	}
	if strings.Count(cleaned, ".") > 1 || cleaned == "." {
		return decimal.Zero, &AmountFormatError{Raw: raw, Cleaned: cleaned}
	}

	literal := cleaned
	if strings.HasPrefix(literal, ".") {
		literal = "0" + literal
	}
	literal = strings.TrimSuffix(literal, ".")

	d, err := decimal.NewFromString(literal)
	if err != nil {
		return decimal.Zero, &AmountFormatError{Raw: raw, Cleaned: cleaned}
	}
	return d, nil
}

// NormalizeOrZero is NormalizeAmount with format errors recovered to zero
func NormalizeOrZero(raw string) decimal.Decimal {
	d, err := NormalizeAmount(raw)
	if err != nil {
		slog.Warn("Unparseable amount, using zero", "raw", raw, "error", err)
		return decimal.Zero
	}
	return d
}
