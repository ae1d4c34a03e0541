package ingestion

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount reads a money cell such as "1 200,50", "1,200.50" or "300".
// Whitespace (including no-break spaces) is a thousands separator. A lone
// comma is a decimal separator; with both present the comma is dropped.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '\'' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, false
	}

	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ",") > 1:
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// sumAmounts totals the amount column; unreadable cells count as zero.
func sumAmounts(rows [][]string, idx int) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		if d, ok := ParseAmount(cell(row, idx)); ok {
			total = total.Add(d)
		}
	}
	return total
}
