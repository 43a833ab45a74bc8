package analytics

import (
	"fmt"
	"strconv"
)

// FormatCurrency renders a won amount in compact Korean units:
// 1.5억원, 5천만원, 300만원, 9,999원.
func FormatCurrency(v int64) string {
	switch {
	case v >= 100_000_000:
		return fmt.Sprintf("%.1f억원", float64(v)/100_000_000)
	case v >= 10_000_000:
		return fmt.Sprintf("%.0f천만원", float64(v)/10_000_000)
	case v >= 10_000:
		return fmt.Sprintf("%.0f만원", float64(v)/10_000)
	default:
		return FormatWon(v)
	}
}

// FormatWon renders a won amount with digit grouping: 50,000,000원.
func FormatWon(v int64) string {
	s := strconv.FormatInt(v, 10)
	neg := ""
	if v < 0 {
		neg, s = "-", s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return neg + s + "원"
}
