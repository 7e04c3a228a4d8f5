package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// currencyMarkers are symbols and codes commonly embedded in monetary
// strings exported by brokers and spreadsheet ledgers.
var currencyMarkers = []string{
	"$", "€", "£", "¥", "￥", "USD", "EUR", "GBP", "CNY", "RMB", "HKD", "元",
}

// ParseAmount coerces a monetary or quantity string to a decimal using the
// engine's tolerant rules: currency symbols and thousands separators are
// stripped, parenthesized values are negative, and blank or "-" values are
// zero. The second return is false when the value could not be parsed.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || s == "--" {
		return decimal.Zero, true
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	upper := strings.ToUpper(s)
	for _, marker := range currencyMarkers {
		upper = strings.ReplaceAll(upper, strings.ToUpper(marker), "")
	}
	upper = strings.ReplaceAll(upper, ",", "")
	upper = strings.ReplaceAll(upper, "%", "")
	upper = strings.TrimSpace(upper)

	if upper == "" || upper == "-" {
		return decimal.Zero, true
	}

	d, err := decimal.NewFromString(upper)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// dateFormats are the layouts accepted for source dates, most common first.
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"20060102",
	"01/02/2006",
	"02-01-2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate attempts to parse a date from the accepted layouts. The result
// is truncated to the date (UTC midnight).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	var lastErr error
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return Midnight(t), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date %q: %w", s, lastErr)
}

// Midnight truncates a timestamp to its UTC date.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthEnd normalizes a date to the last day of its month. Snapshot-type
// datasets use it to align vendor report dates on a period boundary.
func MonthEnd(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// NormalizeAssetID produces a deterministic identifier from a free-form
// asset name: upper-cased, with runs of non-alphanumeric characters
// collapsed to single underscores.
func NormalizeAssetID(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToUpper(strings.TrimSpace(name)) {
		alnum := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		switch {
		case alnum:
			b.WriteRune(r)
			lastUnderscore = false
		case r > 127:
			// Non-ASCII names (e.g. CJK fund names) keep their runes so
			// distinct assets stay distinct.
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
