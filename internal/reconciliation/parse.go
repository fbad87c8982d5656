package reconciliation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// AmountLocale selects the decimal separator convention of a bank export.
type AmountLocale string

const (
	// LocaleAuto reads the convention off the value itself. A lone separator
	// followed by exactly three digits, as in 1,234 or 1.234, is
	// ErrAmbiguousAmount.
	LocaleAuto  AmountLocale = "auto"
	LocaleDot   AmountLocale = "dot"   // 1,234.56
	LocaleComma AmountLocale = "comma" // 1.234,56
)

var (
	plainDecimal     = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	currencyMarkers  = []string{"JPY", "EUR", "USD", "GBP", "¥", "$", "€", "£", "円", " "}
	unambiguousDates = []string{
		"2006-1-2",
		"2006/1/2",
		"2006.1.2",
		"20060102",
		"2006年1月2日",
		"2.1.2006", // German day-first dotted form
		"2.1.06",
	}
)

// ParseAmount parses a locale-formatted currency amount into an exact decimal.
// Full-width digits are folded, currency markers dropped, and a leading minus,
// trailing minus, leading ▲ or surrounding parentheses mean negative.
func ParseAmount(raw string, locale AmountLocale) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(norm.NFKC.String(raw))
	if cleaned == "" {
		return decimal.Zero, ErrMissingValue
	}

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "("), ")")
	}
	for _, marker := range currencyMarkers {
		cleaned = strings.ReplaceAll(cleaned, marker, "")
	}
	switch {
	case strings.HasPrefix(cleaned, "-"), strings.HasPrefix(cleaned, "−"), strings.HasPrefix(cleaned, "▲"):
		negative = !negative
		_, size := utf8.DecodeRuneInString(cleaned)
		cleaned = cleaned[size:]
	case strings.HasSuffix(cleaned, "-"):
		negative = !negative
		cleaned = strings.TrimSuffix(cleaned, "-")
	case strings.HasPrefix(cleaned, "+"):
		cleaned = strings.TrimPrefix(cleaned, "+")
	}

	normalized, err := normalizeSeparators(cleaned, locale)
	if errors.Is(err, ErrAmbiguousAmount) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrAmbiguousAmount, raw)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, raw, err)
	}
	if !plainDecimal.MatchString(normalized) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, raw, err)
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}

func normalizeSeparators(s string, locale AmountLocale) (string, error) {
	switch locale {
	case LocaleDot:
		return strings.ReplaceAll(s, ",", ""), nil
	case LocaleComma:
		return strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", "."), nil
	case LocaleAuto, "":
	default:
		return "", fmt.Errorf("unknown amount locale %q", locale)
	}

	switch separatorHint(s) {
	case LocaleDot:
		return normalizeSeparators(s, LocaleDot)
	case LocaleComma:
		return normalizeSeparators(s, LocaleComma)
	}
	if strings.ContainsAny(s, ".,") {
		return "", ErrAmbiguousAmount
	}
	return s, nil
}

// separatorHint returns the convention a single amount implies, or "" when
// the value alone does not decide it. With both separators the last one is
// the decimal mark, and a repeated separator groups thousands. A lone
// separator is a decimal mark unless exactly three digits follow it and
// the integer part is not zero.
func separatorHint(raw string) AmountLocale {
	s := strings.Map(func(r rune) rune {
		if r == '.' || r == ',' || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, norm.NFKC.String(raw))

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	lone := func(sep string, last int, decimalMark, grouping AmountLocale) AmountLocale {
		switch {
		case strings.Count(s, sep) > 1:
			return grouping
		case len(s)-last-1 != 3, strings.TrimLeft(s[:last], "0") == "":
			return decimalMark
		}
		return ""
	}

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			return LocaleComma
		}
		return LocaleDot
	case lastComma >= 0:
		return lone(",", lastComma, LocaleComma, LocaleDot)
	case lastDot >= 0:
		return lone(".", lastDot, LocaleDot, LocaleComma)
	}
	return ""
}

// ParseDate parses the date formats seen in bank exports. A slash date with
// the year last is accepted only when day and month order is unambiguous.
func ParseDate(raw string) (time.Time, error) {
	cleaned := strings.TrimSpace(norm.NFKC.String(raw))
	if cleaned == "" {
		return time.Time{}, ErrMissingValue
	}
	if i := strings.IndexAny(cleaned, " T"); i > 0 {
		cleaned = cleaned[:i]
	}

	for _, layout := range unambiguousDates {
		if date, err := time.Parse(layout, cleaned); err == nil {
			return date, nil
		}
	}

	dayFirst, errDay := time.Parse("2/1/2006", cleaned)
	monthFirst, errMonth := time.Parse("1/2/2006", cleaned)
	switch {
	case errDay == nil && errMonth == nil:
		if !dayFirst.Equal(monthFirst) {
			return time.Time{}, fmt.Errorf("%w: %q", ErrAmbiguousDate, raw)
		}
		return dayFirst, nil
	case errDay == nil:
		return dayFirst, nil
	case errMonth == nil:
		return monthFirst, nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}
