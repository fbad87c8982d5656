package invoice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

const (
	projectIDPrefix = "PRJ_"
	projectIDWidth  = 4
)

var (
	projectIDPattern = regexp.MustCompile(`^(?i)(?:PRJ)?[_\- ]?([0-9]+)$`)
	periodPatterns   = []*regexp.Regexp{
		regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})$`),
		regexp.MustCompile(`^(\d{4})(\d{2})$`),
		regexp.MustCompile(`^(\d{4})年(\d{1,2})月$`),
	}
	clientNoise = []string{"株式会社", "(株)", "有限会社", "(有)"}
)

// Record is one drafted or seeded invoice, keyed by its project.
type Record struct {
	ProjectID     string
	ClientID      string
	ClientName    string
	ProjectName   string
	Period        Period
	BillingAmount decimal.Decimal
}

// Period is a billing month.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod returns the period for year and month, rejecting out-of-range months.
func NewPeriod(year int, month time.Month) (Period, error) {
	if year < 1900 || year > 9999 {
		return Period{}, fmt.Errorf("%w: year %d", ErrInvalidPeriod, year)
	}
	if month < time.January || month > time.December {
		return Period{}, fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	return Period{Year: year, Month: month}, nil
}

// PeriodOf returns the billing period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod accepts 2024-01, 2024/1, 202401 and 2024年1月.
func ParsePeriod(s string) (Period, error) {
	cleaned := strings.TrimSpace(norm.NFKC.String(s))
	for _, re := range periodPatterns {
		m := re.FindStringSubmatch(cleaned)
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		return NewPeriod(year, time.Month(month))
	}
	return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
}

// Prev returns the preceding billing month.
func (p Period) Prev() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// IsZero reports whether p is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// CanonicalProjectID maps loose spellings such as "1", "prj-1" or "PRJ_0001"
// onto the fixed-width form PRJ_0001.
func CanonicalProjectID(raw string) (string, bool) {
	cleaned := strings.TrimSpace(norm.NFKC.String(raw))
	m := projectIDPattern.FindStringSubmatch(cleaned)
	if m == nil {
		return "", false
	}
	digits := strings.TrimLeft(m[1], "0")
	if digits == "" {
		digits = "0"
	}
	if len(digits) > projectIDWidth {
		return "", false
	}
	return projectIDPrefix + strings.Repeat("0", projectIDWidth-len(digits)) + digits, true
}

// FormatProjectID returns the canonical id for a project number.
func FormatProjectID(n int) string {
	return fmt.Sprintf("%s%0*d", projectIDPrefix, projectIDWidth, n)
}

// ClientKey folds a client name or id into the form used for index keys:
// NFKC width folding, lower case, corporate suffixes dropped and whitespace collapsed.
func ClientKey(name string) string {
	folded := norm.NFKC.String(name)
	for _, noise := range clientNoise {
		folded = strings.ReplaceAll(folded, noise, " ")
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
