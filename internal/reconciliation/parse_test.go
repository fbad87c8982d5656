package reconciliation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw    string
		locale AmountLocale
		want   string
	}{
		{"100000", LocaleAuto, "100000"},
		{"100,000", LocaleDot, "100000"},
		{"¥1,234,567", LocaleAuto, "1234567"},
		{"１，２３４，５６７円", LocaleAuto, "1234567"},
		{"1.234,56", LocaleAuto, "1234.56"},
		{"1,234.56", LocaleAuto, "1234.56"},
		{"12,5", LocaleAuto, "12.5"},
		{"1.234.567", LocaleAuto, "1234567"},
		{"(500)", LocaleAuto, "-500"},
		{"-1,000", LocaleDot, "-1000"},
		{"0,500", LocaleAuto, "0.5"},
		{"1,2345", LocaleAuto, "1.2345"},
		{"▲3000", LocaleAuto, "-3000"},
		{"3000-", LocaleAuto, "-3000"},
		{"+42.10 EUR", LocaleAuto, "42.1"},
		{"1.234,56", LocaleComma, "1234.56"},
		{"1,234", LocaleDot, "1234"},
		{"1.234", LocaleComma, "1234"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw, tt.locale)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, raw := range []string{"abc", "1.2.3,4,5", "12e3", "--5"} {
		_, err := ParseAmount(raw, LocaleAuto)
		assert.ErrorIs(t, err, ErrInvalidAmount, raw)
	}

	_, err := ParseAmount("  ", LocaleAuto)
	assert.ErrorIs(t, err, ErrMissingValue)
}

func TestParseAmount_Ambiguous(t *testing.T) {
	for _, raw := range []string{"1,234", "1.234", "-100,000", "¥250.000"} {
		_, err := ParseAmount(raw, LocaleAuto)
		assert.ErrorIs(t, err, ErrAmbiguousAmount, raw)
	}

	got, err := ParseAmount("1.234", LocaleComma)
	require.NoError(t, err)
	assert.Equal(t, "1234", got.String())

	got, err = ParseAmount("1.234", LocaleDot)
	require.NoError(t, err)
	assert.Equal(t, "1.234", got.String())
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		"2024-01-05",
		"2024/1/5",
		"2024.01.05",
		"20240105",
		"2024年1月5日",
		"05.01.2024",
		"2024-01-05 10:30:00",
		"2024-01-05T10:30:00Z",
		"２０２４／０１／０５",
		"25/01/2024",
	} {
		t.Run(raw, func(t *testing.T) {
			got, err := ParseDate(raw)
			require.NoError(t, err)
			if raw == "25/01/2024" {
				assert.Equal(t, time.Date(2024, time.January, 25, 0, 0, 0, 0, time.UTC), got)
				return
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestParseDate_AmbiguousAndInvalid(t *testing.T) {
	_, err := ParseDate("03/04/2024")
	assert.ErrorIs(t, err, ErrAmbiguousDate)

	got, err := ParseDate("04/04/2024")
	require.NoError(t, err, "same date either way is not ambiguous")
	assert.Equal(t, time.April, got.Month())

	_, err = ParseDate("2024-13-01")
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = ParseDate("")
	assert.ErrorIs(t, err, ErrMissingValue)
}
