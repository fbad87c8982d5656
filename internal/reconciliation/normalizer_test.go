package reconciliation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

func fixedNow() time.Time {
	return time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
}

func TestNormalize_EnglishExport(t *testing.T) {
	input := "transaction_date,amount,client_name,description,transaction_id\n" +
		"2024-01-05,\"100,000\",ABC Trading,January invoice,T1\n" +
		"2024/01/10,250000,XYZ Services,,T2\n" +
		"not-a-date,5000,Broken Row,,T3\n" +
		"2024-01-12,abc,Bad Amount,,T4\n" +
		"2024-01-13,5000,,,T5\n" +
		"2024-01-14,-300,Fee,,T6\n" +
		"2024-01-15,300,Duplicate,,T1\n"

	n := NewNormalizer(NormalizerOptions{Locale: LocaleDot, DepositsOnly: true, Now: fixedNow})
	txns, report, err := n.Normalize(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 7, report.InputRows)
	assert.Equal(t, report.InputRows, len(txns)+len(report.Skipped))
	require.Len(t, txns, 2)

	assert.Equal(t, "T1", txns[0].TransactionID)
	assert.Equal(t, "100000", txns[0].Amount.String())
	assert.Equal(t, "ABC Trading", txns[0].CounterpartyName)
	assert.Equal(t, "January invoice", txns[0].RawDescription)
	assert.Equal(t, 2, txns[0].Row)
	assert.Equal(t, CategoryMedium, txns[0].Category)

	reasons := report.SkippedByReason()
	assert.Equal(t, 1, reasons[ErrInvalidDate.Error()])
	assert.Equal(t, 1, reasons[ErrInvalidAmount.Error()])
	assert.Equal(t, 1, reasons[ErrMissingValue.Error()])
	assert.Equal(t, 1, reasons[ErrNotDeposit.Error()])
	assert.Equal(t, 1, reasons[ErrDuplicateTransaction.Error()])

	var rowErr *RowError
	require.True(t, errors.As(report.Skipped[0], &rowErr))
	assert.Equal(t, 4, rowErr.Row)
}

func TestNormalize_JapaneseShiftJIS(t *testing.T) {
	utf8 := "取引日,入金額,振込依頼人名,摘要\n" +
		"2024年1月5日,１００，０００,ｶ)ｴｰﾋﾞｰｼｰ,1月分\n" +
		"2024/01/31,50000,グローベックス,\n"
	sjis, err := japanese.ShiftJIS.NewEncoder().String(utf8)
	require.NoError(t, err)

	n := NewNormalizer(NormalizerOptions{Encoding: "shift_jis", DepositsOnly: true, Now: fixedNow})
	txns, report, err := n.Normalize(strings.NewReader(sjis))
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Empty(t, report.Skipped)

	assert.Equal(t, "100000", txns[0].Amount.String())
	assert.Equal(t, "TXN_20240105_0001", txns[0].TransactionID)
	assert.Equal(t, "TXN_20240131_0002", txns[1].TransactionID)
	assert.Equal(t, "1月分", txns[0].RawDescription)
	assert.Equal(t, "入金額", report.Columns["amount"])
}

func TestNormalize_GermanExportWithBOM(t *testing.T) {
	input := "\ufeffBuchungstag,Betrag,Auftraggeber,Verwendungszweck\n" +
		"05.01.2024,\"1.234,56\",Muster GmbH,RE-2024-001\n"

	n := NewNormalizer(NormalizerOptions{Now: fixedNow})
	txns, _, err := n.Normalize(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "1234.56", txns[0].Amount.String())
	assert.Equal(t, time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC), txns[0].Date)
}

func TestNormalize_SchemaErrors(t *testing.T) {
	n := NewNormalizer(NormalizerOptions{})

	_, _, err := n.Normalize(strings.NewReader("date,description\n2024-01-05,x\n"))
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "amount")
	assert.Contains(t, err.Error(), "counterparty")

	_, _, err = n.Normalize(strings.NewReader("date,取引日,amount,payer\n"))
	assert.ErrorIs(t, err, ErrAmbiguousColumn)

	_, _, err = n.Normalize(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, _, err = NewNormalizer(NormalizerOptions{Encoding: "latin-9"}).Normalize(strings.NewReader("x"))
	require.True(t, errors.As(err, &schemaErr))
}

func TestNormalize_AmbiguousDateIsRowError(t *testing.T) {
	input := "date,amount,payer\n03/04/2024,100,ABC\n25/04/2024,100,ABC\n"

	txns, report, err := NewNormalizer(NormalizerOptions{Now: fixedNow}).Normalize(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Len(t, report.Skipped, 1)
	assert.ErrorIs(t, report.Skipped[0], ErrAmbiguousDate)
}

func TestNormalize_AmountConventionFromExport(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "grouping decides",
			input: "date,amount,payer\n2024-01-05,\"1,234\",A\n2024-01-06,\"1,250,000\",B\n",
			want:  []string{"1234", "1250000"},
		},
		{
			name:  "decimal comma decides",
			input: "Buchungstag,Betrag,Auftraggeber\n05.01.2024,1.234,A\n06.01.2024,\"12,50\",B\n",
			want:  []string{"1234", "12.5"},
		},
		{
			name:  "decimal point decides",
			input: "date,amount,payer\n2024-01-05,1.234,A\n2024-01-06,42.10,B\n",
			want:  []string{"1.234", "42.1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txns, report, err := NewNormalizer(NormalizerOptions{Now: fixedNow}).Normalize(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Empty(t, report.Skipped)

			var got []string
			for _, txn := range txns {
				got = append(got, txn.Amount.String())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_AmbiguousAmountIsRowError(t *testing.T) {
	input := "date,amount,payer\n2024-01-05,1.234,ABC\n2024-01-06,\"5,000\",XYZ\n2024-01-07,700,Globex\n"

	txns, report, err := NewNormalizer(NormalizerOptions{Now: fixedNow}).Normalize(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "700", txns[0].Amount.String())

	require.Len(t, report.Skipped, 2)
	assert.ErrorIs(t, report.Skipped[0], ErrAmbiguousAmount)
	assert.ErrorIs(t, report.Skipped[1], ErrAmbiguousAmount)
	require.Len(t, report.Warnings, 2)
	assert.Contains(t, report.Warnings[0], "AMOUNT_LOCALE")

	// The same export reads cleanly once the convention is configured.
	txns, report, err = NewNormalizer(NormalizerOptions{Locale: LocaleComma, Now: fixedNow}).Normalize(strings.NewReader(input))
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	require.Len(t, txns, 3)
	assert.Equal(t, "1234", txns[0].Amount.String())
	assert.Equal(t, "5", txns[1].Amount.String())
}

func TestNormalize_Warnings(t *testing.T) {
	var b strings.Builder
	b.WriteString("date,amount,payer\n")
	for i := 0; i < 11; i++ {
		b.WriteString("2024-01-05,1000,Regular\n")
	}
	b.WriteString("2024-01-06,1000000,Outlier\n")
	b.WriteString("2024-03-01,1000,Future\n")

	txns, report, err := NewNormalizer(NormalizerOptions{Now: fixedNow}).Normalize(strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Len(t, txns, 13)
	require.Len(t, report.Warnings, 3)
	assert.Contains(t, report.Warnings[0], "future")
	assert.Contains(t, report.Warnings[1], "outlier")
	assert.Equal(t, "13 transaction ids synthesized from date and row order; they identify payments only within this export", report.Warnings[2])
}

func TestNormalize_RowCountInvariant(t *testing.T) {
	inputs := []string{
		"date,amount,payer\n",
		"date,amount,payer\n2024-01-05,1,A\n",
		"date,amount,payer\n2024-01-05\n2024-01-05,x,A\n,,\n2024-01-05,5,B\n",
		"date,amount,payer,id\n2024-01-05,1,A,X\n2024-01-05,1,A,X\n2024-01-05,\"1,0,A\n",
	}
	for _, input := range inputs {
		txns, report, err := NewNormalizer(NormalizerOptions{Now: fixedNow}).Normalize(strings.NewReader(input))
		require.NoError(t, err)
		assert.Equal(t, report.InputRows, len(txns)+len(report.Skipped), input)
		assert.Equal(t, report.Normalized, len(txns))
	}
}
