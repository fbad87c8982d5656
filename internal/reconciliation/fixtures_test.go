package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invoicing/internal/invoice"
)

var jan2024 = invoice.Period{Year: 2024, Month: time.January}

func testIndex() *invoice.Index {
	return invoice.NewIndex([]invoice.Record{
		{ProjectID: "PRJ_0001", ClientID: "CL001", ClientName: "ABC Trading", Period: jan2024, BillingAmount: decimal.NewFromInt(100000)},
		{ProjectID: "PRJ_0002", ClientID: "CL002", ClientName: "XYZ Services", Period: jan2024, BillingAmount: decimal.NewFromInt(250000)},
		{ProjectID: "PRJ_0003", ClientID: "CL003", ClientName: "Globex", Period: jan2024.Prev(), BillingAmount: decimal.NewFromInt(50000)},
	})
}

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func testTransactions() []BankTransaction {
	return []BankTransaction{
		{TransactionID: "TXN_20240105_0001", Date: day(5), Amount: decimal.NewFromInt(100000), CounterpartyName: "ABC Trading", Row: 2},
		{TransactionID: "TXN_20240110_0002", Date: day(10), Amount: decimal.NewFromInt(250000), CounterpartyName: "XYZ Services", Row: 3},
		{TransactionID: "TXN_20240115_0003", Date: day(15), Amount: decimal.NewFromInt(50000), CounterpartyName: "Globex Inc", Row: 4},
	}
}

func testRunContext(t *testing.T) *RunContext {
	t.Helper()
	return NewRunContext(context.Background(), t.Name(), nil)
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func typePtr(mt MatchType) *MatchType { return &mt }

// candidate builds a fully populated candidate.
func candidate(invoiceID, paymentID, amount string, score float64, mt MatchType) MatchCandidate {
	return MatchCandidate{
		InvoiceID:       strPtr(invoiceID),
		PaymentID:       strPtr(paymentID),
		MatchAmount:     decPtr(amount),
		ConfidenceScore: floatPtr(score),
		MatchType:       typePtr(mt),
	}
}
