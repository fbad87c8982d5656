package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"invoicing/internal/reconciliation"
)

// Column layouts of the CSV outputs.
var (
	LedgerHeader  = []string{"project_id", "transaction_id", "amount", "matched_amount", "match_score", "comment", "client_name"}
	JournalHeader = []string{"transaction_id", "project_id", "amount", "matched_amount", "match_score", "comment", "entry_type", "client_name", "debit_account", "credit_account", "date", "run_id"}
	ReviewHeader  = []string{"kind", "transaction_id", "project_id", "client_name", "amount", "match_score", "status", "reasons"}
)

// ErrHeaderMismatch is returned when a CSV header is not the expected layout.
var ErrHeaderMismatch = errors.New("unexpected CSV header")

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// LedgerRecords renders ledger rows as string records, without header.
func LedgerRecords(rows []reconciliation.LedgerRow) [][]string {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.ProjectID, r.TransactionID, r.Amount.String(), r.MatchedAmount.String(),
			formatScore(r.MatchScore), r.Comment, r.ClientName,
		})
	}
	return records
}

// JournalRecords renders journal entries as string records, without header.
func JournalRecords(entries []reconciliation.JournalEntry) [][]string {
	records := make([][]string, 0, len(entries))
	for _, e := range entries {
		records = append(records, []string{
			e.TransactionID, e.ProjectID, e.Amount.String(), e.MatchedAmount.String(),
			formatScore(e.MatchScore), e.Comment, string(e.EntryType), e.ClientName,
			e.DebitAccount, e.CreditAccount, e.Date.Format("2006-01-02"), e.RunID,
		})
	}
	return records
}

// ReviewRecords renders review items as string records, without header.
// Reasons are joined with "; ".
func ReviewRecords(items []reconciliation.ReviewItem) [][]string {
	records := make([][]string, 0, len(items))
	for _, item := range items {
		records = append(records, []string{
			string(item.Kind), item.TransactionID, item.ProjectID, item.ClientName,
			item.Amount.String(), formatScore(item.MatchScore), string(item.Status),
			strings.Join(item.Reasons, "; "),
		})
	}
	return records
}

// WriteLedgerCSV writes the ledger-ready CSV.
func WriteLedgerCSV(w io.Writer, rows []reconciliation.LedgerRow) error {
	return writeCSV(w, LedgerHeader, LedgerRecords(rows))
}

// WriteJournalCSV writes one row per journal entry.
func WriteJournalCSV(w io.Writer, entries []reconciliation.JournalEntry) error {
	return writeCSV(w, JournalHeader, JournalRecords(entries))
}

// WriteReviewCSV writes the manual review queue.
func WriteReviewCSV(w io.Writer, items []reconciliation.ReviewItem) error {
	return writeCSV(w, ReviewHeader, ReviewRecords(items))
}

func writeCSV(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

// ReadLedgerCSV reads a ledger CSV written by WriteLedgerCSV.
func ReadLedgerCSV(r io.Reader) ([]reconciliation.LedgerRow, error) {
	const op = "ReadLedgerCSV"

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(LedgerHeader)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", op, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if strings.Join(header, ",") != strings.Join(LedgerHeader, ",") {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrHeaderMismatch, strings.Join(header, ","))
	}

	var rows []reconciliation.LedgerRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		amount, err := decimal.NewFromString(record[2])
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: amount: %w", op, line, err)
		}
		matched, err := decimal.NewFromString(record[3])
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: matched_amount: %w", op, line, err)
		}
		score, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: match_score: %w", op, line, err)
		}

		rows = append(rows, reconciliation.LedgerRow{
			ProjectID:     record[0],
			TransactionID: record[1],
			Amount:        amount,
			MatchedAmount: matched,
			MatchScore:    score,
			Comment:       record[5],
			ClientName:    record[6],
		})
	}
	return rows, nil
}
