package report

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
	"invoicing/internal/reconciliation"
)

// Sheet names of the review workbook.
const (
	SheetReview  = "Manual Review"
	SheetJournal = "Journal"
	SheetSummary = "Summary"
)

// WriteWorkbook writes the review workbook to path: the manual review queue,
// the journal and a summary sheet.
func WriteWorkbook(path string, result *reconciliation.BatchResult, summary Summary) error {
	const op = "WriteWorkbook"

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetReview); err != nil {
		return fmt.Errorf("%s: rename sheet: %w", op, err)
	}
	for _, sheet := range []string{SheetJournal, SheetSummary} {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("%s: create sheet %s: %w", op, sheet, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("%s: create style: %w", op, err)
	}

	if err := writeSheet(f, SheetReview, ReviewHeader, ReviewRecords(result.Review), bold); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := writeSheet(f, SheetJournal, JournalHeader, JournalRecords(result.Entries), bold); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := writeSheet(f, SheetSummary, []string{"metric", "value"}, summaryRecords(summary), bold); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_ = f.SetColWidth(SheetReview, "A", "A", 16)
	_ = f.SetColWidth(SheetReview, "B", "G", 20)
	_ = f.SetColWidth(SheetReview, "H", "H", 60) // reasons
	_ = f.SetColWidth(SheetJournal, "A", "L", 18)
	_ = f.SetColWidth(SheetSummary, "A", "B", 24)

	f.SetActiveSheet(0)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("%s: xlsx write: %w", op, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, records [][]string, headerStyle int) error {
	rows := append([][]string{header}, records...)
	for i, record := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(record))
		for j, v := range record {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("sheet %s header style: %w", sheet, err)
	}
	return nil
}

func summaryRecords(s Summary) [][]string {
	records := [][]string{
		{"run_id", s.RunID},
		{"batch", s.Batch},
		{"input_rows", strconv.Itoa(s.InputRows)},
		{"normalized", strconv.Itoa(s.Normalized)},
		{"candidates", strconv.Itoa(s.Candidates)},
		{"entries", strconv.Itoa(s.Stats.Entries)},
		{"duplicates", strconv.Itoa(s.Stats.Duplicates)},
		{"matched_total", s.Stats.MatchedTotal.String()},
		{"match_rate", strconv.FormatFloat(s.Stats.MatchRate, 'f', 4, 64)},
	}
	for _, kind := range []reconciliation.ReviewKind{
		reconciliation.ReviewRejected,
		reconciliation.ReviewLowConfidence,
		reconciliation.ReviewConflict,
		reconciliation.ReviewUnmatched,
	} {
		records = append(records, []string{"review_" + string(kind), strconv.Itoa(s.Stats.Review[kind])})
	}
	return records
}
