package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"invoicing/internal/logger"
	"invoicing/internal/reconciliation"
)

// Output file names inside a batch directory.
const (
	FileLedger   = "ledger.csv"
	FileJournal  = "journal.csv"
	FileReview   = "manual_review.csv"
	FileMatches  = "matches.json"
	FileSummary  = "summary.json"
	FileWorkbook = "review.xlsx"
)

// Options selects optional outputs.
type Options struct {
	Workbook bool
	Now      func() time.Time
}

// WriteBatch writes every output of a batch into dir. Files are written to a
// temporary sibling directory first and moved into place only when all of
// them succeeded, so dir holds either the previous or the new complete set.
func WriteBatch(dir string, result *reconciliation.BatchResult, opts Options) error {
	const op = "WriteBatch"
	log := logger.WithComponent("report")

	if opts.Now == nil {
		opts.Now = time.Now
	}
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("%s: failed to create %s: %w", op, parent, err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-*")
	if err != nil {
		return fmt.Errorf("%s: failed to create temp dir: %w", op, err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	summary := NewSummary(result, opts.Now())
	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{FileLedger, func(w io.Writer) error { return WriteLedgerCSV(w, result.Ledger) }},
		{FileJournal, func(w io.Writer) error { return WriteJournalCSV(w, result.Entries) }},
		{FileReview, func(w io.Writer) error { return WriteReviewCSV(w, result.Review) }},
		{FileMatches, func(w io.Writer) error { return WriteJSON(w, AINativeMatches(result.Matches)) }},
		{FileSummary, func(w io.Writer) error { return WriteJSON(w, summary) }},
	}
	for _, out := range writers {
		if err := writeFile(filepath.Join(tmp, out.name), out.write); err != nil {
			return fmt.Errorf("%s: %s: %w", op, out.name, err)
		}
	}
	if opts.Workbook {
		if err := WriteWorkbook(filepath.Join(tmp, FileWorkbook), result, summary); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := swapDir(tmp, dir); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	committed = true

	log.Info().
		Str("dir", dir).
		Str("run_id", result.RunID).
		Int("ledger_rows", len(result.Ledger)).
		Int("journal_entries", len(result.Entries)).
		Int("review_items", len(result.Review)).
		Msg("Batch outputs written")
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// swapDir replaces dst with src. An existing dst is moved aside first and
// removed once src is in place.
func swapDir(src, dst string) error {
	var backup string
	if _, err := os.Stat(dst); err == nil {
		backup = fmt.Sprintf("%s.prev-%d", dst, time.Now().UnixNano())
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("move previous outputs aside: %w", err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if backup != "" {
			_ = os.Rename(backup, dst)
		}
		return fmt.Errorf("move outputs into place: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}
