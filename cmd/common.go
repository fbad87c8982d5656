package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"invoicing/internal/config"
	"invoicing/internal/invoice"
	"invoicing/internal/logger"
	"invoicing/internal/observability"
	"invoicing/internal/reconciliation"
	"invoicing/internal/reconciliation/services"
	"invoicing/internal/report"
	"invoicing/internal/sheets"
	"invoicing/internal/store"
)

const (
	reviewSheetName  = "Manual Review"
	journalSheetName = "Journal"
)

// runOptions are the settings shared by every command that runs the pipeline.
// Flags override the environment configuration.
type runOptions struct {
	cfg *config.Config

	invoicesPath string
	workbook     bool
	publish      bool
	metricsFile  string
	dryRun       bool
	verbose      bool
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("invoices", "", "Invoice seed CSV or draft JSON file [REQUIRED]")
	cmd.Flags().String("output", "", "Output directory (default: OUTPUT_DIR)")
	cmd.Flags().String("journal-db", "", "SQLite journal for cross-run idempotence (default: JOURNAL_DB)")
	cmd.Flags().String("encoding", "", "Bank export encoding: utf-8 or shift_jis (default: BANK_ENCODING)")
	cmd.Flags().String("locale", "", "Amount locale: auto, dot or comma (default: AMOUNT_LOCALE)")
	cmd.Flags().Float64("threshold", 0, "Confidence threshold for journaling (default: CONFIDENCE_THRESHOLD)")
	cmd.Flags().Bool("workbook", false, "Also write review.xlsx")
	cmd.Flags().Bool("publish", false, "Publish review and journal rows to REVIEW_SHEET_URL")
	cmd.Flags().String("metrics-file", "", "Write prometheus metrics to this textfile")
	cmd.Flags().Bool("dry-run", false, "Run the pipeline but write nothing")
	cmd.Flags().Bool("verbose", false, "Print every progress event")

	cmd.MarkFlagRequired("invoices")
}

func readPipelineFlags(cmd *cobra.Command) (*runOptions, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	o := &runOptions{cfg: cfg}
	o.invoicesPath, _ = flags.GetString("invoices")
	o.workbook, _ = flags.GetBool("workbook")
	o.publish, _ = flags.GetBool("publish")
	o.metricsFile, _ = flags.GetString("metrics-file")
	o.dryRun, _ = flags.GetBool("dry-run")
	o.verbose, _ = flags.GetBool("verbose")

	if flags.Changed("output") {
		cfg.OutputDir, _ = flags.GetString("output")
	}
	if flags.Changed("journal-db") {
		cfg.JournalDB, _ = flags.GetString("journal-db")
	}
	if flags.Changed("encoding") {
		enc, _ := flags.GetString("encoding")
		cfg.BankEncoding = strings.ToLower(enc)
	}
	if flags.Changed("locale") {
		locale, _ := flags.GetString("locale")
		cfg.AmountLocale = strings.ToLower(locale)
	}
	if flags.Changed("threshold") {
		cfg.ConfidenceThreshold, _ = flags.GetFloat64("threshold")
		if !(cfg.ConfidenceThreshold > 0 && cfg.ConfidenceThreshold <= 1) {
			return nil, fmt.Errorf("threshold must be within (0,1], got %v", cfg.ConfidenceThreshold)
		}
	}
	if o.publish && cfg.ReviewSheetURL == "" {
		return nil, fmt.Errorf("REVIEW_SHEET_URL environment variable is required for --publish")
	}
	return o, nil
}

// loadIndex reads the invoice file and builds the read-only index.
func loadIndex(path string, log zerolog.Logger) (*invoice.Index, error) {
	records, loadReport, err := invoice.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	for _, skipped := range loadReport.Skipped {
		log.Warn().Str("file", path).Msg(skipped)
	}

	idx := invoice.NewIndex(records)
	if dups := idx.Duplicates(); len(dups) > 0 {
		log.Warn().Strs("project_ids", dups).Msg("Duplicate invoice records ignored")
	}
	log.Info().
		Str("file", path).
		Int("rows", loadReport.Rows).
		Int("invoices", idx.Len()).
		Msg("Invoice index loaded")
	return idx, nil
}

func newMatcher(cfg *config.Config) (reconciliation.Matcher, error) {
	if err := cfg.RequireMatcher(); err != nil {
		return nil, err
	}
	client := services.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	return services.NewChatGPTMatcher(client, services.MatcherConfig{Model: cfg.OpenAIModel}), nil
}

// openJournal opens the journal store, or returns nil when none is configured.
func openJournal(ctx context.Context, cfg *config.Config) (*store.JournalStore, error) {
	if cfg.JournalDB == "" {
		return nil, nil
	}
	if dir := filepath.Dir(cfg.JournalDB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	return store.Open(ctx, cfg.JournalDB)
}

func newPipeline(cfg *config.Config, idx *invoice.Index, matcher reconciliation.Matcher, journal *store.JournalStore, metrics *observability.Metrics) *reconciliation.Pipeline {
	opts := reconciliation.PipelineOptions{
		Normalizer: reconciliation.NormalizerOptions{
			Locale:       reconciliation.AmountLocale(cfg.AmountLocale),
			Encoding:     cfg.BankEncoding,
			DepositsOnly: cfg.BankDepositsOnly,
		},
		Requester: reconciliation.RequesterOptions{
			Timeout:        cfg.MatchTimeout,
			MaxRetries:     cfg.MatchMaxRetries,
			InitialBackoff: cfg.MatchInitialBackoff,
			MaxBackoff:     cfg.MatchTimeout,
		},
		Applier: reconciliation.ApplierOptions{
			Threshold:     cfg.ConfidenceThreshold,
			DebitAccount:  cfg.CashAccount,
			CreditAccount: cfg.ReceivableAccount,
		},
	}
	// A nil *JournalStore must not become a non-nil interface.
	var keys reconciliation.JournalKeys
	if journal != nil {
		keys = journal
	}
	return reconciliation.NewPipeline(idx, matcher, opts, keys, metrics)
}

// batchName derives the batch name from the bank export file name.
func batchName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// startRun creates the run context of one batch and prints its progress
// events. The returned function stops the printer once the run is over.
func startRun(ctx context.Context, batch string, verbose bool, out *sync.Mutex) (*reconciliation.RunContext, func()) {
	progress := make(chan reconciliation.Event, 16)
	rc := reconciliation.NewRunContext(ctx, batch, progress)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range progress {
			if !verbose && ev.Kind != reconciliation.EventFailed && ev.Kind != reconciliation.EventCompleted {
				continue
			}
			out.Lock()
			fmt.Printf("[%s] %-9s %-9s %s (%d)\n", ev.Batch, ev.Stage, ev.Kind, ev.Message, ev.Count)
			out.Unlock()
		}
	}()

	return rc, func() {
		close(progress)
		<-done
	}
}

// persist commits the journal entries of a batch and then writes its outputs.
// Entries committed before a failed output write can be listed with the
// journal command using the run id.
func persist(ctx context.Context, o *runOptions, journal *store.JournalStore, result *reconciliation.BatchResult, dir string) error {
	log := logger.WithRun(result.RunID, result.Batch)

	if o.dryRun {
		log.Info().Msg("Dry run mode: no outputs written")
		return nil
	}

	if journal != nil {
		inserted, err := journal.Append(ctx, result.Entries)
		if err != nil {
			return fmt.Errorf("failed to commit journal entries: %w", err)
		}
		log.Info().Int("inserted", inserted).Msg("Journal entries committed")
	}

	if err := report.WriteBatch(dir, result, report.Options{Workbook: o.workbook}); err != nil {
		return fmt.Errorf("failed to write outputs (run %s): %w", result.RunID, err)
	}

	if o.publish {
		if err := publish(ctx, o.cfg.ReviewSheetURL, result); err != nil {
			return err
		}
	}
	return nil
}

func publish(ctx context.Context, sheetURL string, result *reconciliation.BatchResult) error {
	sheetsService, err := sheets.NewSheetsService(ctx, sheetURL)
	if err != nil {
		return fmt.Errorf("failed to create Google Sheets service: %w", err)
	}
	if err := sheetsService.PublishRows(ctx, reviewSheetName, report.ReviewHeader, report.ReviewRecords(result.Review)); err != nil {
		return fmt.Errorf("failed to publish review queue: %w", err)
	}
	if err := sheetsService.PublishRows(ctx, journalSheetName, report.JournalHeader, report.JournalRecords(result.Entries)); err != nil {
		return fmt.Errorf("failed to publish journal: %w", err)
	}
	return nil
}

// finishMetrics records the batch outcomes and writes the textfile if requested.
func finishMetrics(o *runOptions, metrics *observability.Metrics, log zerolog.Logger) {
	if o.metricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(o.metricsFile); err != nil {
		log.Warn().Err(err).Str("file", o.metricsFile).Msg("Failed to write metrics textfile")
	}
}

func printResult(result *reconciliation.BatchResult, dir string, dryRun bool) {
	stats := result.Stats

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Batch:        %s\n", result.Batch)
	fmt.Printf("Run:          %s\n", result.RunID)
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Bank rows:    %d (skipped %d)\n", result.Report.InputRows, len(result.Report.Skipped))
	fmt.Printf("Candidates:   %d\n", len(result.Candidates))
	fmt.Printf("Ledger rows:  %d\n", len(result.Ledger))
	fmt.Printf("Journaled:    %d (duplicates %d)\n", stats.Entries, stats.Duplicates)
	fmt.Printf("Review:       %d\n", len(result.Review))
	for _, kind := range []reconciliation.ReviewKind{
		reconciliation.ReviewRejected,
		reconciliation.ReviewLowConfidence,
		reconciliation.ReviewConflict,
		reconciliation.ReviewUnmatched,
	} {
		if n := stats.Review[kind]; n > 0 {
			fmt.Printf("  %-14s %d\n", kind, n)
		}
	}
	fmt.Printf("Matched:      %s (%.1f%% of transactions)\n", stats.MatchedTotal.StringFixed(2), stats.MatchRate*100)
	if audit := result.Audit; audit != nil {
		fmt.Printf("Audit:        %d errors, %d warnings\n", audit.Count(reconciliation.AuditError), audit.Count(reconciliation.AuditWarning))
		for _, f := range audit.Findings {
			fmt.Printf("  %-7s %-11s %s %s\n", f.Severity, f.Check, f.TransactionID, f.Message)
		}
	}
	if dryRun {
		fmt.Println("Mode:         dry run, nothing written")
	} else {
		fmt.Printf("Output:       %s\n", dir)
	}
	fmt.Println(strings.Repeat("=", 60))
}
