package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"invoicing/internal/logger"
	"invoicing/internal/observability"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [bank-export]",
	Short: "Reconcile one bank export against the invoice index",
	Long: `Reconcile one bank export against the invoices of the billing period.

The export is normalized, matched by the AI matching service, validated against
the invoice index and applied to the journal. Outputs are written to
<output>/<batch>: ledger.csv, journal.csv, manual_review.csv, matches.json and
summary.json, plus review.xlsx with --workbook.

Required environment variables:
  OPENAI_API_KEY - API key of the OpenAI-compatible matching service

Optional environment variables:
  OPENAI_BASE_URL, OPENAI_MODEL - matching service endpoint and model
  MATCH_TIMEOUT, MATCH_MAX_RETRIES - per-attempt timeout and retry bound
  JOURNAL_DB - SQLite journal shared by all runs
  REVIEW_SHEET_URL - Google Sheet for --publish`,
	Example: `  # Reconcile January
  invoicing reconcile bank_2024-01.csv --invoices invoices.csv

  # Japanese bank export with a persistent journal
  invoicing reconcile furikomi.csv --invoices drafts.json --encoding shift_jis --journal-db data/journal.db

  # Dry run with every progress event
  invoicing reconcile bank.csv --invoices invoices.csv --dry-run --verbose`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	addPipelineFlags(reconcileCmd)
	reconcileCmd.Flags().String("batch", "", "Batch name (default: bank export file name)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("reconcile")

	o, err := readPipelineFlags(cmd)
	if err != nil {
		return err
	}
	bankPath := args[0]
	batch, _ := cmd.Flags().GetString("batch")
	if batch == "" {
		batch = batchName(bankPath)
	}

	log.Info().
		Str("bank_export", bankPath).
		Str("invoices", o.invoicesPath).
		Str("batch", batch).
		Bool("dry_run", o.dryRun).
		Msg("Starting reconciliation")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	idx, err := loadIndex(o.invoicesPath, log)
	if err != nil {
		return err
	}
	matcher, err := newMatcher(o.cfg)
	if err != nil {
		return err
	}
	journal, err := openJournal(ctx, o.cfg)
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
	}

	metrics := observability.NewMetrics()
	defer finishMetrics(o, metrics, log)

	bank, err := os.Open(bankPath)
	if err != nil {
		return fmt.Errorf("failed to open bank export: %w", err)
	}
	defer bank.Close()

	rc, stop := startRun(ctx, batch, o.verbose, &sync.Mutex{})
	result, err := newPipeline(o.cfg, idx, matcher, journal, metrics).Run(ctx, rc, bank)
	stop()
	if err != nil {
		metrics.RecordBatch("failure")
		return fmt.Errorf("batch %s failed: %w", batch, err)
	}

	dir := filepath.Join(o.cfg.OutputDir, batch)
	if err := persist(ctx, o, journal, result, dir); err != nil {
		metrics.RecordBatch("failure")
		return err
	}
	metrics.RecordBatch("success")

	printResult(result, dir, o.dryRun)
	return nil
}
