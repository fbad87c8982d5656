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
	"invoicing/internal/report"
)

var applyCmd = &cobra.Command{
	Use:   "apply [bank-export] [ledger-csv]",
	Short: "Apply a ledger CSV to the journal",
	Long: `Apply the ledger rows of an earlier run, possibly edited by hand, to the
journal.

Rows already journaled (same transaction and project) are skipped, so applying
the same ledger twice is safe when --journal-db or JOURNAL_DB is set.`,
	Example: `  invoicing apply bank_2024-01.csv output/bank_2024-01/ledger.csv --invoices invoices.csv --journal-db data/journal.db`,
	Args:    cobra.ExactArgs(2),
	RunE:    runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	addPipelineFlags(applyCmd)
	applyCmd.Flags().String("batch", "", "Batch name (default: ledger directory name)")
}

func runApply(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("apply")

	o, err := readPipelineFlags(cmd)
	if err != nil {
		return err
	}
	bankPath, ledgerPath := args[0], args[1]
	batch, _ := cmd.Flags().GetString("batch")
	if batch == "" {
		batch = filepath.Base(filepath.Dir(ledgerPath)) + "-applied"
	}

	ledgerFile, err := os.Open(ledgerPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	rows, err := report.ReadLedgerCSV(ledgerFile)
	ledgerFile.Close()
	if err != nil {
		return err
	}
	log.Info().Str("ledger", ledgerPath).Int("rows", len(rows)).Msg("Ledger read")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	idx, err := loadIndex(o.invoicesPath, log)
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
	result, err := newPipeline(o.cfg, idx, nil, journal, metrics).ApplyLedger(ctx, rc, bank, rows)
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
