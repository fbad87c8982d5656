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
	"invoicing/internal/reconciliation"
)

var convertCmd = &cobra.Command{
	Use:   "convert [bank-export] [ai-response]",
	Short: "Validate and apply a saved AI matching response",
	Long: `Run the pipeline on a matching response saved earlier, without calling
the matching service.

The response file holds the raw payload: a JSON array of matches or an object
with a "matches" array, optionally wrapped in a markdown code fence.`,
	Example: `  invoicing convert bank_2024-01.csv response.json --invoices invoices.csv`,
	Args:    cobra.ExactArgs(2),
	RunE:    runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	addPipelineFlags(convertCmd)
	convertCmd.Flags().String("batch", "", "Batch name (default: bank export file name)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("convert")

	o, err := readPipelineFlags(cmd)
	if err != nil {
		return err
	}
	bankPath, responsePath := args[0], args[1]
	batch, _ := cmd.Flags().GetString("batch")
	if batch == "" {
		batch = batchName(bankPath)
	}

	payload, err := os.ReadFile(responsePath)
	if err != nil {
		return fmt.Errorf("failed to read matching response: %w", err)
	}
	candidates, err := reconciliation.ParseMatchResponse(string(payload))
	if err != nil {
		return err
	}
	log.Info().
		Str("response", responsePath).
		Int("candidates", len(candidates)).
		Msg("Matching response parsed")

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
	result, err := newPipeline(o.cfg, idx, nil, journal, metrics).RunWithCandidates(ctx, rc, bank, candidates)
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
