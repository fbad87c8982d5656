package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"invoicing/internal/logger"
	"invoicing/internal/observability"
	"invoicing/internal/reconciliation"
	"invoicing/internal/store"
)

var reconcileBatchCmd = &cobra.Command{
	Use:   "reconcile-batch [bank-export...]",
	Short: "Reconcile several bank exports concurrently",
	Long: `Reconcile several bank exports as independent batches.

Each export is its own batch with its own run id and output directory,
<output>/<batch>. Batches share the invoice index and the journal. A failing
batch leaves no outputs and does not stop the others; every failure is
reported at the end.

Optional environment variables:
  BATCH_WORKERS - Number of batches processed in parallel (default: 4)`,
	Example: `  # Reconcile every export of the quarter
  invoicing reconcile-batch exports/*.csv --invoices invoices.csv --journal-db data/journal.db

  # Limit the parallelism
  invoicing reconcile-batch a.csv b.csv c.csv --invoices invoices.csv --workers 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReconcileBatch,
}

// batchOutcome is the result of one bank export.
type batchOutcome struct {
	Path   string
	Result *reconciliation.BatchResult
	Err    error
}

func init() {
	rootCmd.AddCommand(reconcileBatchCmd)

	addPipelineFlags(reconcileBatchCmd)
	reconcileBatchCmd.Flags().Int("workers", 0, "Parallel batches (default: BATCH_WORKERS)")
}

func runReconcileBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("reconcile-batch")

	o, err := readPipelineFlags(cmd)
	if err != nil {
		return err
	}
	workers := o.cfg.BatchWorkers
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		workers = n
	}

	seen := make(map[string]string, len(args))
	for _, path := range args {
		name := batchName(path)
		if other, dup := seen[name]; dup {
			return fmt.Errorf("bank exports %s and %s map to the same batch %q", other, path, name)
		}
		seen[name] = path
	}

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

	pipeline := newPipeline(o.cfg, idx, matcher, journal, metrics)

	log.Info().
		Int("batches", len(args)).
		Int("workers", workers).
		Msg("Starting batch reconciliation")
	fmt.Printf("Processing %d bank exports with %d parallel workers...\n\n", len(args), workers)

	outcomes := processBatches(ctx, o, args, workers, pipeline, journal, metrics)

	var errs []error
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			log.Error().Err(outcome.Err).Str("bank_export", outcome.Path).Msg("Batch failed")
			errs = append(errs, fmt.Errorf("%s: %w", outcome.Path, outcome.Err))
			continue
		}
		printResult(outcome.Result, filepath.Join(o.cfg.OutputDir, outcome.Result.Batch), o.dryRun)
	}

	log.Info().
		Int("total", len(outcomes)).
		Int("failed", len(errs)).
		Msg("Batch reconciliation completed")

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d batches failed: %w", len(errs), len(outcomes), errors.Join(errs...))
	}
	return nil
}

// processBatches runs every bank export as its own batch, at most workers at
// a time. A batch error is kept in its outcome and never cancels the others.
func processBatches(ctx context.Context, o *runOptions, paths []string, workers int, pipeline *reconciliation.Pipeline, journal *store.JournalStore, metrics *observability.Metrics) []batchOutcome {
	outcomes := make([]batchOutcome, len(paths))
	var out sync.Mutex

	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			result, err := runBatch(ctx, o, path, pipeline, journal, &out)
			if err != nil {
				metrics.RecordBatch("failure")
			} else {
				metrics.RecordBatch("success")
			}
			outcomes[i] = batchOutcome{Path: path, Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func runBatch(ctx context.Context, o *runOptions, path string, pipeline *reconciliation.Pipeline, journal *store.JournalStore, out *sync.Mutex) (*reconciliation.BatchResult, error) {
	bank, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bank export: %w", err)
	}
	defer bank.Close()

	batch := batchName(path)
	rc, stop := startRun(ctx, batch, o.verbose, out)
	result, err := pipeline.Run(ctx, rc, bank)
	stop()
	if err != nil {
		return nil, err
	}

	if err := persist(ctx, o, journal, result, filepath.Join(o.cfg.OutputDir, batch)); err != nil {
		return nil, err
	}
	return result, nil
}

