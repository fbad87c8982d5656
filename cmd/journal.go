package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"invoicing/internal/config"
	"invoicing/internal/logger"
	"invoicing/internal/report"
)

var journalCmd = &cobra.Command{
	Use:   "journal [run-id]",
	Short: "Print the journal entries committed by a run",
	Long: `Print the journal entries a run committed to the SQLite journal as CSV.

Use it to recover journal.csv when a run committed its entries but failed to
write its outputs.`,
	Example: `  invoicing journal 2f1c9a4e-0d7b-4c1e-9a57-3b0e2d4f6a11 --journal-db data/journal.db > journal.csv`,
	Args:    cobra.ExactArgs(1),
	RunE:    runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().String("journal-db", "", "SQLite journal (default: JOURNAL_DB)")
}

func runJournal(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("journal")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("journal-db") {
		cfg.JournalDB, _ = cmd.Flags().GetString("journal-db")
	}
	if cfg.JournalDB == "" {
		return fmt.Errorf("--journal-db or JOURNAL_DB is required")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	journal, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	entries, err := journal.EntriesForRun(ctx, args[0])
	if err != nil {
		return err
	}
	log.Info().Str("run_id", args[0]).Int("entries", len(entries)).Msg("Journal entries loaded")

	return report.WriteJournalCSV(os.Stdout, entries)
}
