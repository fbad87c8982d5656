package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"invoicing/internal/config"
	"invoicing/internal/logger"
	"invoicing/internal/reconciliation"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [bank-export]",
	Short: "Normalize a bank export and report skipped rows",
	Long: `Normalize a bank export without matching it.

Prints the detected column mapping, every skipped row with its reason and the
plausibility warnings. Use it to check a new bank format before reconciling.`,
	Example: `  # Check a Japanese export
  invoicing normalize furikomi.csv --encoding shift_jis

  # Keep withdrawals too
  invoicing normalize bank.csv --all`,
	Args: cobra.ExactArgs(1),
	RunE: runNormalize,
}

func init() {
	rootCmd.AddCommand(normalizeCmd)

	normalizeCmd.Flags().String("encoding", "", "Bank export encoding: utf-8 or shift_jis (default: BANK_ENCODING)")
	normalizeCmd.Flags().String("locale", "", "Amount locale: auto, dot or comma (default: AMOUNT_LOCALE)")
	normalizeCmd.Flags().Bool("all", false, "Keep withdrawals and other non-deposit rows")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("normalize")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("encoding") {
		cfg.BankEncoding, _ = cmd.Flags().GetString("encoding")
	}
	if cmd.Flags().Changed("locale") {
		cfg.AmountLocale, _ = cmd.Flags().GetString("locale")
	}
	all, _ := cmd.Flags().GetBool("all")

	bank, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open bank export: %w", err)
	}
	defer bank.Close()

	normalizer := reconciliation.NewNormalizer(reconciliation.NormalizerOptions{
		Locale:       reconciliation.AmountLocale(strings.ToLower(cfg.AmountLocale)),
		Encoding:     cfg.BankEncoding,
		DepositsOnly: cfg.BankDepositsOnly && !all,
	})
	txns, report, err := normalizer.Normalize(bank)
	if err != nil {
		return err
	}

	log.Info().
		Str("bank_export", args[0]).
		Int("normalized", report.Normalized).
		Int("skipped", len(report.Skipped)).
		Msg("Bank export normalized")

	fields := make([]string, 0, len(report.Columns))
	for f := range report.Columns {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	fmt.Println("Columns:")
	for _, f := range fields {
		fmt.Printf("  %-14s <- %s\n", f, report.Columns[f])
	}
	fmt.Printf("\nRows: %d, normalized: %d, skipped: %d\n", report.InputRows, report.Normalized, len(report.Skipped))

	total := make(map[reconciliation.AmountCategory]int)
	for _, txn := range txns {
		total[txn.Category]++
	}
	fmt.Printf("Amounts: %d small, %d medium, %d large\n",
		total[reconciliation.CategorySmall], total[reconciliation.CategoryMedium], total[reconciliation.CategoryLarge])

	if len(report.Skipped) > 0 {
		fmt.Println("\nSkipped rows:")
		for _, rowErr := range report.Skipped {
			fmt.Printf("  %v\n", rowErr)
		}
	}
	if len(report.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range report.Warnings {
			fmt.Printf("  %s\n", w)
		}
	}
	return nil
}
