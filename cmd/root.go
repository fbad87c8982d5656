package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"invoicing/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "invoicing",
	Short: "Invoicing CLI - match bank payments to invoices and reconcile them",
	Long: `Invoicing CLI reconciles bank exports against the invoices of a billing period.

Bank transactions are normalized, sent to an AI matching service, validated
against the invoice index, converted to ledger rows and applied to the journal.
Everything that cannot be booked safely ends up in the manual review queue.`,
	Version:      version,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Invoicing CLI executed")

		fmt.Println("Welcome to Invoicing CLI!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
