package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// main wires the CLI. Each subcommand builds only the dependencies it needs;
// business logic lives in the internal service packages.
func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "canon",
		Short: "Canonical identity resolution and risk scoring engine",
		Long: `canon deduplicates evidence fingerprints into canonical identities,
scores their risk, records every change in an append-only history and
gates actions on verified identities.`,
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().Bool("migrate", true, "Apply database migrations before serving (postgres store)")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  runMigrate,
	})

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Score a signal set offline and print the breakdown",
		RunE:  runScore,
	}
	scoreCmd.Flags().Float64("confidence", 0, "Verification confidence in [0,1]; omit for unknown")
	scoreCmd.Flags().Int("identity-reuse", 0, "Distinct actors linked to the identity")
	scoreCmd.Flags().Int("device-reuse", 0, "Distinct devices observed for the identity")
	scoreCmd.Flags().Int("incidents", 0, "Recorded incidents")
	scoreCmd.Flags().String("policy", "", "Risk policy file (defaults to RISK_POLICY_FILE)")
	rootCmd.AddCommand(scoreCmd)

	tokenCmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Mint an operator bearer token",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	tokenCmd.Flags().String("role", "operator", "Role claim")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to OPERATOR_TOKEN_TTL)")
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
