package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teranos/carbonfill/cmd/carbonfill/commands"
	"github.com/teranos/carbonfill/logger"
)

var rootCmd = &cobra.Command{
	Use:   "carbonfill",
	Short: "carbonfill - fill missing carbon factors in lifecycle assessment nodes",
	Long: `carbonfill - AI-assisted carbon factor enrichment for LCA nodes.

Nodes are grouped by lifecycle stage, sent to the configured inference backend,
and merged back with a carbon factor, an uncertainty score and provenance.
Nodes the backend cannot answer confidently are marked manual-required.

Available commands:
  enrich   - Enrich a JSON array of nodes
  optimize - Enrich a single node as a given stage
  serve    - Start the HTTP API
  am       - Show and validate configuration (alias: config)
  usage    - Show inference usage recorded in the database
  version  - Show build information

Examples:
  carbonfill enrich nodes.json --stats
  cat node.json | carbonfill optimize --stage manufacturing
  carbonfill serve -v
  carbonfill config show --format json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real environment variables win
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLog, _ := cmd.Flags().GetBool("json-log")
		if err := logger.Initialize(jsonLog, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-log", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Explicit config file, merged over the standard locations")

	rootCmd.AddCommand(commands.EnrichCmd)
	rootCmd.AddCommand(commands.OptimizeCmd)
	rootCmd.AddCommand(commands.DecomposeCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.UsageCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
