package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "screener-back",
	Short: "Crypto Exchange Screener Backend",
	Long: `A crypto exchange screener backend built with Go.

Features:
• Rate-limited market data polling within the exchange request budget
• Rolling metrics over 1m..60m horizons with exact/estimated provenance
• Alert rules with at-most-once-per-window firing
• Plan-gated WebSocket broadcast with chunked snapshots and deltas
• NATS-based alert event distribution
• Redis candle caching and MySQL rule storage`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
