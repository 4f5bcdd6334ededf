package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "browsetrace-tracker",
		Short:         "BrowserTrace page instrumentation agent",
		Long:          "Buffers page signals locally or relays them to a collection endpoint, and flushes deferred signals at teardown.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional .env file read before the environment")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error (overrides TRACKER_LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text|json (overrides TRACKER_LOG_FORMAT)")
	rootCmd.PersistentFlags().String("store", "", "Ledger store: sqlite|pebble|memory (overrides TRACKER_STORE)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newFlushCommand())
	rootCmd.AddCommand(newInspectCommand())
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
