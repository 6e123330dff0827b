package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Concurrent MCP tool-call dispatcher",
	Long: `dispatcher runs batches of MCP tool calls against a set of backends with
bounded concurrency, per-backend circuit breakers, connection pooling,
retries and load balancing.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./config/config.yaml or ./config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
