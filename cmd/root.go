// Package cmd defines the coordinator command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	serverURL string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Distributed web-archiving job coordinator.",
		Long: `coordinator tracks archiving jobs from registration to cold storage.
It keeps the per-job event log, derives response-bucket counters and
progress broadcasts from it, and hands work to crawl pipelines through
named queues.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./coordinator.yaml)")
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of a running coordinator")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newAbortCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
