// Package cmd defines and implements the CLI commands for the rcwatch
// executable.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rcwatch",
		Short: "Watches vehicle configuration inventory pages for changes.",
		Long: `rcwatch fetches rendered inventory pages, extracts the distinct vehicle
configurations listed on them, diffs the result against the state persisted
from previous runs, and notifies a channel about anything new. It is meant
to run as a short-lived job under an external scheduler such as cron.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the configuration file")
	cmd.AddCommand(newCheckCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
