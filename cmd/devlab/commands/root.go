package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	jsonOutput  bool
	policyPaths []string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devlab",
		Short: "devlab - developer platform provisioning orchestrator",
		Long: `devlab provisions a multi-component developer platform from a declarative
selection of services: identity, image, compute, networking, block and object
storage, dashboard, plus their backing databases and message queues.

Each run idempotently recreates stateful resources (databases, bridges,
loopback filesystems, partition rings), starts daemons under a supervised
session, and gates on readiness. Re-running requires a teardown first; a live
session is a conflict, never a silent duplicate.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (CUE)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringSliceVar(&policyPaths, "policies", nil, "additional policy files or directories")

	rootCmd.AddCommand(newUpCommand())
	rootCmd.AddCommand(newPreflightCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newLogsCommand())
	rootCmd.AddCommand(newTeardownCommand())

	return rootCmd
}
