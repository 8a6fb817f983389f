package commands

import (
	"github.com/spf13/cobra"
)

func newUpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Provision the platform",
		Long: `Run one full provisioning pass.

This command:
  - Resolves the service selection (meta-groups, negations, exclusions)
  - Runs the policy preflight with zero mutation on rejection
  - Opens a supervised session; a live session of the same name is a conflict
  - Executes the stage sequence fail-fast, gating daemons on readiness

Spawned daemons are detached and keep running after devlab exits.`,
		Example: `  # Provision with the built-in defaults
  devlab up

  # Provision from a stack definition
  devlab up --config stack.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if a.cfg.Telemetry.MetricsEnabled {
				if err := a.metrics.Serve(); err != nil {
					return err
				}
			}

			return a.orch.Up(ctx)
		},
	}

	return cmd
}
