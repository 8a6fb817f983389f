package commands

import (
	"github.com/spf13/cobra"
)

func newTeardownCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teardown [session]",
		Short: "Stop the session and remove owned resources",
		Long: `Stop every supervised task of the configured session, mark the session
inactive, and remove the resources this orchestrator created: tagged firewall
rules and bridges, the loopback filesystem, the partition ring file, and
service databases. Foreign resources are never touched.

After a teardown, 'devlab up' accepts the session name again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			session := ""
			if len(args) == 1 {
				session = args[0]
			}
			return a.orch.Teardown(ctx, session)
		},
	}

	return cmd
}
