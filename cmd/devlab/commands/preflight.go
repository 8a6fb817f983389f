package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newPreflightCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Validate the run without mutating anything",
		Long: `Resolve the service selection and evaluate every enabled policy against
it. Nothing on the host is touched; the exit code reports whether a real run
would have been admitted.`,
		Example: `  # Check the default selection
  devlab preflight

  # Check a stack definition with extra policies
  devlab preflight --config stack.cue --policies ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			result, set, err := a.orch.Preflight(ctx)

			if jsonOutput && result != nil {
				out := map[string]interface{}{
					"allowed":    result.Allowed,
					"violations": result.Violations,
					"warnings":   result.Warnings,
				}
				if set != nil {
					out["services"] = set.Strings()
				}
				if encErr := json.NewEncoder(os.Stdout).Encode(out); encErr != nil {
					return encErr
				}
				return err
			}

			if set != nil {
				fmt.Printf("Selection: %s\n", set)
			}
			if result != nil {
				for _, v := range result.Violations {
					fmt.Printf("DENY  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
				}
				for _, w := range result.Warnings {
					fmt.Printf("WARN  [%s] %s: %s\n", w.Severity, w.Policy, w.Message)
				}
			}
			if err != nil {
				return err
			}

			fmt.Println("Preflight passed")
			return nil
		},
	}

	return cmd
}
