package resources

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes host commands. Implemented by LocalRunner for same-host
// provisioning and by the SSH transport for remote targets.
type Runner interface {
	// Run executes name with args and returns combined output. A non-zero
	// exit is an error wrapping the output.
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// LocalRunner executes commands on the local host.
type LocalRunner struct {
	// UseSudo prefixes every command with sudo for privileged host mutation.
	UseSudo bool
}

// Run executes the command and returns its combined output.
func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var cmd *exec.Cmd
	if r.UseSudo {
		fullCmd := append([]string{name}, args...)
		cmd = exec.CommandContext(ctx, "sudo", fullCmd...)
	} else {
		cmd = exec.CommandContext(ctx, name, args...)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("command %q failed: %w: %s",
			name+" "+strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}

	return string(output), nil
}
