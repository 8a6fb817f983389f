package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
)

// ProfileResult holds the tokens a profile script emitted.
type ProfileResult struct {
	// Enable are positive tokens to append to the selection.
	Enable []string

	// Disable are negations to append.
	Disable []string
}

// ProfileEvaluator executes Starlark profile scripts. A profile assigns the
// globals `enable` and `disable`, each a list of service token strings.
type ProfileEvaluator struct {
	timeout time.Duration
}

// NewProfileEvaluator creates a profile evaluator with the given timeout.
func NewProfileEvaluator(timeout time.Duration) *ProfileEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ProfileEvaluator{timeout: timeout}
}

// EvaluateFile executes the profile script at path.
func (pe *ProfileEvaluator) EvaluateFile(ctx context.Context, path string) (*ProfileResult, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return pe.Evaluate(ctx, path, string(script))
}

// Evaluate executes a profile script with a hard timeout.
func (pe *ProfileEvaluator) Evaluate(ctx context.Context, name, script string) (*ProfileResult, error) {
	evalCtx, cancel := context.WithTimeout(ctx, pe.timeout)
	defer cancel()

	resultCh := make(chan *ProfileResult, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := pe.evaluateSync(name, script)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- result
		}
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("profile execution timeout after %v", pe.timeout)
	case err := <-errCh:
		return nil, err
	case result := <-resultCh:
		return result, nil
	}
}

func (pe *ProfileEvaluator) evaluateSync(name, script string) (*ProfileResult, error) {
	thread := &starlark.Thread{
		Name: "devlab-profile",
		Print: func(_ *starlark.Thread, msg string) {
			// Profiles have no output channel.
		},
	}

	globals, err := starlark.ExecFile(thread, name, script, nil)
	if err != nil {
		return nil, fmt.Errorf("profile execution failed: %w", err)
	}

	result := &ProfileResult{}
	if result.Enable, err = stringList(globals, "enable"); err != nil {
		return nil, err
	}
	if result.Disable, err = stringList(globals, "disable"); err != nil {
		return nil, err
	}

	return result, nil
}

// stringList extracts a global list of strings; a missing global is empty.
func stringList(globals starlark.StringDict, name string) ([]string, error) {
	val, ok := globals[name]
	if !ok {
		return nil, nil
	}

	list, ok := val.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("profile global %q must be a list, got %s", name, val.Type())
	}

	out := make([]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		s, ok := list.Index(i).(starlark.String)
		if !ok {
			return nil, fmt.Errorf("profile global %q element %d must be a string", name, i)
		}
		out = append(out, string(s))
	}

	return out, nil
}
