package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func newLogsCommand() *cobra.Command {
	var (
		sessionName string
		follow      bool
	)

	cmd := &cobra.Command{
		Use:   "logs <task>",
		Short: "Print a supervised task's captured log",
		Long: `Print the log file captured for a supervised task. With --follow the
command keeps streaming appended output until interrupted.`,
		Example: `  # Print the identity daemon's log
  devlab logs identity

  # Stream the compute daemon's log
  devlab logs compute --follow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			session := sessionName
			if session == "" {
				session = a.cfg.Session.Name
			}

			task, err := a.store.GetTask(ctx, session, args[0])
			if err != nil {
				return fmt.Errorf("task %q in session %q: %w", args[0], session, err)
			}
			if task.LogPath == "" {
				return fmt.Errorf("task %q has no captured log", task.Name)
			}

			file, err := os.Open(task.LogPath)
			if err != nil {
				return err
			}
			defer file.Close()

			if _, err := io.Copy(os.Stdout, file); err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return followLog(ctx, file, task.LogPath)
		},
	}

	cmd.Flags().StringVarP(&sessionName, "session", "s", "", "session name (default: configured session)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream appended output")

	return cmd
}

// followLog streams data appended to the file until the context is canceled.
// The file offset is already at the end from the initial copy.
func followLog(ctx context.Context, file *os.File, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				if _, err := io.Copy(os.Stdout, file); err != nil {
					return err
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
