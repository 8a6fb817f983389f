package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devlab-sh/devlab/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var showEvents bool
	var eventLimit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sessions and task states",
		Long: `List every recorded session and the state of its supervised tasks. Task
states are reconciled against process liveness, so a daemon that died since
the last command shows as failed. With --events the most recent lifecycle
events of each session are appended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			sessions, err := a.store.ListSessions(ctx)
			if err != nil {
				return err
			}

			type sessionStatus struct {
				Session *stores.Session `json:"session"`
				Tasks   []*stores.Task  `json:"tasks"`
				Events  []*stores.Event `json:"events,omitempty"`
			}
			statuses := make([]sessionStatus, 0, len(sessions))
			for _, session := range sessions {
				tasks, err := a.sup.ListTasks(ctx, session.Name)
				if err != nil {
					return err
				}
				status := sessionStatus{Session: session, Tasks: tasks}
				if showEvents {
					events, err := a.store.ListEvents(ctx, session.Name, eventLimit)
					if err != nil {
						return err
					}
					status.Events = events
				}
				statuses = append(statuses, status)
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(statuses)
			}

			if len(statuses) == 0 {
				fmt.Println("No sessions recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSTATUS\tTASK\tSTATE\tPID\tLOG")
			for _, s := range statuses {
				if len(s.Tasks) == 0 {
					fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\n", s.Session.Name, s.Session.Status)
					continue
				}
				for _, task := range s.Tasks {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
						s.Session.Name, s.Session.Status, task.Name, task.State, task.PID, task.LogPath)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if showEvents {
				for _, s := range statuses {
					if len(s.Events) == 0 {
						continue
					}
					fmt.Printf("\nEvents for %s:\n", s.Session.Name)
					for _, event := range s.Events {
						task := "-"
						if event.TaskName != nil {
							task = *event.TaskName
						}
						fmt.Printf("  %s  %-7s %-12s %s\n",
							event.Timestamp.Format("2006-01-02 15:04:05"), event.Level, task, event.Message)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showEvents, "events", false, "include recent session lifecycle events")
	cmd.Flags().IntVar(&eventLimit, "event-limit", 20, "maximum events to show per session")

	return cmd
}
