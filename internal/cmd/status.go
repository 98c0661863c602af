package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/progress"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every sprint's phase",
		Long: `Status prints one row per sprint: its phase, retry count, dependencies
and live workspace. Blocked sprints list their failure report.

With --watch the table is re-printed every time the progress file is saved,
for example by a run in another terminal, until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := progress.Open(cfg.ProgressFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printStatus(out, store)
			if !watch {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchStatus(ctx, out, store)
		},
	}
	cmd.Flags().Bool("watch", false, "Re-print whenever the progress file changes")
	return cmd
}

// watchStatus re-renders after every save of the progress file until ctx ends.
func watchStatus(ctx context.Context, out io.Writer, store *progress.Store) error {
	changes, err := progress.Watch(ctx, store.Path(), progress.DefaultDebounce)
	if err != nil {
		return fmt.Errorf("watch %s: %w", store.Path(), err)
	}
	for range changes {
		if err := store.Reload(); err != nil {
			// A half-written or hand-edited file; wait for the next save.
			fmt.Fprintf(out, "reload: %v\n", err)
			continue
		}
		fmt.Fprintln(out)
		printStatus(out, store)
	}
	return nil
}

func printStatus(out io.Writer, store *progress.Store) {
	project := store.Project()
	if project.Name != "" {
		fmt.Fprintf(out, "Project: %s\n", project.Name)
	}

	sprints := store.Sprints()
	counts := make(map[models.Phase]int)
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Sprint", "Status", "Retries", "Depends on", "Workspace", "Goal"})
	for _, s := range sprints {
		counts[s.Status]++
		status := string(s.Status)
		if s.IsBlocked() && s.BlockedPhase != "" {
			status += " (" + string(s.BlockedPhase) + ")"
		}
		ws := "-"
		if s.Workspace != nil {
			ws = fmt.Sprintf("%s :%d", s.Workspace.Branch, s.Workspace.PortBase)
		}
		tw.AppendRow(table.Row{s.ID, status, s.RetryCount, strings.Join(s.DependsOn, ","), ws, truncate(s.Goal, 48)})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d done", counts[models.PhaseDone], len(sprints)), "", "", "", ""})
	tw.Render()

	for _, s := range sprints {
		if s.IsBlocked() && s.LastFailure != "" {
			fmt.Fprintf(out, "Sprint %s failure report: %s\n", s.ID, s.LastFailure)
		}
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
