package cmd

import (
	"fmt"
	"time"

	"github.com/harrison/cadence/internal/history"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <sprint-id>",
		Short: "List a sprint's recorded phase transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			suites, _ := cmd.Flags().GetBool("suites")

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := history.NewStore(cfg.History.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			transitions, err := store.Transitions(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(transitions) == 0 {
				fmt.Fprintf(out, "No transitions recorded for sprint %s.\n", args[0])
			} else {
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"Time", "From", "To", "Outcome", "Retries", "Run", "Detail"})
				for _, t := range transitions {
					tw.AppendRow(table.Row{
						t.CreatedAt.Local().Format(time.DateTime), t.From, t.To, t.Outcome,
						t.RetryCount, shortID(t.RunID), truncate(t.Detail, 60),
					})
				}
				tw.Render()
			}

			if !suites {
				return nil
			}
			baseline, err := store.PassingSuites(cmd.Context())
			if err != nil {
				return err
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Suite", "Phase", "First passed by", "Last passed"})
			for _, s := range baseline {
				tw.AppendRow(table.Row{s.Name, s.Phase, s.FirstPassedBy, s.LastPassedAt.Local().Format(time.DateTime)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "Show only the most recent N transitions (0 = all)")
	cmd.Flags().Bool("suites", false, "Also list the verification suite baseline")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
