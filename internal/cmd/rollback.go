package cmd

import (
	"fmt"

	"github.com/harrison/cadence/internal/models"
	"github.com/spf13/cobra"
)

// NewRollbackCommand creates the rollback command
func NewRollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <sprint-id> <phase>",
		Short: "Move a sprint back to an earlier phase",
		Long: `Rollback moves a sprint to the given phase, clears its retry count and
failure report, and unblocks it. Rolling back to Pending discards the
sprint's workspace; any other phase keeps it.

Phases: Pending, WriteUnitTests, WriteCode, CodeReview, RunUnitTests,
WriteE2ETests, RunE2ETests, Complete.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := models.Phase(args[1])
			if target.Index() < 0 {
				return fmt.Errorf("unknown phase %q", args[1])
			}

			cfg, home, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, cfg, home, false)
			if err != nil {
				return err
			}
			defer a.Close()

			worker, err := a.newWorker()
			if err != nil {
				return err
			}
			orch, err := a.newOrchestrator(worker)
			if err != nil {
				return err
			}
			if err := orch.Rollback(cmd.Context(), args[0], target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sprint %s rolled back to %s\n", args[0], target)
			return nil
		},
	}
}
