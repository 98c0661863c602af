package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for cadence
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cadence",
		Short: "Sprint orchestrator for autonomous coding workers",
		Long: `Cadence drives planned sprints through a fixed development pipeline
(tests, code, review, unit run, e2e tests, e2e run, merge), invoking an
external worker for each phase.

Every sprint works in its own git worktree with a private block of ports,
and every worker artifact must pass the quality gates before the sprint
advances. State lives in <home>/progress.yaml, where home is $CADENCE_HOME
or the .cadence directory at the project root.`,
		Version: Version,
		// Errors are printed once by main
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: <home>/config.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "Log level: trace, debug, info, warn, error")

	cmd.AddCommand(NewInitCommand())
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewRollbackCommand())
	cmd.AddCommand(NewWorkspacesCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
