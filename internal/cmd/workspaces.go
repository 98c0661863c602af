package cmd

import (
	"fmt"
	"time"

	"github.com/harrison/cadence/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewWorkspacesCommand creates the workspaces command group
func NewWorkspacesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspaces",
		Aliases: []string{"ws"},
		Short:   "Inspect and manage isolated workspaces",
	}
	cmd.AddCommand(newWorkspacesListCommand())
	cmd.AddCommand(newWorkspacesMergeCommand())
	cmd.AddCommand(newWorkspacesDeleteCommand())
	cmd.AddCommand(newWorkspacesPruneCommand())
	return cmd
}

// withApp opens the shared components, runs fn and closes them.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, home, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd, cfg, home, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newWorkspacesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				handles := a.workspaces.List()
				if len(handles) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No workspaces.")
					return nil
				}
				live := a.liveBranches()
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Branch", "Kind", "Ports", "Path", "Created", "Sprint"})
				for _, h := range handles {
					owner := "-"
					if live[h.Branch] {
						owner = h.Key
					}
					tw.AppendRow(table.Row{
						h.Branch, h.Kind, fmt.Sprintf("%d-%d", h.PortBase, h.PortEnd()-1),
						h.Path, h.CreatedAt.Local().Format(time.DateTime), owner,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func newWorkspacesMergeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <branch>",
		Short: "Merge a workspace into the integration branch and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				h, err := lookupWorkspace(a, args[0])
				if err != nil {
					return err
				}
				if err := a.workspaces.Merge(cmd.Context(), h); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Merged %s into %s\n", h.Branch, a.cfg.Workspace.IntegrationBranch)
				return nil
			})
		},
	}
}

func newWorkspacesDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <branch>",
		Short: "Discard a workspace without merging",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return withApp(cmd, func(a *app) error {
				h, err := lookupWorkspace(a, args[0])
				if err != nil {
					return err
				}
				if a.liveBranches()[h.Branch] && !force {
					return fmt.Errorf("workspace %s belongs to sprint %s; roll the sprint back to Pending or pass --force", h.Branch, h.Key)
				}
				if err := a.workspaces.Delete(cmd.Context(), h); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", h.Branch)
				return nil
			})
		},
	}
	cmd.Flags().Bool("force", false, "Delete even if a sprint still references the workspace")
	return cmd
}

func newWorkspacesPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Forget workspaces whose branch no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				live := a.liveBranches()
				pruned, err := a.workspaces.Prune(cmd.Context(), func(h models.WorkspaceHandle) bool {
					return live[h.Branch]
				})
				for _, h := range pruned {
					fmt.Fprintf(cmd.OutOrStdout(), "Pruned %s\n", h.Branch)
				}
				if err != nil {
					return err
				}
				if len(pruned) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to prune.")
				}
				return nil
			})
		},
	}
}

func lookupWorkspace(a *app, branch string) (*models.WorkspaceHandle, error) {
	h, ok := a.workspaces.Get(branch)
	if !ok {
		return nil, fmt.Errorf("no workspace for branch %q", branch)
	}
	return &h, nil
}
