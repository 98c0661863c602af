package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrison/cadence/internal/config"
	"github.com/harrison/cadence/internal/progress"
	"github.com/spf13/cobra"
)

const configTemplate = `# cadence configuration. Every key is optional; values shown are defaults.
# Environment overrides use CADENCE_<KEY>, nesting with a double underscore
# (CADENCE_WORKSPACE__BASE_PORT=4000).
progress_file: progress.yaml
log_level: info
max_retries: 3
max_iterations: 50
concurrency: 2
auto_fix: true
worker:
  command: claude
  args: ["--dangerously-skip-permissions"]
  timeout: 30m
  roles: {}
workspace:
  root: .
  dir: workspaces
  integration_branch: main
  base_port: 3000
  stride: 10
quality:
  readiness_timeout: 60s
  poll_interval: 2s
  probes: []
  suites: []
`

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the cadence home with a config and an empty progress file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")

			home, err := config.GetCadenceHome()
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(config.ProjectRoot(home))
			}
			out := cmd.OutOrStdout()

			configPath := filepath.Join(home, "config.yaml")
			if !fileExists(configPath) {
				if err := os.WriteFile(configPath, []byte(configTemplate), 0644); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Fprintf(out, "Created %s\n", configPath)
			}

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if fileExists(cfg.ProgressFile) {
				fmt.Fprintf(out, "Progress file %s already exists\n", cfg.ProgressFile)
				return nil
			}
			if _, err := progress.Create(cmd.Context(), cfg.ProgressFile, progress.Project{Name: name}, nil); err != nil {
				return err
			}
			fmt.Fprintf(out, "Created %s for project %s\n", cfg.ProgressFile, name)
			return nil
		},
	}
	cmd.Flags().String("name", "", "Project name (default: project directory name)")
	return cmd
}
