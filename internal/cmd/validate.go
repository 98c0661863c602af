package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrison/cadence/internal/filelock"
	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/orchestrator"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Run the quality gates against one artifact",
		Long: `Validate runs the schema and output-shape gates against a file, exactly
as a phase worker's artifact would be checked.

Kinds: source, test, review, test-report.

With --fix, auto-fixable findings are repaired (one fix pass, then the
gates re-run once) and the repaired content is written back to the file.

Exit code: 0 if the artifact passes, 1 if critical or high issues remain.`,
		Args: cobra.ExactArgs(1),
		RunE: validateCommand,
	}
	cmd.Flags().String("kind", "", "Artifact kind (required)")
	cmd.Flags().Bool("fix", false, "Apply auto-fixes and write the result back")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func validateCommand(cmd *cobra.Command, args []string) error {
	kindFlag, _ := cmd.Flags().GetString("kind")
	fix, _ := cmd.Flags().GetBool("fix")

	kind := models.ArtifactKind(kindFlag)
	switch kind {
	case models.ArtifactSource, models.ArtifactTest, models.ArtifactReview, models.ArtifactTestReport:
	default:
		return fmt.Errorf("unknown artifact kind %q (want source, test, review or test-report)", kindFlag)
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	a := &models.Artifact{
		Kind:    kind,
		Path:    filepath.Base(path),
		Dir:     filepath.Dir(path),
		Content: string(data),
	}
	report, gateErr := orchestrator.ValidateArtifact(cmd.Context(), gatePipeline(nil), a, fix)
	if report == nil {
		return gateErr
	}

	out := cmd.OutOrStdout()
	if len(report.Issues) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(out)
		tw.AppendHeader(table.Row{"Severity", "Gate", "Category", "Message", "Fixable"})
		for _, is := range report.Issues {
			fixable := ""
			if is.AutoFixable {
				fixable = "yes"
			}
			tw.AppendRow(table.Row{is.Severity, is.Gate, is.Category, is.Message, fixable})
		}
		tw.Render()
	}

	if fix && report.Fixes > 0 && a.Content != string(data) {
		if err := filelock.WriteAtomic(path, []byte(a.Content)); err != nil {
			return fmt.Errorf("write fixed artifact: %w", err)
		}
		fmt.Fprintf(out, "Applied %d fix(es) to %s\n", report.Fixes, args[0])
	}

	if gateErr != nil {
		return gateErr
	}
	fmt.Fprintf(out, "%s: passed (%s)\n", args[0], report.Summary())
	return nil
}
