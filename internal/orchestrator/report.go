package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/cadence/internal/filelock"
	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/quality"
	"github.com/harrison/cadence/internal/workspace"
)

const (
	maxReportIssues = 25
	truncatedMarker = "\n\n_report truncated_\n"
)

// FailureReportPath returns the deterministic location of the failure
// report for (sprintID, phase).
func FailureReportPath(dir, sprintID string, phase models.Phase) string {
	key := workspace.Slug(sprintID)
	if key == "" {
		key = "sprint"
	}
	return filepath.Join(dir, key, string(phase)+".md")
}

// failure is everything known about the attempt that blocked a sprint.
type failure struct {
	Sprint  *models.Sprint
	Phase   models.Phase
	Cause   error
	Report  *models.QualityReport
	Output  string
	Blocked time.Time
}

// renderFailure produces a focused Markdown report capped at limit bytes.
func renderFailure(f failure, limit int) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Sprint %s blocked in %s\n\n", f.Sprint.ID, f.Phase)
	fmt.Fprintf(&b, "- Goal: %s\n", oneLine(f.Sprint.Goal))
	fmt.Fprintf(&b, "- Attempts: %d\n", f.Sprint.RetryCount)
	fmt.Fprintf(&b, "- Blocked at: %s\n", f.Blocked.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Cause: %s\n", failureKind(f.Cause))
	if f.Sprint.Workspace != nil {
		fmt.Fprintf(&b, "- Workspace: %s (%s, ports %d-%d)\n", f.Sprint.Workspace.Path, f.Sprint.Workspace.Branch,
			f.Sprint.Workspace.PortBase, f.Sprint.Workspace.PortEnd()-1)
	}
	if f.Cause != nil {
		fmt.Fprintf(&b, "\n## Error\n\n%s\n", oneLine(f.Cause.Error()))
	}

	if f.Report != nil && len(f.Report.Issues) > 0 {
		fmt.Fprintf(&b, "\n## Issues (%s)\n\n", f.Report.Summary())
		for i, issue := range f.Report.Issues {
			if i == maxReportIssues {
				fmt.Fprintf(&b, "- ... and %d more\n", len(f.Report.Issues)-maxReportIssues)
				break
			}
			fmt.Fprintf(&b, "- %s\n", oneLine(issue.String()))
		}
	}

	if out := quality.Tail(f.Output, limit/2); out != "" {
		fmt.Fprintf(&b, "\n## Worker output (tail)\n\n```\n%s\n```\n", out)
	}

	data := []byte(b.String())
	if limit > 0 && len(data) > limit {
		cut := limit - len(truncatedMarker)
		if cut < 0 {
			cut = 0
		}
		data = append(data[:cut:cut], truncatedMarker...)
	}
	return data
}

// writeFailure renders and atomically writes the failure report, returning
// its path.
func writeFailure(dir string, limit int, f failure) (string, error) {
	path := FailureReportPath(dir, f.Sprint.ID, f.Phase)
	if err := filelock.WriteAtomic(path, renderFailure(f, limit)); err != nil {
		return "", fmt.Errorf("write failure report: %w", err)
	}
	return path, nil
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
