package quality

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/cadence/internal/history"
	"github.com/harrison/cadence/internal/models"
)

// Baseline lists every verification suite that has passed before.
type Baseline interface {
	PassingSuites(ctx context.Context) ([]history.Suite, error)
}

// RegressionGate re-runs every previously passing suite. Any failure is a
// gate failure, no matter which sprint introduced the broken behaviour.
type RegressionGate struct {
	Baseline Baseline
	Runner   CommandRunner
	// OutputTail bounds the command output quoted in an issue.
	OutputTail int
}

// NewRegressionGate creates a regression gate over baseline.
func NewRegressionGate(baseline Baseline, runner CommandRunner) *RegressionGate {
	if runner == nil {
		runner = ShellRunner{}
	}
	return &RegressionGate{Baseline: baseline, Runner: runner, OutputTail: 800}
}

// Name implements Gate.
func (g *RegressionGate) Name() string { return "regression" }

// Check implements Gate.
func (g *RegressionGate) Check(ctx context.Context, a *models.Artifact) Result {
	suites, err := g.Baseline.PassingSuites(ctx)
	if err != nil {
		return fail(issue(models.SeverityHigh, "baseline-unavailable", fmt.Sprintf("cannot read suite baseline: %v", err)))
	}

	var issues []models.Issue
	for _, s := range suites {
		if ctx.Err() != nil {
			issues = append(issues, issue(models.SeverityCritical, "cancelled", ctx.Err().Error()))
			break
		}
		out, err := g.Runner.Run(ctx, a.Dir, s.Command)
		if err == nil {
			continue
		}
		issues = append(issues, issue(models.SeverityHigh, "regression",
			fmt.Sprintf("suite %q (first passed by sprint %s) now fails: %v\n%s", s.Name, s.FirstPassedBy, err, Tail(out, g.OutputTail))))
	}
	return Result{Passed: len(issues) == 0, Issues: issues}
}

// Tail returns the last n bytes of s, trimmed to a line boundary.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return "..." + s
}
