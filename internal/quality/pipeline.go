// Package quality validates produced artifacts through an ordered set of
// independent gates, optionally applying mechanical fixes.
package quality

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/harrison/cadence/internal/metrics"
	"github.com/harrison/cadence/internal/models"
)

// Result is the verdict of a single gate.
type Result struct {
	Passed bool
	Issues []models.Issue
}

// Gate is a named validator. Check must not mutate the artifact.
type Gate interface {
	Name() string
	Check(ctx context.Context, artifact *models.Artifact) Result
}

// Fixer is implemented by gates that can repair their own auto-fixable issues.
type Fixer interface {
	Fix(ctx context.Context, artifact *models.Artifact, issue models.Issue) error
}

// CommandRunner abstracts shell command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (output string, err error)
}

// ShellRunner executes commands via sh -c.
type ShellRunner struct{}

// Run executes command in dir and returns combined stdout/stderr.
func (ShellRunner) Run(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// Pipeline runs gates strictly in order.
type Pipeline struct {
	gates   []Gate
	metrics *metrics.Collector
}

// NewPipeline creates a pipeline over gates, in execution order.
func NewPipeline(gates ...Gate) *Pipeline {
	return &Pipeline{gates: gates}
}

// WithMetrics records every raised issue on c.
func (p *Pipeline) WithMetrics(c *metrics.Collector) *Pipeline {
	p.metrics = c
	return p
}

// With returns a new pipeline with extra gates appended.
func (p *Pipeline) With(gates ...Gate) *Pipeline {
	all := make([]Gate, 0, len(p.gates)+len(gates))
	all = append(all, p.gates...)
	all = append(all, gates...)
	return &Pipeline{gates: all, metrics: p.metrics}
}

// Gates returns the gate names in order.
func (p *Pipeline) Gates() []string {
	names := make([]string, len(p.gates))
	for i, g := range p.gates {
		names[i] = g.Name()
	}
	return names
}

// Run validates artifact. A critical issue stops the sequence and the
// remaining gates are skipped.
//
// With fix set, every auto-fixable issue of the first pass goes to its
// gate's fixer once and the whole sequence runs one more time. There is
// never a third pass.
func (p *Pipeline) Run(ctx context.Context, artifact *models.Artifact, fix bool) *models.QualityReport {
	report := p.pass(ctx, artifact)
	report.Passes = 1
	if !fix {
		return report
	}

	var fixNotes []models.Issue
	fixes := 0
	for _, issue := range report.Issues {
		if !issue.AutoFixable {
			continue
		}
		fixer := p.fixerFor(issue.Gate)
		if fixer == nil {
			continue
		}
		fixes++
		if err := fixer.Fix(ctx, artifact, issue); err != nil {
			fixNotes = append(fixNotes, models.Issue{
				Gate:     issue.Gate,
				Severity: models.SeverityLow,
				Category: "fix-failed",
				Message:  fmt.Sprintf("auto-fix for %q failed: %v", issue.Category, err),
				Artifact: artifact.Name(),
			})
		}
	}
	if fixes == 0 {
		return report
	}

	final := p.pass(ctx, artifact)
	final.Passes = 2
	final.Fixes = fixes
	final.Issues = append(final.Issues, fixNotes...)
	return final
}

func (p *Pipeline) pass(ctx context.Context, artifact *models.Artifact) *models.QualityReport {
	report := &models.QualityReport{}
	for _, gate := range p.gates {
		if err := ctx.Err(); err != nil {
			report.Issues = append(report.Issues, models.Issue{
				Gate:     gate.Name(),
				Severity: models.SeverityCritical,
				Category: "cancelled",
				Message:  fmt.Sprintf("validation interrupted: %v", err),
				Artifact: artifact.Name(),
			})
			report.Halted = true
			report.HaltedBy = gate.Name()
			return report
		}

		res := gate.Check(ctx, artifact)
		issues := res.Issues
		if !res.Passed && len(issues) == 0 {
			issues = []models.Issue{{
				Severity: models.SeverityHigh,
				Category: "failed",
				Message:  "gate failed without reporting issues",
			}}
		}

		critical := false
		for _, issue := range issues {
			if issue.Gate == "" {
				issue.Gate = gate.Name()
			}
			if issue.Artifact == "" {
				issue.Artifact = artifact.Name()
			}
			p.metrics.RecordIssue(issue.Gate, string(issue.Severity))
			report.Issues = append(report.Issues, issue)
			if issue.Severity == models.SeverityCritical {
				critical = true
			}
		}
		if critical {
			report.Halted = true
			report.HaltedBy = gate.Name()
			return report
		}
	}
	return report
}

func (p *Pipeline) fixerFor(gateName string) Fixer {
	for _, g := range p.gates {
		if g.Name() != gateName {
			continue
		}
		if f, ok := g.(Fixer); ok {
			return f
		}
	}
	return nil
}
