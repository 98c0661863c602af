package models

import (
	"fmt"
	"strings"
)

// ArtifactKind classifies a produced artifact so gates know which shape to expect.
type ArtifactKind string

const (
	ArtifactSource     ArtifactKind = "source"
	ArtifactTest       ArtifactKind = "test"
	ArtifactReview     ArtifactKind = "review"
	ArtifactTestReport ArtifactKind = "test-report"
)

// Artifact is a work product handed to the quality gates.
type Artifact struct {
	Kind    ArtifactKind
	Path    string // Relative path inside the workspace (file artifacts)
	Content string

	// Sandbox the artifact was produced in. Empty for ad-hoc validation.
	Dir      string
	PortBase int
}

// Name returns a label for reports.
func (a *Artifact) Name() string {
	if a.Path != "" {
		return a.Path
	}
	return string(a.Kind)
}

// Severity ranks issues. Critical halts the pipeline.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Blocking reports whether an unresolved issue of this severity fails a phase gate.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Issue is a single finding from a gate.
type Issue struct {
	Gate        string
	Severity    Severity
	Category    string
	Message     string
	Artifact    string
	AutoFixable bool
}

// String renders the issue on one line.
func (i Issue) String() string {
	fix := ""
	if i.AutoFixable {
		fix = " (auto-fixable)"
	}
	return fmt.Sprintf("[%s] %s/%s %s: %s%s", i.Severity, i.Gate, i.Category, i.Artifact, i.Message, fix)
}

// QualityReport is the combined output of one pipeline run.
type QualityReport struct {
	Issues   []Issue
	Halted   bool   // A critical issue stopped the gate sequence
	HaltedBy string // Gate that raised the critical issue
	Passes   int    // Number of gate-sequence executions (1 or 2)
	Fixes    int    // Number of fixer invocations
}

// Passed reports whether no critical or high issue remains.
func (r *QualityReport) Passed() bool {
	if r == nil {
		return true
	}
	for _, issue := range r.Issues {
		if issue.Severity.Blocking() {
			return false
		}
	}
	return true
}

// Merge appends other's findings into r.
func (r *QualityReport) Merge(other *QualityReport) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
	if other.Halted && !r.Halted {
		r.Halted = true
		r.HaltedBy = other.HaltedBy
	}
	if other.Passes > r.Passes {
		r.Passes = other.Passes
	}
	r.Fixes += other.Fixes
}

// CountBySeverity tallies issues per severity.
func (r *QualityReport) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	if r == nil {
		return counts
	}
	for _, issue := range r.Issues {
		counts[issue.Severity]++
	}
	return counts
}

// Summary renders a short one-line description.
func (r *QualityReport) Summary() string {
	if r == nil {
		return "no report"
	}
	counts := r.CountBySeverity()
	parts := []string{}
	for _, sev := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		if counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[sev], sev))
		}
	}
	if len(parts) == 0 {
		return "no issues"
	}
	s := strings.Join(parts, ", ")
	if r.Halted {
		s += fmt.Sprintf(" (halted by %s)", r.HaltedBy)
	}
	return s
}
