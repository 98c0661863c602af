package models

import (
	"fmt"
	"strings"
)

// Phase is a named state in the sprint lifecycle.
type Phase string

const (
	PhasePending        Phase = "Pending"
	PhaseWriteUnitTests Phase = "WriteUnitTests"
	PhaseWriteCode      Phase = "WriteCode"
	PhaseCodeReview     Phase = "CodeReview"
	PhaseRunUnitTests   Phase = "RunUnitTests"
	PhaseWriteE2ETests  Phase = "WriteE2ETests"
	PhaseRunE2ETests    Phase = "RunE2ETests"
	PhaseComplete       Phase = "Complete"
	PhaseDone           Phase = "Done"

	// PhaseBlocked is reachable from any phase once retries are exhausted.
	// Only an explicit rollback moves a sprint out of it.
	PhaseBlocked Phase = "Blocked"
)

// phaseGraph is the linear pipeline, Blocked excluded.
var phaseGraph = []Phase{
	PhasePending,
	PhaseWriteUnitTests,
	PhaseWriteCode,
	PhaseCodeReview,
	PhaseRunUnitTests,
	PhaseWriteE2ETests,
	PhaseRunE2ETests,
	PhaseComplete,
	PhaseDone,
}

// AllPhases returns the pipeline phases in execution order.
func AllPhases() []Phase {
	out := make([]Phase, len(phaseGraph))
	copy(out, phaseGraph)
	return out
}

// Index returns the position of p in the pipeline, or -1 for Blocked and unknown phases.
func (p Phase) Index() int {
	for i, candidate := range phaseGraph {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a pipeline phase or Blocked.
func (p Phase) Valid() bool {
	return p == PhaseBlocked || p.Index() >= 0
}

// Next returns the phase following p. Done and Blocked have no successor.
func (p Phase) Next() (Phase, bool) {
	idx := p.Index()
	if idx < 0 || idx >= len(phaseGraph)-1 {
		return "", false
	}
	return phaseGraph[idx+1], true
}

// Terminal reports whether no automatic progress happens from p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseBlocked
}

// Role returns the worker role bound to p. Pending, Complete, Done and
// Blocked have no worker.
func (p Phase) Role() Role {
	switch p {
	case PhaseWriteUnitTests:
		return RoleUnitTestWriter
	case PhaseWriteCode:
		return RoleCoder
	case PhaseCodeReview:
		return RoleReviewer
	case PhaseRunUnitTests:
		return RoleUnitTestRunner
	case PhaseWriteE2ETests:
		return RoleE2ETestWriter
	case PhaseRunE2ETests:
		return RoleE2ETestRunner
	default:
		return ""
	}
}

// ExpectedArtifact returns the artifact kind the phase's worker must produce.
func (p Phase) ExpectedArtifact() ArtifactKind {
	switch p {
	case PhaseWriteUnitTests, PhaseWriteE2ETests:
		return ArtifactTest
	case PhaseWriteCode:
		return ArtifactSource
	case PhaseCodeReview:
		return ArtifactReview
	case PhaseRunUnitTests, PhaseRunE2ETests:
		return ArtifactTestReport
	default:
		return ""
	}
}

// RunsVerification reports whether p executes a verification suite.
func (p Phase) RunsVerification() bool {
	return p == PhaseRunUnitTests || p == PhaseRunE2ETests
}

// ParsePhase resolves canonical names ("WriteCode") as well as the legacy
// snake_case spelling ("write_code"), case-insensitively.
func ParsePhase(s string) (Phase, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	if normalized == strings.ToLower(string(PhaseBlocked)) {
		return PhaseBlocked, nil
	}
	for _, p := range phaseGraph {
		if strings.ToLower(string(p)) == normalized {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Role names an external worker capability.
type Role string

const (
	RoleUnitTestWriter Role = "unit-test-writer"
	RoleCoder          Role = "coder"
	RoleReviewer       Role = "reviewer"
	RoleUnitTestRunner Role = "unit-test-runner"
	RoleE2ETestWriter  Role = "e2e-test-writer"
	RoleE2ETestRunner  Role = "e2e-test-runner"
)

// Writes reports whether the role produces files in the workspace rather
// than a structured report.
func (r Role) Writes() bool {
	return r == RoleUnitTestWriter || r == RoleCoder || r == RoleE2ETestWriter
}
