package models

import (
	"fmt"
	"time"
)

// WorkspaceKind classifies what a sandbox was created for.
type WorkspaceKind string

const (
	WorkspaceSprint WorkspaceKind = "sprint"
	WorkspaceBugfix WorkspaceKind = "bugfix"
	WorkspaceManual WorkspaceKind = "manual"
)

// ParseWorkspaceKind validates a kind string.
func ParseWorkspaceKind(s string) (WorkspaceKind, error) {
	switch WorkspaceKind(s) {
	case WorkspaceSprint, WorkspaceBugfix, WorkspaceManual:
		return WorkspaceKind(s), nil
	default:
		return "", fmt.Errorf("unknown workspace kind %q (want sprint, bugfix or manual)", s)
	}
}

// WorkspaceHandle is an isolated sandbox: a branch, a working copy and a
// block of network ports reserved for one unit of work.
type WorkspaceHandle struct {
	Kind      WorkspaceKind `yaml:"kind"`
	Key       string        `yaml:"key"`       // Key the handle was created for (sprint id, bug id, ...)
	Branch    string        `yaml:"branch"`    // Derived branch name
	Path      string        `yaml:"path"`      // Working copy location
	PortBase  int           `yaml:"port_base"` // First port of the block
	PortCount int           `yaml:"port_count"`
	CreatedAt time.Time     `yaml:"created_at"`
}

// PortEnd returns the first port after the handle's block.
func (h WorkspaceHandle) PortEnd() int {
	return h.PortBase + h.PortCount
}

// Overlaps reports whether two handles' port blocks intersect.
func (h WorkspaceHandle) Overlaps(other WorkspaceHandle) bool {
	return h.PortBase < other.PortEnd() && other.PortBase < h.PortEnd()
}
