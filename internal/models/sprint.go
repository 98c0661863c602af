package models

import (
	"errors"
	"fmt"
	"time"
)

// Estimate holds the planning effort for a sprint.
type Estimate struct {
	Points int     `yaml:"points,omitempty"`
	Hours  float64 `yaml:"hours,omitempty"`
}

// Sprint is an atomic planned unit of work advancing through the phase graph.
// It is owned by the orchestrator and only mutated through phase transitions.
type Sprint struct {
	ID           string           `yaml:"id"`
	Goal         string           `yaml:"goal"`
	Status       Phase            `yaml:"status"`
	RetryCount   int              `yaml:"retry_count"`
	BlockedPhase Phase            `yaml:"blocked_phase,omitempty"` // Phase that exhausted its retries
	Estimate     Estimate         `yaml:"estimate,omitempty"`
	DependsOn    []string         `yaml:"depends_on,omitempty"`
	Tasks        []Task           `yaml:"tasks,omitempty"`
	Workspace    *WorkspaceHandle `yaml:"workspace,omitempty"` // Live sandbox, nil when none
	LastFailure  string           `yaml:"last_failure,omitempty"`
	CreatedAt    time.Time        `yaml:"created_at"`
	UpdatedAt    time.Time        `yaml:"updated_at"`
	StartedAt    *time.Time       `yaml:"started_at,omitempty"`
	CompletedAt  *time.Time       `yaml:"completed_at,omitempty"`
}

// Validate checks if the sprint has all required fields and a known status.
func (s *Sprint) Validate() error {
	if s.ID == "" {
		return errors.New("sprint id is required")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("sprint %s: unknown status %q", s.ID, s.Status)
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("sprint %s: retry_count must be >= 0, got %d", s.ID, s.RetryCount)
	}
	if s.BlockedPhase != "" && s.BlockedPhase.Index() < 0 {
		return fmt.Errorf("sprint %s: blocked_phase %q is not a pipeline phase", s.ID, s.BlockedPhase)
	}
	for i := range s.Tasks {
		if err := s.Tasks[i].Validate(); err != nil {
			return fmt.Errorf("sprint %s task %d: %w", s.ID, i+1, err)
		}
	}
	for _, dep := range s.DependsOn {
		if dep == s.ID {
			return fmt.Errorf("sprint %s: depends on itself", s.ID)
		}
	}
	return nil
}

// IsDone returns true once the sprint reached Done.
func (s *Sprint) IsDone() bool {
	return s.Status == PhaseDone
}

// IsBlocked returns true while the sprint waits for an external resolver.
func (s *Sprint) IsBlocked() bool {
	return s.Status == PhaseBlocked
}

// Clone returns a deep copy so a transition can be prepared without
// touching the committed record.
func (s *Sprint) Clone() *Sprint {
	if s == nil {
		return nil
	}
	c := *s
	if s.DependsOn != nil {
		c.DependsOn = append([]string(nil), s.DependsOn...)
	}
	if s.Tasks != nil {
		c.Tasks = make([]Task, len(s.Tasks))
		for i, t := range s.Tasks {
			c.Tasks[i] = t
			if t.AcceptanceCriteria != nil {
				c.Tasks[i].AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)
			}
		}
	}
	if s.Workspace != nil {
		ws := *s.Workspace
		c.Workspace = &ws
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Advance moves the sprint to the next phase along the graph and resets
// the retry counter. It refuses to move a terminal sprint.
func (s *Sprint) Advance(now time.Time) (Phase, error) {
	next, ok := s.Status.Next()
	if !ok {
		return "", fmt.Errorf("sprint %s: no phase follows %s", s.ID, s.Status)
	}
	s.Status = next
	s.RetryCount = 0
	s.UpdatedAt = now
	if s.StartedAt == nil {
		started := now
		s.StartedAt = &started
	}
	if next == PhaseDone {
		completed := now
		s.CompletedAt = &completed
	}
	return next, nil
}

// RecordFailure increments the retry counter. When the counter reaches
// maxRetries the sprint moves to Blocked and true is returned.
func (s *Sprint) RecordFailure(maxRetries int, now time.Time) bool {
	s.RetryCount++
	s.UpdatedAt = now
	if s.RetryCount >= maxRetries {
		s.BlockedPhase = s.Status
		s.Status = PhaseBlocked
		return true
	}
	return false
}

// Block moves the sprint to Blocked immediately, independent of retries.
func (s *Sprint) Block(now time.Time) {
	if s.Status != PhaseBlocked {
		s.BlockedPhase = s.Status
		s.Status = PhaseBlocked
	}
	s.UpdatedAt = now
}

// ResetTo places the sprint at target with a cleared retry counter.
// Used only by explicit external rollback.
func (s *Sprint) ResetTo(target Phase, now time.Time) error {
	if target.Index() < 0 || target == PhaseDone {
		return fmt.Errorf("cannot roll back to %q", target)
	}
	s.Status = target
	s.RetryCount = 0
	s.BlockedPhase = ""
	s.LastFailure = ""
	s.CompletedAt = nil
	s.UpdatedAt = now
	return nil
}

// CurrentPhase returns the phase the sprint is working on, resolving Blocked
// to the phase that exhausted its retries.
func (s *Sprint) CurrentPhase() Phase {
	if s.Status == PhaseBlocked && s.BlockedPhase != "" {
		return s.BlockedPhase
	}
	return s.Status
}
