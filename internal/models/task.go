package models

import "errors"

// Task status values
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusSkipped    = "skipped"
)

// Task represents a single unit of planned work inside a sprint.
// A task has no lifecycle of its own; it is owned and persisted by its sprint.
type Task struct {
	Title              string   `yaml:"title"`                         // Short task title
	Description        string   `yaml:"description,omitempty"`         // Full task description
	Type               string   `yaml:"type,omitempty"`                // feature, bugfix, chore, ...
	AcceptanceCriteria []string `yaml:"acceptance_criteria,omitempty"` // Criteria checked by reviewers
	Status             string   `yaml:"status,omitempty"`              // pending, in_progress, completed, skipped
}

// Validate checks if the task has all required fields
func (t *Task) Validate() error {
	if t.Title == "" {
		return errors.New("task title is required")
	}
	switch t.Status {
	case "", TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusSkipped:
		return nil
	default:
		return errors.New("task status " + t.Status + " is not recognized")
	}
}

// IsCompleted returns true if the task status is "completed"
func (t *Task) IsCompleted() bool {
	return t.Status == TaskStatusCompleted
}
