package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/progress"
	"github.com/harrison/cadence/internal/workspace"
)

// ConfigurationError is fatal and aborts before any work starts.
type ConfigurationError = models.ConfigurationError

var (
	// ErrWorkspaceBusy is returned when a sprint's workspace is mid-merge.
	ErrWorkspaceBusy = workspace.ErrWorkspaceBusy

	// ErrSprintNotFound is returned for ids absent from the progress store.
	ErrSprintNotFound = progress.ErrSprintNotFound

	// ErrSprintInFlight is returned when a sprint already has a run or
	// rollback in progress.
	ErrSprintInFlight = errors.New("sprint already in flight")

	// ErrForwardRollback is returned when a rollback target lies ahead of
	// the sprint's current phase.
	ErrForwardRollback = errors.New("rollback target is ahead of the current phase")
)

// WorkerInvocationError reports a worker that failed or returned a
// non-success result. It counts toward the sprint's retry budget.
type WorkerInvocationError struct {
	SprintID string
	Role     models.Role
	Message  string
	Err      error
}

// Error implements the error interface for WorkerInvocationError.
func (e *WorkerInvocationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("sprint %s: worker %s: %s", e.SprintID, e.Role, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *WorkerInvocationError) Unwrap() error {
	return e.Err
}

// QualityGateFailure reports artifacts that still carry blocking issues
// after the bounded auto-fix pass.
type QualityGateFailure struct {
	SprintID string
	Phase    models.Phase
	Report   *models.QualityReport
}

// Error implements the error interface for QualityGateFailure.
func (e *QualityGateFailure) Error() string {
	if e.SprintID == "" {
		return fmt.Sprintf("quality gate failed: %s", e.Report.Summary())
	}
	return fmt.Sprintf("sprint %s: quality gate failed in %s: %s", e.SprintID, e.Phase, e.Report.Summary())
}

// TimeoutError reports a phase attempt that ran past its deadline.
type TimeoutError struct {
	SprintID string
	Phase    models.Phase
	After    time.Duration
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sprint %s: %s timed out after %v", e.SprintID, e.Phase, e.After.Round(time.Millisecond))
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// RunawayPipelineError is returned when a sprint exceeds the iteration
// ceiling. It is fatal regardless of the sprint's state.
type RunawayPipelineError struct {
	SprintID   string
	Iterations int
	Phase      models.Phase
}

// Error implements the error interface for RunawayPipelineError.
func (e *RunawayPipelineError) Error() string {
	return fmt.Sprintf("sprint %s: runaway pipeline: %d iterations without finishing (stuck in %s)", e.SprintID, e.Iterations, e.Phase)
}

// IsWorkerInvocationError checks if the error is or wraps a WorkerInvocationError.
func IsWorkerInvocationError(err error) bool {
	var e *WorkerInvocationError
	return errors.As(err, &e)
}

// IsQualityGateFailure checks if the error is or wraps a QualityGateFailure.
func IsQualityGateFailure(err error) bool {
	var e *QualityGateFailure
	return errors.As(err, &e)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRunawayPipeline checks if the error is or wraps a RunawayPipelineError.
func IsRunawayPipeline(err error) bool {
	var e *RunawayPipelineError
	return errors.As(err, &e)
}

// IsFatal reports whether err must propagate out of a run instead of being
// converted into a retry or block decision.
func IsFatal(err error) bool {
	return models.IsConfigurationError(err) || IsRunawayPipeline(err)
}

// failureKind labels a phase failure for metrics and reports.
func failureKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsQualityGateFailure(err):
		return "gate"
	case IsTimeoutError(err):
		return "timeout"
	case workspace.IsMergeConflict(err):
		return "merge-conflict"
	case workspace.IsResourceExhaustion(err):
		return "resource-exhaustion"
	case IsWorkerInvocationError(err):
		return "worker"
	case errors.Is(err, ErrWorkspaceBusy):
		return "workspace-busy"
	default:
		return "io"
	}
}
