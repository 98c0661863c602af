package models

import "time"

// Outcome distinguishes how a sprint run ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"      // Sprint reached Done
	OutcomeGateFailure Outcome = "gate_failure" // Validation failed without blocking
	OutcomeBlocked     Outcome = "blocked"      // Retries exhausted; waits for a resolver
	OutcomeInterrupted Outcome = "interrupted"  // Cancelled; last committed phase kept
	OutcomeSkipped     Outcome = "skipped"      // Never eligible in this run
	OutcomeFatal       Outcome = "fatal"        // Configuration or I/O failure
)

// SprintResult is the structured result of running one sprint.
type SprintResult struct {
	SprintID    string
	Outcome     Outcome
	Phase       Phase // Status when the run stopped
	Transitions int   // Phase advancements committed during this run
	Report      *QualityReport
	FailurePath string
	Error       error
	Duration    time.Duration
}

// Succeeded returns true for runs that ended in Done.
func (r SprintResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// ExecutionResult aggregates the results of a multi-sprint run.
type ExecutionResult struct {
	RunID     string
	Total     int
	Completed int
	Blocked   int
	Skipped   int
	Failed    int
	Duration  time.Duration
	Results   []SprintResult
}

// Add folds one sprint result into the totals.
func (e *ExecutionResult) Add(r SprintResult) {
	e.Results = append(e.Results, r)
	e.Total++
	switch r.Outcome {
	case OutcomeSuccess:
		e.Completed++
	case OutcomeBlocked:
		e.Blocked++
	case OutcomeSkipped:
		e.Skipped++
	case OutcomeInterrupted:
	default:
		e.Failed++
	}
}
