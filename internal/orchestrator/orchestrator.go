// Package orchestrator drives sprints through the phase graph.
//
// Each sprint runs strictly sequentially: invoke the worker bound to the
// current phase, gate its artifacts, then commit exactly one transition to
// the progress store. Failures are converted into retry or block decisions
// here and never unwind past RunSprint. Independent sprints run
// concurrently under the scheduler in scheduler.go.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harrison/cadence/internal/history"
	"github.com/harrison/cadence/internal/metrics"
	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/quality"
	"github.com/harrison/cadence/internal/workspace"
)

// Logger defines the interface for logging orchestrator progress and results.
type Logger interface {
	LogSprintStart(sprint *models.Sprint)
	LogPhaseStart(sprintID string, phase models.Phase, attempt int)
	LogPhaseComplete(sprintID string, from, to models.Phase, duration time.Duration)
	LogPhaseFailure(sprintID string, phase models.Phase, retryCount int, err error)
	LogSprintBlocked(sprintID string, phase models.Phase, reportPath string)
	LogSprintResult(result models.SprintResult)
	LogSummary(result models.ExecutionResult)
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// SprintStore is the progress store as seen by the orchestrator.
type SprintStore interface {
	Sprint(id string) (*models.Sprint, error)
	Sprints() []*models.Sprint
	UpdateSprint(ctx context.Context, sprint *models.Sprint) error
}

// Workspaces is the workspace isolation manager as seen by the orchestrator.
type Workspaces interface {
	Create(ctx context.Context, kind models.WorkspaceKind, key string) (*models.WorkspaceHandle, error)
	Merge(ctx context.Context, h *models.WorkspaceHandle) error
	Delete(ctx context.Context, h *models.WorkspaceHandle) error
	Checkpoint(ctx context.Context, h *models.WorkspaceHandle, message string) (bool, error)
	Get(branch string) (models.WorkspaceHandle, bool)
	IsMerging(branch string) bool
}

// History records the audit trail and the verification suite baseline.
type History interface {
	RecordTransition(ctx context.Context, t *history.Transition) error
	RecordSuitePass(ctx context.Context, name, command string, phase models.Phase, sprintID string, at time.Time) error
	PassingSuites(ctx context.Context) ([]history.Suite, error)
}

// Suite is a verification suite bound to a Run* phase.
type Suite struct {
	Name    string
	Command string
	Phase   models.Phase
}

// Config wires an Orchestrator.
type Config struct {
	Store      SprintStore
	Workspaces Workspaces
	Worker     Worker
	History    History            // Optional
	Logger     Logger             // Optional
	Metrics    *metrics.Collector // Optional

	// Gates is run against every worker artifact. Verification gates are
	// appended for phases that run a verification suite.
	Gates             *quality.Pipeline
	VerificationGates []quality.Gate

	Suites      []Suite
	SuiteRunner quality.CommandRunner // Defaults to quality.ShellRunner

	MaxRetries    int // Consecutive failures that block a sprint
	MaxIterations int // Loop ceiling per RunSprint
	Concurrency   int
	AutoFix       bool
	FailureDir    string
	ReportLimit   int
	Documents     []string

	Now func() time.Time
}

// Orchestrator owns the phase state machine of every sprint.
type Orchestrator struct {
	cfg          Config
	log          Logger
	gates        *quality.Pipeline
	verification *quality.Pipeline

	mu       sync.Mutex
	inFlight map[string]bool
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("progress store is required")
	}
	if cfg.Workspaces == nil {
		return nil, errors.New("workspace manager is required")
	}
	if cfg.Worker == nil {
		return nil, errors.New("worker is required")
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max retries must be >= 1, got %d", cfg.MaxRetries)
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 50
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Gates == nil {
		cfg.Gates = quality.NewPipeline(quality.NewSchemaGate(), quality.NewShapeGate())
	}
	if cfg.SuiteRunner == nil {
		cfg.SuiteRunner = quality.ShellRunner{}
	}
	if cfg.FailureDir == "" {
		cfg.FailureDir = "failures"
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	o := &Orchestrator{
		cfg:      cfg,
		log:      cfg.Logger,
		gates:    cfg.Gates,
		inFlight: make(map[string]bool),
	}
	if o.log == nil {
		o.log = nopLogger{}
	}
	o.verification = cfg.Gates.With(cfg.VerificationGates...)
	return o, nil
}

// acquire marks id as in flight. It fails when a run or rollback already
// holds the sprint, which keeps worker invocations per sprint at one.
func (o *Orchestrator) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[id] {
		return false
	}
	o.inFlight[id] = true
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inFlight, id)
	o.mu.Unlock()
}

// InFlight reports whether id currently has a run in progress.
func (o *Orchestrator) InFlight(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight[id]
}

// attempt is the outcome of one phase attempt before it is committed.
type attempt struct {
	report    *models.QualityReport
	output    string
	workspace *models.WorkspaceHandle // Handle to store after the attempt
	dropWS    bool                    // Workspace was merged away
	err       error
}

// RunSprint drives one sprint until it is Done, Blocked, interrupted or
// the iteration ceiling is hit. Running a Done sprint is a no-op success.
func (o *Orchestrator) RunSprint(ctx context.Context, id string) models.SprintResult {
	return o.runSprint(ctx, uuid.NewString(), id)
}

func (o *Orchestrator) runSprint(ctx context.Context, runID, id string) models.SprintResult {
	start := time.Now()
	result := models.SprintResult{SprintID: id}
	finish := func(outcome models.Outcome, phase models.Phase, err error) models.SprintResult {
		result.Outcome = outcome
		result.Phase = phase
		result.Error = err
		result.Duration = time.Since(start)
		o.log.LogSprintResult(result)
		return result
	}

	if !o.acquire(id) {
		return finish(models.OutcomeFatal, "", fmt.Errorf("sprint %s: %w", id, ErrSprintInFlight))
	}
	defer o.release(id)

	sprint, err := o.cfg.Store.Sprint(id)
	if err != nil {
		return finish(models.OutcomeFatal, "", err)
	}
	switch sprint.Status {
	case models.PhaseDone:
		return finish(models.OutcomeSuccess, sprint.Status, nil)
	case models.PhaseBlocked:
		result.FailurePath = sprint.LastFailure
		return finish(models.OutcomeBlocked, sprint.Status, nil)
	}

	o.log.LogSprintStart(sprint)
	var feedback []models.Issue

	for iteration := 0; ; iteration++ {
		if iteration >= o.cfg.MaxIterations {
			return finish(models.OutcomeFatal, sprint.Status, &RunawayPipelineError{
				SprintID: id, Iterations: iteration, Phase: sprint.Status,
			})
		}
		if ctx.Err() != nil {
			return finish(models.OutcomeInterrupted, sprint.Status, ctx.Err())
		}

		phase := sprint.Status
		attemptNo := sprint.RetryCount + 1
		o.log.LogPhaseStart(id, phase, attemptNo)
		phaseStart := time.Now()

		at := o.execute(ctx, sprint, attemptNo, feedback)
		o.cfg.Metrics.ObservePhase(string(phase), time.Since(phaseStart))
		result.Report = at.report

		// An interrupted attempt is abandoned without touching the record.
		if at.err != nil && ctx.Err() != nil {
			return finish(models.OutcomeInterrupted, phase, ctx.Err())
		}

		if at.err == nil {
			next, err := o.commitAdvance(ctx, runID, sprint, at, time.Since(phaseStart))
			if err != nil {
				return finish(models.OutcomeFatal, phase, err)
			}
			sprint = next
			feedback = nil
			result.Transitions++
			if sprint.IsDone() {
				return finish(models.OutcomeSuccess, sprint.Status, nil)
			}
			continue
		}

		next, err := o.commitFailure(ctx, runID, sprint, at)
		if err != nil {
			return finish(models.OutcomeFatal, phase, err)
		}
		sprint = next
		if at.report != nil {
			feedback = at.report.Issues
		}
		if sprint.IsBlocked() {
			result.FailurePath = sprint.LastFailure
			return finish(models.OutcomeBlocked, sprint.Status, at.err)
		}
	}
}

// execute performs the work of sprint's current phase without mutating
// the committed record.
func (o *Orchestrator) execute(ctx context.Context, sprint *models.Sprint, attemptNo int, feedback []models.Issue) attempt {
	phase := sprint.Status
	switch phase {
	case models.PhasePending:
		h, err := o.ensureWorkspace(ctx, sprint)
		return attempt{workspace: h, err: err}

	case models.PhaseComplete:
		return o.complete(ctx, sprint)
	}

	if phase.Role() == "" {
		return attempt{err: fmt.Errorf("sprint %s: phase %s has no worker", sprint.ID, phase)}
	}

	h, err := o.ensureWorkspace(ctx, sprint)
	if err != nil {
		return attempt{err: err}
	}
	working := sprint.Clone()
	working.Workspace = h
	at := o.invoke(ctx, working, attemptNo, feedback)
	at.workspace = h
	return at
}

// ensureWorkspace returns the sprint's live workspace, creating one when
// the sprint has none or the recorded one is gone.
func (o *Orchestrator) ensureWorkspace(ctx context.Context, sprint *models.Sprint) (*models.WorkspaceHandle, error) {
	if sprint.Workspace != nil {
		if h, ok := o.cfg.Workspaces.Get(sprint.Workspace.Branch); ok {
			return &h, nil
		}
		o.log.Warnf("sprint %s: workspace %s is gone, recreating", sprint.ID, sprint.Workspace.Branch)
	}
	return o.cfg.Workspaces.Create(ctx, models.WorkspaceSprint, sprint.ID)
}

// invoke runs the worker for the current phase and gates its artifacts.
func (o *Orchestrator) invoke(ctx context.Context, sprint *models.Sprint, attemptNo int, feedback []models.Issue) attempt {
	phase := sprint.Status
	role := phase.Role()
	wc := o.buildContext(sprint, attemptNo, feedback)

	started := time.Now()
	res, err := o.cfg.Worker.Invoke(ctx, role, wc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return attempt{output: res.RawOutput, err: &TimeoutError{SprintID: sprint.ID, Phase: phase, After: time.Since(started)}}
		}
		return attempt{output: res.RawOutput, err: &WorkerInvocationError{
			SprintID: sprint.ID, Role: role, Message: "invocation failed", Err: err,
		}}
	}
	if !res.Success {
		return attempt{output: res.RawOutput, err: &WorkerInvocationError{
			SprintID: sprint.ID, Role: role, Message: "worker reported failure",
		}}
	}

	artifacts := res.Artifacts
	if len(artifacts) == 0 {
		artifacts = []models.Artifact{{Kind: phase.ExpectedArtifact()}}
	}

	pipeline := o.gates
	if phase.RunsVerification() {
		pipeline = o.verification
	}

	report := &models.QualityReport{}
	for i := range artifacts {
		a := &artifacts[i]
		if a.Kind == "" {
			a.Kind = phase.ExpectedArtifact()
		}
		a.Dir = wc.Dir()
		if sprint.Workspace != nil {
			a.PortBase = sprint.Workspace.PortBase
		}
		report.Merge(pipeline.Run(ctx, a, o.cfg.AutoFix))
		if report.Halted {
			break
		}
	}

	at := attempt{report: report, output: res.RawOutput}
	if !report.Passed() {
		at.err = &QualityGateFailure{SprintID: sprint.ID, Phase: phase, Report: report}
		return at
	}

	if phase.RunsVerification() {
		if issues := o.verifySuites(ctx, sprint, wc.Dir()); len(issues) > 0 {
			report.Issues = append(report.Issues, issues...)
			at.err = &QualityGateFailure{SprintID: sprint.ID, Phase: phase, Report: report}
			return at
		}
	}

	if sprint.Workspace != nil {
		msg := models.CheckpointMessage(sprint, phase).String()
		if _, err := o.cfg.Workspaces.Checkpoint(ctx, sprint.Workspace, msg); err != nil {
			at.err = fmt.Errorf("checkpoint %s: %w", sprint.Workspace.Branch, err)
		}
	}
	return at
}

// verifySuites runs the suites bound to the sprint's phase that are not yet
// part of the baseline (the regression gate already ran those) and records
// every passing suite.
func (o *Orchestrator) verifySuites(ctx context.Context, sprint *models.Sprint, dir string) []models.Issue {
	phase := sprint.Status
	known := make(map[string]bool)
	if o.cfg.History != nil {
		baseline, err := o.cfg.History.PassingSuites(ctx)
		if err != nil {
			o.log.Warnf("sprint %s: cannot read suite baseline: %v", sprint.ID, err)
		}
		for _, s := range baseline {
			known[s.Name] = true
		}
	}

	var issues []models.Issue
	for _, suite := range o.cfg.Suites {
		if suite.Phase != phase {
			continue
		}
		if !known[suite.Name] {
			out, err := o.cfg.SuiteRunner.Run(ctx, dir, suite.Command)
			if err != nil {
				issues = append(issues, models.Issue{
					Gate:     "suites",
					Severity: models.SeverityHigh,
					Category: "suite-failed",
					Message:  fmt.Sprintf("suite %q failed: %v\n%s", suite.Name, err, quality.Tail(out, 800)),
					Artifact: suite.Name,
				})
				continue
			}
		}
		if o.cfg.History != nil {
			if err := o.cfg.History.RecordSuitePass(ctx, suite.Name, suite.Command, phase, sprint.ID, o.cfg.Now()); err != nil {
				o.log.Warnf("sprint %s: %v", sprint.ID, err)
			}
		}
	}
	return issues
}

// complete merges the sprint's workspace into the integration line.
func (o *Orchestrator) complete(ctx context.Context, sprint *models.Sprint) attempt {
	if sprint.Workspace == nil {
		return attempt{dropWS: true}
	}
	h, ok := o.cfg.Workspaces.Get(sprint.Workspace.Branch)
	if !ok {
		o.log.Warnf("sprint %s: workspace %s already gone, nothing to merge", sprint.ID, sprint.Workspace.Branch)
		return attempt{dropWS: true}
	}
	if err := o.cfg.Workspaces.Merge(ctx, &h); err != nil {
		return attempt{workspace: &h, err: err}
	}
	return attempt{dropWS: true}
}

// commitAdvance persists the transition to the next phase.
func (o *Orchestrator) commitAdvance(ctx context.Context, runID string, sprint *models.Sprint, at attempt, took time.Duration) (*models.Sprint, error) {
	now := o.cfg.Now()
	next := sprint.Clone()
	if at.workspace != nil {
		next.Workspace = at.workspace
	}
	if at.dropWS {
		next.Workspace = nil
	}
	next.LastFailure = ""
	to, err := next.Advance(now)
	if err != nil {
		return nil, err
	}

	// Persisting must survive cancellation so no sprint is left half-advanced.
	if err := o.cfg.Store.UpdateSprint(context.WithoutCancel(ctx), next); err != nil {
		return nil, fmt.Errorf("persist sprint %s: %w", sprint.ID, err)
	}

	o.cfg.Metrics.RecordTransition(string(to))
	o.log.LogPhaseComplete(sprint.ID, sprint.Status, to, took)
	o.audit(ctx, &history.Transition{
		RunID: runID, SprintID: sprint.ID, From: sprint.Status, To: to,
		Outcome: history.OutcomeAdvanced, Detail: reportDetail(at.report),
	})
	return next, nil
}

// commitFailure counts the failure, blocks the sprint when the retry budget
// is spent or the cause needs an operator, and persists the result.
func (o *Orchestrator) commitFailure(ctx context.Context, runID string, sprint *models.Sprint, at attempt) (*models.Sprint, error) {
	now := o.cfg.Now()
	phase := sprint.Status
	next := sprint.Clone()
	if at.workspace != nil {
		next.Workspace = at.workspace
	}

	var blocked bool
	if workspace.IsResourceExhaustion(at.err) {
		next.RetryCount++
		next.Block(now)
		blocked = true
	} else {
		blocked = next.RecordFailure(o.cfg.MaxRetries, now)
	}

	kind := failureKind(at.err)
	o.cfg.Metrics.RecordFailure(string(phase), kind)
	o.log.LogPhaseFailure(sprint.ID, phase, next.RetryCount, at.err)

	outcome := history.OutcomeFailed
	if blocked {
		outcome = history.OutcomeBlocked
		path, err := writeFailure(o.cfg.FailureDir, o.cfg.ReportLimit, failure{
			Sprint: next, Phase: phase, Cause: at.err, Report: at.report, Output: at.output, Blocked: now,
		})
		if err != nil {
			o.log.Warnf("sprint %s: %v", sprint.ID, err)
		}
		next.LastFailure = path
	}

	if err := o.cfg.Store.UpdateSprint(context.WithoutCancel(ctx), next); err != nil {
		return nil, fmt.Errorf("persist sprint %s: %w", sprint.ID, err)
	}

	if blocked {
		o.cfg.Metrics.RecordBlocked()
		o.log.LogSprintBlocked(sprint.ID, phase, next.LastFailure)
	}
	o.audit(ctx, &history.Transition{
		RunID: runID, SprintID: sprint.ID, From: phase, To: next.Status,
		RetryCount: next.RetryCount, Outcome: outcome, Detail: fmt.Sprintf("%s: %v", kind, at.err),
	})
	return next, nil
}

// audit records a transition; history is best effort.
func (o *Orchestrator) audit(ctx context.Context, t *history.Transition) {
	if o.cfg.History == nil {
		return
	}
	t.CreatedAt = o.cfg.Now()
	if err := o.cfg.History.RecordTransition(context.WithoutCancel(ctx), t); err != nil {
		o.log.Warnf("sprint %s: history: %v", t.SprintID, err)
	}
}

func reportDetail(r *models.QualityReport) string {
	if r == nil {
		return ""
	}
	return r.Summary()
}

type nopLogger struct{}

func (nopLogger) LogSprintStart(*models.Sprint) {}
func (nopLogger) LogPhaseStart(string, models.Phase, int) {}
func (nopLogger) LogPhaseComplete(string, models.Phase, models.Phase, time.Duration) {}
func (nopLogger) LogPhaseFailure(string, models.Phase, int, error) {}
func (nopLogger) LogSprintBlocked(string, models.Phase, string) {}
func (nopLogger) LogSprintResult(models.SprintResult) {}
func (nopLogger) LogSummary(models.ExecutionResult) {}
func (nopLogger) Infof(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{}) {}
