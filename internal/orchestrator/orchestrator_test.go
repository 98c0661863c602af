package orchestrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harrison/cadence/internal/history"
	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/quality"
	"github.com/harrison/cadence/internal/workspace"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Store: nil, Workspaces: newFakeWorkspaces(t.TempDir()), Worker: newScriptedWorker(), MaxRetries: 3})
	assert.Error(t, err)
}

func TestRunSprintReachesDone(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhasePending)})

	res := h.orch.RunSprint(context.Background(), "1")

	require.NoError(t, res.Error)
	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 8, res.Transitions)

	s := h.sprint(t, "1")
	assert.Equal(t, models.PhaseDone, s.Status)
	assert.Zero(t, s.RetryCount)
	assert.Nil(t, s.Workspace, "workspace is merged away on Complete")
	assert.NotNil(t, s.StartedAt)
	assert.NotNil(t, s.CompletedAt)

	var phases []models.Phase
	for _, c := range h.worker.snapshot() {
		phases = append(phases, c.Phase)
		assert.Equal(t, c.Phase.Role(), c.Role)
		assert.NotEmpty(t, c.Dir)
	}
	assert.Equal(t, []models.Phase{
		models.PhaseWriteUnitTests, models.PhaseWriteCode, models.PhaseCodeReview,
		models.PhaseRunUnitTests, models.PhaseWriteE2ETests, models.PhaseRunE2ETests,
	}, phases)

	assert.Equal(t, []string{"sprint/1"}, h.workspaces.merged)
	assert.Equal(t, 6, h.workspaces.checkpoints)
	assert.False(t, h.worker.overlap)

	transitions, err := h.history.Transitions(context.Background(), "1", 0)
	require.NoError(t, err)
	assert.Len(t, transitions, 8)
	for _, tr := range transitions {
		assert.Equal(t, history.OutcomeAdvanced, tr.Outcome)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PhaseTransitions.WithLabelValues("Done")))
}

func TestRunSprintOnDoneIsNoop(t *testing.T) {
	done := sprintAt("1", models.PhaseDone)
	h := newHarness(t, []*models.Sprint{done})

	res := h.orch.RunSprint(context.Background(), "1")

	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	assert.True(t, res.Succeeded())
	assert.Zero(t, res.Transitions)
	assert.Empty(t, h.worker.snapshot())
	assert.Empty(t, h.workspaces.created)
}

func TestRunSprintUnknownID(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhasePending)})
	res := h.orch.RunSprint(context.Background(), "nope")
	assert.Equal(t, models.OutcomeFatal, res.Outcome)
	assert.ErrorIs(t, res.Error, ErrSprintNotFound)
}

func TestWriteCodeBlocksAfterThreeFailures(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhaseWriteCode)})
	h.worker.respond = func(ctx context.Context, wc WorkerContext) (WorkerResult, error) {
		if wc.Phase == models.PhaseWriteCode {
			// Source without a path fails the schema gate.
			return WorkerResult{Success: true, Artifacts: []models.Artifact{{Kind: models.ArtifactSource, Content: "package auth"}}, RawOutput: "wrote it"}, nil
		}
		return success(wc.Phase), nil
	}

	res := h.orch.RunSprint(context.Background(), "1")

	assert.Equal(t, models.OutcomeBlocked, res.Outcome)
	assert.True(t, IsQualityGateFailure(res.Error))
	assert.Equal(t, 3, h.worker.callsFor("1", models.PhaseWriteCode), "never earlier, never later")

	s := h.sprint(t, "1")
	assert.Equal(t, models.PhaseBlocked, s.Status)
	assert.Equal(t, 3, s.RetryCount)
	assert.Equal(t, models.PhaseWriteCode, s.BlockedPhase)

	path := FailureReportPath(h.failureDir, "1", models.PhaseWriteCode)
	assert.Equal(t, path, s.LastFailure)
	assert.Equal(t, path, res.FailurePath)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "WriteCode")
	assert.Contains(t, string(data), "missing-path")
	assert.Contains(t, string(data), "wrote it")

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.SprintsBlocked))
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.PhaseFailures.WithLabelValues("WriteCode", "gate")))

	// A blocked sprint makes no further attempts until it is reset.
	again := h.orch.RunSprint(context.Background(), "1")
	assert.Equal(t, models.OutcomeBlocked, again.Outcome)
	assert.Equal(t, 3, h.worker.callsFor("1", models.PhaseWriteCode))
}

func TestRetryCountResetsAfterSuccess(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhasePending)})
	var mu sync.Mutex
	failures := 0
	h.worker.respond = func(ctx context.Context, wc WorkerContext) (WorkerResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if wc.Phase == models.PhaseCodeReview && failures < 2 {
			failures++
			return WorkerResult{Success: true, Artifacts: []models.Artifact{{Kind: models.ArtifactReview, Content: "verdict: request-changes\nsummary: no\n"}}}, nil
		}
		return success(wc.Phase), nil
	}

	res := h.orch.RunSprint(context.Background(), "1")

	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 3, h.worker.callsFor("1", models.PhaseCodeReview))
	assert.Zero(t, h.sprint(t, "1").RetryCount)

	var attempts []int
	var feedback []int
	for _, c := range h.worker.snapshot() {
		if c.Phase == models.PhaseCodeReview {
			attempts = append(attempts, c.Attempt)
			feedback = append(feedback, c.Feedback)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Zero(t, feedback[0])
	assert.NotZero(t, feedback[1], "retries carry the previous issues")

	transitions, err := h.history.Transitions(context.Background(), "1", 0)
	require.NoError(t, err)
	failed := 0
	for _, tr := range transitions {
		if tr.Outcome == history.OutcomeFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}

func TestWorkerFailureCountsLikeGateFailure(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhaseCodeReview)})
	h.worker.respond = func(ctx context.Context, wc WorkerContext) (WorkerResult, error) {
		return WorkerResult{Success: false, RawOutput: "model refused"}, nil
	}

	res := h.orch.RunSprint(context.Background(), "1")

	assert.Equal(t, models.OutcomeBlocked, res.Outcome)
	assert.True(t, IsWorkerInvocationError(res.Error))
	assert.Equal(t, 3, h.sprint(t, "1").RetryCount)

	data, err := os.ReadFile(res.FailurePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Cause: worker")
	assert.Contains(t, string(data), "model refused")
}

func TestWorkerWithoutArtifactsIsGatedAsEmpty(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhaseWriteUnitTests)}, func(c *Config) { c.MaxRetries = 1 })
	h.worker.respond = func(ctx context.Context, wc WorkerContext) (WorkerResult, error) {
		return WorkerResult{Success: true}, nil
	}

	res := h.orch.RunSprint(context.Background(), "1")

	assert.Equal(t, models.OutcomeBlocked, res.Outcome)
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Halted)
	assert.Equal(t, "empty", res.Report.Issues[0].Category)
}

func TestWorkerTimeoutCounts(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhaseWriteCode)}, func(c *Config) { c.MaxRetries = 2 })
	h.worker.respond = func(ctx context.Context, wc WorkerContext) (WorkerResult, error) {
		return WorkerResult{}, context.DeadlineExceeded
	}

	res := h.orch.RunSprint(context.Background(), "1")

	assert.Equal(t, models.OutcomeBlocked, res.Outcome)
	var te *TimeoutError
	require.ErrorAs(t, res.Error, &te)
	assert.Equal(t, models.PhaseWriteCode, te.Phase)
	assert.Equal(t, 2, h.sprint(t, "1").RetryCount)
}

func TestCancellationKeepsLastCommittedPhase(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhasePending)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.worker.respond = func(c context.Context, wc WorkerContext) (WorkerResult, error) {
		if wc.Phase == models.PhaseWriteCode {
			cancel()
			<-c.Done()
			return WorkerResult{}, c.Err()
		}
		return success(wc.Phase), nil
	}

	res := h.orch.RunSprint(ctx, "1")

	assert.Equal(t, models.OutcomeInterrupted, res.Outcome)
	s := h.sprint(t, "1")
	assert.Equal(t, models.PhaseWriteCode, s.Status, "last committed phase is kept")
	assert.Zero(t, s.RetryCount, "an abandoned attempt is not a failure")
	assert.NotNil(t, s.Workspace)

	// Resuming repeats only the interrupted phase.
	h.worker.respond = nil
	res = h.orch.RunSprint(context.Background(), "1")
	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, h.worker.callsFor("1", models.PhaseWriteUnitTests))
	assert.Equal(t, 2, h.worker.callsFor("1", models.PhaseWriteCode))
	assert.Len(t, h.workspaces.created, 1, "the workspace survives the interruption")
}

func TestRunawayPipelineCeiling(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhasePending)}, func(c *Config) { c.MaxIterations = 3 })

	res := h.orch.RunSprint(context.Background(), "1")

	assert.Equal(t, models.OutcomeFatal, res.Outcome)
	assert.True(t, IsRunawayPipeline(res.Error))
	assert.True(t, IsFatal(res.Error))
	assert.Equal(t, models.PhaseCodeReview, h.sprint(t, "1").Status, "committed transitions are kept")
}

func TestMergeConflictCountsAsFailure(t *testing.T) {
	s := sprintAt("1", models.PhaseRunE2ETests)
	h := newHarness(t, []*models.Sprint{s})
	conflict := &workspace.MergeConflictError{Branch: "sprint/1", Into: "main", Paths: []string{"auth.go"}}
	h.workspaces.mergeErr = conflict

	res := h.orch.RunSprint(context.Background(), "1")

	assert.Equal(t, models.OutcomeBlocked, res.Outcome)
	assert.True(t, workspace.IsMergeConflict(res.Error))
	got := h.sprint(t, "1")
	assert.Equal(t, models.PhaseComplete, got.BlockedPhase)
	require.NotNil(t, got.Workspace)
	_, live := h.workspaces.Get("sprint/1")
	assert.True(t, live, "workspace is preserved for manual resolution")

	data, err := os.ReadFile(res.FailurePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "auth.go")
}

func TestResourceExhaustionBlocksImmediately(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhasePending)})
	h.workspaces.createErr = &workspace.ResourceExhaustionError{Resource: "ports", Err: workspace.ErrPortRangeExhausted}

	res := h.orch.RunSprint(context.Background(), "1")

	assert.Equal(t, models.OutcomeBlocked, res.Outcome)
	assert.ErrorIs(t, res.Error, workspace.ErrPortRangeExhausted)
	s := h.sprint(t, "1")
	assert.Equal(t, models.PhaseBlocked, s.Status)
	assert.Equal(t, 1, s.RetryCount)
	assert.Equal(t, models.PhasePending, s.BlockedPhase)
}

func TestVerificationSuitesFeedTheBaseline(t *testing.T) {
	runner := &suiteRunner{}
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhasePending), sprintAt("2", models.PhasePending, "1")}, func(c *Config) {
		c.Suites = []Suite{
			{Name: "unit", Command: "go test ./...", Phase: models.PhaseRunUnitTests},
			{Name: "e2e", Command: "make e2e", Phase: models.PhaseRunE2ETests},
		}
		c.SuiteRunner = runner
	})
	// Wire the regression gate against the harness history after New.
	h.orch.verification = h.orch.gates.With(quality.NewRegressionGate(h.history, runner))

	res := h.orch.RunSprint(context.Background(), "1")
	require.Equal(t, models.OutcomeSuccess, res.Outcome, "%v", res.Error)

	suites, err := h.history.PassingSuites(context.Background())
	require.NoError(t, err)
	require.Len(t, suites, 2)
	for _, s := range suites {
		assert.Equal(t, "1", s.FirstPassedBy)
	}

	// Sprint 2 breaks the e2e suite: the regression gate blocks it, naming sprint 1.
	runner.fail("make e2e")
	res = h.orch.RunSprint(context.Background(), "2")
	assert.Equal(t, models.OutcomeBlocked, res.Outcome)
	assert.Equal(t, models.PhaseRunUnitTests, h.sprint(t, "2").BlockedPhase)
	data, err := os.ReadFile(res.FailurePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "regression")
}

// suiteRunner implements quality.CommandRunner.
type suiteRunner struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   []string
}

func (r *suiteRunner) fail(cmd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing == nil {
		r.failing = make(map[string]bool)
	}
	r.failing[cmd] = true
}

func (r *suiteRunner) Run(ctx context.Context, dir, command string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, command)
	if r.failing[command] {
		return "FAIL " + command, errors.New("exit status 1")
	}
	return "ok", nil
}

func TestSecondRunOfSameSprintIsRejected(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhaseWriteCode)})
	entered := make(chan struct{})
	releaseWorker := make(chan struct{})
	var once sync.Once
	h.worker.respond = func(ctx context.Context, wc WorkerContext) (WorkerResult, error) {
		once.Do(func() { close(entered) })
		<-releaseWorker
		return success(wc.Phase), nil
	}

	done := make(chan models.SprintResult, 1)
	go func() { done <- h.orch.RunSprint(context.Background(), "1") }()
	<-entered

	assert.True(t, h.orch.InFlight("1"))
	second := h.orch.RunSprint(context.Background(), "1")
	assert.ErrorIs(t, second.Error, ErrSprintInFlight)
	assert.ErrorIs(t, h.orch.Rollback(context.Background(), "1", models.PhasePending), ErrSprintInFlight)

	close(releaseWorker)
	select {
	case res := <-done:
		assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not finish")
	}
	assert.False(t, h.worker.overlap)
}

func TestDocumentsReachTheWorker(t *testing.T) {
	doc := t.TempDir() + "/architecture.md"
	require.NoError(t, os.WriteFile(doc, []byte("# Architecture\n"), 0644))

	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhaseCodeReview)}, func(c *Config) {
		c.Documents = []string{doc, t.TempDir() + "/missing.md"}
		c.MaxRetries = 1
	})
	var got []Document
	h.worker.respond = func(ctx context.Context, wc WorkerContext) (WorkerResult, error) {
		got = wc.Documents
		return WorkerResult{Success: false}, nil
	}

	h.orch.RunSprint(context.Background(), "1")

	require.Len(t, got, 1)
	assert.True(t, strings.HasSuffix(got[0].Path, "architecture.md"))
	assert.Equal(t, "# Architecture\n", got[0].Content)
}
