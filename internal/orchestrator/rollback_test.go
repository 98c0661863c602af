package orchestrator

import (
	"context"
	"testing"

	"github.com/harrison/cadence/internal/history"
	"github.com/harrison/cadence/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockedHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhaseWriteCode)})
	h.worker.respond = func(ctx context.Context, wc WorkerContext) (WorkerResult, error) {
		return WorkerResult{Success: false}, nil
	}
	res := h.orch.RunSprint(context.Background(), "1")
	require.Equal(t, models.OutcomeBlocked, res.Outcome)
	h.worker.respond = nil
	return h
}

func TestRollbackUnblocksSprint(t *testing.T) {
	h := blockedHarness(t)

	require.NoError(t, h.orch.Rollback(context.Background(), "1", models.PhaseWriteCode))

	s := h.sprint(t, "1")
	assert.Equal(t, models.PhaseWriteCode, s.Status)
	assert.Zero(t, s.RetryCount)
	assert.Empty(t, s.BlockedPhase)
	assert.Empty(t, s.LastFailure)
	assert.NotNil(t, s.Workspace, "workspace kept when rolling back mid-pipeline")

	transitions, err := h.history.Transitions(context.Background(), "1", 1)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, history.OutcomeRolledBack, transitions[0].Outcome)
	assert.Equal(t, models.PhaseBlocked, transitions[0].From)

	res := h.orch.RunSprint(context.Background(), "1")
	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
}

func TestRollbackToPendingDeletesWorkspace(t *testing.T) {
	h := blockedHarness(t)

	require.NoError(t, h.orch.Rollback(context.Background(), "1", models.PhasePending))

	assert.Nil(t, h.sprint(t, "1").Workspace)
	assert.Equal(t, []string{"sprint/1"}, h.workspaces.deleted)
	_, live := h.workspaces.Get("sprint/1")
	assert.False(t, live)
}

func TestRollbackWhileMergingIsBusy(t *testing.T) {
	h := blockedHarness(t)
	h.workspaces.merging["sprint/1"] = true
	before := h.sprint(t, "1")

	err := h.orch.Rollback(context.Background(), "1", models.PhaseWriteCode)

	assert.ErrorIs(t, err, ErrWorkspaceBusy)
	assert.Equal(t, before, h.sprint(t, "1"), "sprint untouched")
}

func TestRollbackRejectsDone(t *testing.T) {
	h := blockedHarness(t)
	assert.Error(t, h.orch.Rollback(context.Background(), "1", models.PhaseDone))
	assert.Error(t, h.orch.Rollback(context.Background(), "1", models.PhaseBlocked))
	assert.ErrorIs(t, h.orch.Rollback(context.Background(), "2", models.PhasePending), ErrSprintNotFound)
}

func TestRollbackRejectsForwardTarget(t *testing.T) {
	tests := []struct {
		name    string
		sprint  *models.Sprint
		target  models.Phase
		wantErr bool
	}{
		{name: "pending to complete", sprint: sprintAt("1", models.PhasePending), target: models.PhaseComplete, wantErr: true},
		{name: "write code to code review", sprint: sprintAt("1", models.PhaseWriteCode), target: models.PhaseCodeReview, wantErr: true},
		{name: "same phase", sprint: sprintAt("1", models.PhaseWriteCode), target: models.PhaseWriteCode},
		{name: "earlier phase", sprint: sprintAt("1", models.PhaseCodeReview), target: models.PhaseWriteUnitTests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []*models.Sprint{tt.sprint})
			before := h.sprint(t, "1")

			err := h.orch.Rollback(context.Background(), "1", tt.target)

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.target, h.sprint(t, "1").Status)
				return
			}
			assert.ErrorIs(t, err, ErrForwardRollback)
			assert.Equal(t, before, h.sprint(t, "1"), "sprint untouched")
		})
	}
}

func TestRollbackForwardNeverSkipsWork(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhasePending)})

	require.ErrorIs(t, h.orch.Rollback(context.Background(), "1", models.PhaseComplete), ErrForwardRollback)

	res := h.orch.RunSprint(context.Background(), "1")
	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	assert.NotEmpty(t, h.worker.snapshot(), "phases still ran through the worker")
}

func TestRollbackBlockedForwardOfBlockedPhase(t *testing.T) {
	h := blockedHarness(t)
	assert.ErrorIs(t, h.orch.Rollback(context.Background(), "1", models.PhaseCodeReview), ErrForwardRollback)
	assert.Equal(t, models.PhaseBlocked, h.sprint(t, "1").Status)
}

func TestRollbackCommitsDespiteCancelledContext(t *testing.T) {
	h := blockedHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.orch.Rollback(ctx, "1", models.PhaseWriteCode))
	assert.Equal(t, models.PhaseWriteCode, h.sprint(t, "1").Status)
}

func TestValidateArtifact(t *testing.T) {
	h := newHarness(t, []*models.Sprint{sprintAt("1", models.PhasePending)})

	wrapped := &models.Artifact{Kind: models.ArtifactTestReport, Content: "Here you go:\n\n```yaml\nstatus: passed\nsummary: ok\n```\n"}
	report, err := h.orch.ValidateArtifact(context.Background(), wrapped, true)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Equal(t, "status: passed\nsummary: ok\n", wrapped.Content)

	bad := &models.Artifact{Kind: models.ArtifactReview, Content: "verdict: reject\nsummary: no\n"}
	report, err = h.orch.ValidateArtifact(context.Background(), bad, false)
	assert.True(t, IsQualityGateFailure(err))
	assert.False(t, report.Passed())
}
