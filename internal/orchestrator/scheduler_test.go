package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harrison/cadence/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunParallelIndependentSprints(t *testing.T) {
	h := newHarness(t, []*models.Sprint{
		sprintAt("1", models.PhasePending),
		sprintAt("2", models.PhasePending),
	})

	// Both sprints must be inside a worker call at the same time.
	var mu sync.Mutex
	arrived := 0
	bothIn := make(chan struct{})
	h.worker.respond = func(ctx context.Context, wc WorkerContext) (WorkerResult, error) {
		if wc.Phase == models.PhaseWriteUnitTests {
			mu.Lock()
			arrived++
			if arrived == 2 {
				close(bothIn)
			}
			mu.Unlock()
			select {
			case <-bothIn:
			case <-time.After(5 * time.Second):
				t.Errorf("sprint %s never overlapped with its peer", wc.Sprint.ID)
			}
		}
		return success(wc.Phase), nil
	}

	res, err := h.orch.RunParallel(context.Background(), nil, 2)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Completed)
	assert.NotEmpty(t, res.RunID)
	for _, id := range []string{"1", "2"} {
		assert.Equal(t, models.PhaseDone, h.sprint(t, id).Status)
	}

	created := h.workspaces.created
	require.Len(t, created, 2)
	assert.NotEqual(t, created[0].Path, created[1].Path)
	diff := created[0].PortBase - created[1].PortBase
	if diff < 0 {
		diff = -diff
	}
	assert.Equal(t, 10, diff, "port bases differ by exactly the stride")
	assert.False(t, created[0].Overlaps(created[1]))
	assert.False(t, h.worker.overlap)
}

func TestEligibleRespectsDependencies(t *testing.T) {
	a := sprintAt("A", models.PhasePending, "B")
	b := sprintAt("B", models.PhaseWriteCode)
	all := []*models.Sprint{a, b}

	eligible := Eligible(all, all)
	require.Len(t, eligible, 1)
	assert.Equal(t, "B", eligible[0].ID)

	b.Status = models.PhaseDone
	eligible = Eligible(all, all)
	require.Len(t, eligible, 1)
	assert.Equal(t, "A", eligible[0].ID)
}

func TestEligibleExcludesTerminalSprints(t *testing.T) {
	all := []*models.Sprint{
		sprintAt("1", models.PhaseDone),
		sprintAt("2", models.PhaseBlocked),
		sprintAt("3", models.PhaseCodeReview),
		sprintAt("10", models.PhasePending),
	}
	var ids []string
	for _, s := range Eligible(all, all) {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"3", "10"}, ids)
}

func TestRunParallelRunsDependentAfterPrerequisite(t *testing.T) {
	h := newHarness(t, []*models.Sprint{
		sprintAt("A", models.PhasePending, "B"),
		sprintAt("B", models.PhasePending),
	})

	res, err := h.orch.RunParallel(context.Background(), nil, 2)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)

	calls := h.worker.snapshot()
	lastB, firstA := -1, -1
	for i, c := range calls {
		if c.SprintID == "B" {
			lastB = i
		}
		if c.SprintID == "A" && firstA < 0 {
			firstA = i
		}
	}
	require.GreaterOrEqual(t, firstA, 0)
	assert.Less(t, lastB, firstA, "A starts only after B is Done")
}

func TestRunParallelCycleIsFatalBeforeAnyWork(t *testing.T) {
	h := newHarness(t, []*models.Sprint{
		sprintAt("1", models.PhasePending, "2"),
		sprintAt("2", models.PhasePending, "3"),
		sprintAt("3", models.PhasePending, "1"),
		sprintAt("4", models.PhasePending),
	})

	res, err := h.orch.RunParallel(context.Background(), nil, 2)

	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, models.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "circular dependency")
	assert.Empty(t, h.worker.snapshot(), "no partial work is started")
	assert.Empty(t, h.workspaces.created)
}

func TestRunParallelSkipsDependentsOfBlockedSprint(t *testing.T) {
	h := newHarness(t, []*models.Sprint{
		sprintAt("1", models.PhaseCodeReview),
		sprintAt("2", models.PhasePending, "1"),
		sprintAt("3", models.PhasePending),
	})
	h.worker.respond = func(ctx context.Context, wc WorkerContext) (WorkerResult, error) {
		if wc.Sprint.ID == "1" {
			return WorkerResult{Success: false}, nil
		}
		return success(wc.Phase), nil
	}

	res, err := h.orch.RunParallel(context.Background(), nil, 2)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Blocked)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, h.worker.callsFor("2", models.PhaseWriteUnitTests))
}

func TestRunAllSequentialKeepsTopologicalOrder(t *testing.T) {
	h := newHarness(t, []*models.Sprint{
		sprintAt("2", models.PhasePending, "1"),
		sprintAt("1", models.PhasePending),
		sprintAt("3", models.PhaseDone),
	})

	res, err := h.orch.RunAll(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)
	var order []string
	for _, c := range h.worker.snapshot() {
		if len(order) == 0 || order[len(order)-1] != c.SprintID {
			order = append(order, c.SprintID)
		}
	}
	assert.Equal(t, []string{"1", "2"}, order)
}

func TestRunParallelExplicitIDs(t *testing.T) {
	h := newHarness(t, []*models.Sprint{
		sprintAt("1", models.PhaseDone),
		sprintAt("2", models.PhasePending),
		sprintAt("3", models.PhasePending),
	})

	res, err := h.orch.RunParallel(context.Background(), []string{"1", "2"}, 2)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed, "a Done sprint reports success without work")
	assert.Equal(t, models.PhasePending, h.sprint(t, "3").Status)

	_, err = h.orch.RunParallel(context.Background(), []string{"nope"}, 2)
	assert.ErrorIs(t, err, ErrSprintNotFound)
}

func TestRunParallelStopsLaunchingAfterFatal(t *testing.T) {
	h := newHarness(t, []*models.Sprint{
		sprintAt("1", models.PhasePending),
		sprintAt("2", models.PhasePending),
	}, func(c *Config) { c.MaxIterations = 2 })

	res, err := h.orch.RunParallel(context.Background(), nil, 1)

	require.Error(t, err)
	assert.True(t, IsRunawayPipeline(err))
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, h.worker.callsFor("2", models.PhaseWriteUnitTests))
}

func TestRunParallelCancelled(t *testing.T) {
	h := newHarness(t, []*models.Sprint{
		sprintAt("1", models.PhasePending),
		sprintAt("2", models.PhasePending, "1"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.worker.respond = func(c context.Context, wc WorkerContext) (WorkerResult, error) {
		cancel()
		return WorkerResult{}, c.Err()
	}

	res, err := h.orch.RunParallel(ctx, nil, 2)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	for _, r := range res.Results {
		assert.Equal(t, models.OutcomeInterrupted, r.Outcome)
	}
	assert.Equal(t, models.PhaseWriteUnitTests, h.sprint(t, "1").Status)
}
