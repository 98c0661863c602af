package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSprintValidate(t *testing.T) {
	tests := []struct {
		name    string
		sprint  Sprint
		wantErr string
	}{
		{"valid", Sprint{ID: "1", Status: PhasePending}, ""},
		{"missing id", Sprint{Status: PhasePending}, "sprint id is required"},
		{"unknown status", Sprint{ID: "1", Status: "Shipping"}, `unknown status "Shipping"`},
		{"negative retries", Sprint{ID: "1", Status: PhaseWriteCode, RetryCount: -1}, "retry_count must be >= 0"},
		{"blocked phase not in pipeline", Sprint{ID: "1", Status: PhaseBlocked, BlockedPhase: PhaseBlocked}, "is not a pipeline phase"},
		{"task without title", Sprint{ID: "1", Status: PhasePending, Tasks: []Task{{}}}, "task 1: task title is required"},
		{"self dependency", Sprint{ID: "1", Status: PhasePending, DependsOn: []string{"1"}}, "depends on itself"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sprint.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSprintAdvance(t *testing.T) {
	s := &Sprint{ID: "1", Status: PhasePending, RetryCount: 2}

	next, err := s.Advance(now)
	require.NoError(t, err)
	assert.Equal(t, PhaseWriteUnitTests, next)
	assert.Zero(t, s.RetryCount)
	require.NotNil(t, s.StartedAt)
	assert.Equal(t, now, *s.StartedAt)
	assert.Nil(t, s.CompletedAt)

	s.Status = PhaseComplete
	next, err = s.Advance(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, next)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, now, *s.StartedAt)

	_, err = s.Advance(now)
	assert.Error(t, err)
}

func TestSprintRecordFailureBlocksAtLimit(t *testing.T) {
	s := &Sprint{ID: "1", Status: PhaseCodeReview}

	assert.False(t, s.RecordFailure(3, now))
	assert.False(t, s.RecordFailure(3, now))
	assert.True(t, s.RecordFailure(3, now))

	assert.Equal(t, PhaseBlocked, s.Status)
	assert.Equal(t, PhaseCodeReview, s.BlockedPhase)
	assert.Equal(t, 3, s.RetryCount)
	assert.Equal(t, PhaseCodeReview, s.CurrentPhase())
}

func TestSprintBlock(t *testing.T) {
	s := &Sprint{ID: "1", Status: PhaseWriteCode}
	s.Block(now)
	s.Block(now)
	assert.Equal(t, PhaseBlocked, s.Status)
	assert.Equal(t, PhaseWriteCode, s.BlockedPhase)
}

func TestSprintResetTo(t *testing.T) {
	completed := now
	s := &Sprint{
		ID: "1", Status: PhaseBlocked, BlockedPhase: PhaseRunUnitTests, RetryCount: 3,
		LastFailure: "failures/1.md", CompletedAt: &completed,
	}

	require.NoError(t, s.ResetTo(PhaseWriteCode, now))

	assert.Equal(t, PhaseWriteCode, s.Status)
	assert.Zero(t, s.RetryCount)
	assert.Empty(t, s.BlockedPhase)
	assert.Empty(t, s.LastFailure)
	assert.Nil(t, s.CompletedAt)

	assert.Error(t, s.ResetTo(PhaseDone, now))
	assert.Error(t, s.ResetTo(PhaseBlocked, now))
}

func TestSprintCloneIsDeep(t *testing.T) {
	started := now
	s := &Sprint{
		ID:        "1",
		Status:    PhaseWriteCode,
		DependsOn: []string{"0"},
		Tasks:     []Task{{Title: "a", AcceptanceCriteria: []string{"works"}}},
		Workspace: &WorkspaceHandle{Branch: "sprint/1", PortBase: 3000},
		StartedAt: &started,
	}

	c := s.Clone()
	c.DependsOn[0] = "x"
	c.Tasks[0].AcceptanceCriteria[0] = "x"
	c.Workspace.PortBase = 4000
	*c.StartedAt = now.Add(time.Hour)

	assert.Equal(t, "0", s.DependsOn[0])
	assert.Equal(t, "works", s.Tasks[0].AcceptanceCriteria[0])
	assert.Equal(t, 3000, s.Workspace.PortBase)
	assert.Equal(t, now, *s.StartedAt)
	assert.Nil(t, (*Sprint)(nil).Clone())
}

func TestTaskValidate(t *testing.T) {
	assert.NoError(t, (&Task{Title: "x"}).Validate())
	assert.NoError(t, (&Task{Title: "x", Status: TaskStatusCompleted}).Validate())
	assert.Error(t, (&Task{Title: "x", Status: "paused"}).Validate())
	assert.True(t, (&Task{Status: TaskStatusCompleted}).IsCompleted())
}
