package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommitMessageHeader(t *testing.T) {
	tests := []struct {
		name string
		msg  CommitMessage
		want string
	}{
		{"type and scope", CommitMessage{Type: "feat", Scope: "sprint-1", Subject: "WriteCode"}, "feat(sprint-1): WriteCode"},
		{"type only", CommitMessage{Type: "fix", Subject: "port clash"}, "fix: port clash"},
		{"subject only", CommitMessage{Subject: "merge"}, "merge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Header())
		})
	}
}

func TestCommitMessageValidate(t *testing.T) {
	assert.Error(t, CommitMessage{Type: "feat", Subject: "  "}.Validate())
	assert.NoError(t, CommitMessage{Subject: "x"}.Validate())
}

func TestCheckpointMessage(t *testing.T) {
	sprint := &Sprint{
		ID:    "3",
		Goal:  "Add checkout",
		Tasks: []Task{{Title: "Cart totals"}, {Title: "Payment form"}},
	}

	msg := CheckpointMessage(sprint, PhaseWriteCode)
	assert.Equal(t, "feat(sprint-3): WriteCode\n\nAdd checkout\n- Cart totals\n- Payment form", msg.String())

	assert.Equal(t, "test", CheckpointMessage(sprint, PhaseWriteUnitTests).Type)
	assert.Equal(t, "chore", CheckpointMessage(sprint, PhaseCodeReview).Type)
}

func TestCheckpointMessageWithoutBody(t *testing.T) {
	msg := CheckpointMessage(&Sprint{ID: "1"}, PhaseRunE2ETests)
	assert.Equal(t, "chore(sprint-1): RunE2ETests", msg.String())
}
