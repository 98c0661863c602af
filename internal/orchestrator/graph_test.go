package orchestrator

import (
	"testing"

	"github.com/harrison/cadence/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSprintNumber(t *testing.T) {
	tests := []struct {
		id   string
		want int
	}{
		{"1", 1},
		{"Sprint 12", 12},
		{"sprint-7-auth", 7},
		{"auth", 999999},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseSprintNumber(tt.id), tt.id)
	}
}

func TestValidateSprints(t *testing.T) {
	tests := []struct {
		name    string
		sprints []*models.Sprint
		wantErr string
	}{
		{"valid", []*models.Sprint{sprintAt("1", models.PhasePending), sprintAt("2", models.PhasePending, "1")}, ""},
		{"duplicate", []*models.Sprint{sprintAt("1", models.PhasePending), sprintAt("1", models.PhaseDone)}, "duplicate id"},
		{"unknown dependency", []*models.Sprint{sprintAt("1", models.PhasePending, "9")}, "non-existent sprint 9"},
		{"empty id", []*models.Sprint{sprintAt("", models.PhasePending)}, "empty id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSprints(tt.sprints)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFindCycle(t *testing.T) {
	acyclic := BuildDependencyGraph([]*models.Sprint{
		sprintAt("1", models.PhasePending),
		sprintAt("2", models.PhasePending, "1"),
		sprintAt("3", models.PhasePending, "1", "2"),
	})
	assert.Nil(t, acyclic.FindCycle())
	assert.False(t, acyclic.HasCycle())

	cyclic := BuildDependencyGraph([]*models.Sprint{
		sprintAt("1", models.PhasePending, "3"),
		sprintAt("2", models.PhasePending, "1"),
		sprintAt("3", models.PhasePending, "2"),
	})
	cycle := cyclic.FindCycle()
	require.NotNil(t, cycle)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1], "cycle path is closed")
	assert.Len(t, cycle, 4)

	self := BuildDependencyGraph([]*models.Sprint{sprintAt("1", models.PhasePending, "1")})
	assert.Equal(t, []string{"1", "1"}, self.FindCycle())
}

func TestWaves(t *testing.T) {
	g := BuildDependencyGraph([]*models.Sprint{
		sprintAt("3", models.PhasePending, "1", "2"),
		sprintAt("2", models.PhasePending),
		sprintAt("1", models.PhasePending),
		sprintAt("4", models.PhasePending, "3"),
	})
	waves, err := g.Waves()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}, {"3"}, {"4"}}, waves)
}

func TestCheckDependenciesIsConfigurationError(t *testing.T) {
	err := CheckDependencies("progress.yaml", []*models.Sprint{
		sprintAt("1", models.PhasePending, "2"),
		sprintAt("2", models.PhasePending, "1"),
	})
	require.Error(t, err)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "progress.yaml", ce.Source)
	assert.Contains(t, err.Error(), "1 -> 2 -> 1")
}
