package orchestrator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrison/cadence/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureReportPath(t *testing.T) {
	assert.Equal(t, filepath.Join("failures", "3-auth", "WriteCode.md"),
		FailureReportPath("failures", "3 Auth", models.PhaseWriteCode))
}

func manyIssues(n int) *models.QualityReport {
	r := &models.QualityReport{}
	for i := 0; i < n; i++ {
		r.Issues = append(r.Issues, models.Issue{
			Gate: "schema", Severity: models.SeverityHigh, Category: "missing-field",
			Message: fmt.Sprintf("issue number %d", i), Artifact: "review",
		})
	}
	return r
}

func TestRenderFailureListsAtMost25Issues(t *testing.T) {
	s := sprintAt("1", models.PhaseBlocked)
	s.RetryCount = 3
	f := failure{
		Sprint:  s,
		Phase:   models.PhaseCodeReview,
		Cause:   &QualityGateFailure{SprintID: "1", Phase: models.PhaseCodeReview, Report: manyIssues(30)},
		Report:  manyIssues(30),
		Output:  "first line\nlast line",
		Blocked: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	out := string(renderFailure(f, 1<<20))

	assert.Contains(t, out, "# Sprint 1 blocked in CodeReview")
	assert.Contains(t, out, "Attempts: 3")
	assert.Contains(t, out, "Cause: gate")
	assert.Contains(t, out, "issue number 24")
	assert.NotContains(t, out, "issue number 25")
	assert.Contains(t, out, "... and 5 more")
	assert.Contains(t, out, "last line")
}

func TestRenderFailureIsCapped(t *testing.T) {
	f := failure{
		Sprint:  sprintAt("1", models.PhaseBlocked),
		Phase:   models.PhaseWriteCode,
		Cause:   errors.New("boom"),
		Report:  manyIssues(25),
		Output:  strings.Repeat("noise\n", 5000),
		Blocked: time.Now(),
	}

	out := renderFailure(f, 1024)

	assert.LessOrEqual(t, len(out), 1024)
	assert.True(t, strings.HasSuffix(string(out), truncatedMarker))
}

func TestWriteFailure(t *testing.T) {
	dir := t.TempDir()
	f := failure{Sprint: sprintAt("7", models.PhaseBlocked), Phase: models.PhaseRunE2ETests, Cause: errors.New("boom"), Blocked: time.Now()}

	path, err := writeFailure(dir, 4096, f)

	require.NoError(t, err)
	assert.Equal(t, FailureReportPath(dir, "7", models.PhaseRunE2ETests), path)
	assert.FileExists(t, path)
}
