package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harrison/cadence/internal/models"
)

// ValidatePlan checks the stored sprint set for unknown dependencies and
// cycles. It must pass before any execution starts.
func (o *Orchestrator) ValidatePlan() error {
	return CheckDependencies("progress store", o.cfg.Store.Sprints())
}

// RunAll runs every sprint that is not yet Done. With parallel set,
// independent sprints run concurrently up to the configured concurrency;
// otherwise one at a time in dependency order.
func (o *Orchestrator) RunAll(ctx context.Context, parallel bool) (*models.ExecutionResult, error) {
	concurrency := 1
	if parallel {
		concurrency = o.cfg.Concurrency
	}
	return o.RunParallel(ctx, nil, concurrency)
}

// RunParallel runs the sprints named by ids (all sprints when empty).
// Sprints joined by a dependency edge run in topological order; unrelated
// sprints run concurrently, at most concurrency at a time. Eligibility is
// re-evaluated after every finished sprint, so a dependent starts in the
// next scheduling pass once its prerequisites are Done.
//
// A dependency cycle or unknown id is a ConfigurationError returned before
// any sprint starts. Sprints that never become eligible are reported as
// skipped.
func (o *Orchestrator) RunParallel(ctx context.Context, ids []string, concurrency int) (*models.ExecutionResult, error) {
	if err := o.ValidatePlan(); err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wanted, err := o.selectSprints(ids)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	exec := &models.ExecutionResult{RunID: runID}
	start := time.Now()
	o.log.Infof("run %s: %d sprint(s), concurrency %d", runID, len(wanted), concurrency)

	for _, s := range o.cfg.Store.Sprints() {
		if wanted[s.ID] && s.IsDone() {
			delete(wanted, s.ID)
			exec.Add(models.SprintResult{SprintID: s.ID, Outcome: models.OutcomeSuccess, Phase: s.Status})
		}
	}

	resultsCh := make(chan models.SprintResult)
	running := make(map[string]bool)
	var fatal error

	for {
		if fatal == nil && ctx.Err() == nil {
			all := o.cfg.Store.Sprints()
			var candidates []*models.Sprint
			for _, s := range all {
				if wanted[s.ID] && !running[s.ID] {
					candidates = append(candidates, s)
				}
			}
			for _, s := range Eligible(candidates, all) {
				if len(running) >= concurrency {
					break
				}
				running[s.ID] = true
				go func(id string) {
					resultsCh <- o.runSprint(ctx, runID, id)
				}(s.ID)
			}
		}

		if len(running) == 0 {
			break
		}

		r := <-resultsCh
		delete(running, r.SprintID)
		delete(wanted, r.SprintID)
		exec.Add(r)
		if r.Outcome == models.OutcomeFatal && fatal == nil {
			fatal = r.Error
			o.log.Warnf("run %s: stopping after fatal error: %v", runID, r.Error)
		}
	}

	// Whatever is left never became eligible (or the run was stopped).
	for _, s := range o.cfg.Store.Sprints() {
		if !wanted[s.ID] {
			continue
		}
		outcome := models.OutcomeSkipped
		if s.IsBlocked() {
			outcome = models.OutcomeBlocked
		}
		if ctx.Err() != nil {
			outcome = models.OutcomeInterrupted
		}
		exec.Add(models.SprintResult{SprintID: s.ID, Outcome: outcome, Phase: s.Status, FailurePath: s.LastFailure})
	}

	exec.Duration = time.Since(start)
	o.log.LogSummary(*exec)

	if fatal != nil {
		return exec, fatal
	}
	return exec, ctx.Err()
}

// selectSprints resolves ids to the set of sprints to run. Done sprints are
// included so that asking for them reports success without invoking work.
func (o *Orchestrator) selectSprints(ids []string) (map[string]bool, error) {
	wanted := make(map[string]bool)
	if len(ids) == 0 {
		for _, s := range o.cfg.Store.Sprints() {
			if !s.IsDone() {
				wanted[s.ID] = true
			}
		}
		return wanted, nil
	}
	for _, id := range ids {
		if _, err := o.cfg.Store.Sprint(id); err != nil {
			return nil, fmt.Errorf("sprint %s: %w", id, err)
		}
		wanted[id] = true
	}
	return wanted, nil
}
