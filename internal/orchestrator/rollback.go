package orchestrator

import (
	"context"
	"fmt"

	"github.com/harrison/cadence/internal/history"
	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/quality"
)

// Rollback resets a sprint to target with a cleared retry count. This is
// the only way out of Blocked and the only backwards transition. target may
// not lie ahead of the sprint's current phase; for a Blocked sprint that is
// the phase it blocked at.
//
// It fails with ErrWorkspaceBusy while the sprint's workspace is mid-merge
// and with ErrSprintInFlight while the sprint is running. Rolling back to
// Pending also deletes the sprint's workspace so the next run starts from
// the integration tip; any other target keeps the workspace.
func (o *Orchestrator) Rollback(ctx context.Context, id string, target models.Phase) error {
	if !o.acquire(id) {
		return fmt.Errorf("sprint %s: %w", id, ErrSprintInFlight)
	}
	defer o.release(id)

	sprint, err := o.cfg.Store.Sprint(id)
	if err != nil {
		return fmt.Errorf("sprint %s: %w", id, err)
	}

	if current := sprint.CurrentPhase(); target.Index() > current.Index() {
		return fmt.Errorf("sprint %s: %w: %s is after %s", id, ErrForwardRollback, target, current)
	}

	next := sprint.Clone()
	if ws := sprint.Workspace; ws != nil {
		if o.cfg.Workspaces.IsMerging(ws.Branch) {
			return fmt.Errorf("sprint %s: %w: %s", id, ErrWorkspaceBusy, ws.Branch)
		}
		if target == models.PhasePending {
			if err := o.cfg.Workspaces.Delete(ctx, ws); err != nil {
				return fmt.Errorf("sprint %s: %w", id, err)
			}
			next.Workspace = nil
		}
	}

	from := sprint.Status
	if err := next.ResetTo(target, o.cfg.Now()); err != nil {
		return fmt.Errorf("sprint %s: %w", id, err)
	}
	if err := o.cfg.Store.UpdateSprint(context.WithoutCancel(ctx), next); err != nil {
		return fmt.Errorf("persist sprint %s: %w", id, err)
	}

	o.log.Infof("sprint %s rolled back %s -> %s", id, from, target)
	o.audit(ctx, &history.Transition{
		SprintID: id, From: from, To: target, Outcome: history.OutcomeRolledBack,
	})
	return nil
}

// ValidateArtifact runs the base gate sequence against a single artifact
// outside of any sprint. A failing report is returned together with a
// *QualityGateFailure.
func (o *Orchestrator) ValidateArtifact(ctx context.Context, a *models.Artifact, fix bool) (*models.QualityReport, error) {
	return ValidateArtifact(ctx, o.gates, a, fix)
}

// ValidateArtifact runs pipeline against a and converts a failing report
// into a *QualityGateFailure.
func ValidateArtifact(ctx context.Context, pipeline *quality.Pipeline, a *models.Artifact, fix bool) (*models.QualityReport, error) {
	report := pipeline.Run(ctx, a, fix)
	if !report.Passed() {
		return report, &QualityGateFailure{Report: report}
	}
	return report, nil
}
