package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/harrison/cadence/internal/models"
)

// Worker is the narrow contract to an external execution backend. Parsing
// of vendor output formats belongs to the implementation, never to the
// orchestrator.
type Worker interface {
	Invoke(ctx context.Context, role models.Role, wc WorkerContext) (WorkerResult, error)
}

// WorkerResult is what a worker hands back for one invocation.
type WorkerResult struct {
	Success   bool
	Artifacts []models.Artifact
	RawOutput string
}

// Document is a supporting document referenced by the project.
type Document struct {
	Path    string
	Content string
}

// WorkerContext is the materialized input of one worker invocation.
type WorkerContext struct {
	Sprint    *models.Sprint // Copy; mutations are ignored
	Phase     models.Phase
	Attempt   int // 1-based
	Workspace *models.WorkspaceHandle
	Documents []Document

	// Feedback carries the issues of the previous failed attempt at the
	// same phase, so the worker can address them on retry.
	Feedback []models.Issue
}

// Dir returns the working directory of the invocation.
func (wc WorkerContext) Dir() string {
	if wc.Workspace == nil {
		return ""
	}
	return wc.Workspace.Path
}

// maxDocumentBytes bounds a single supporting document.
const maxDocumentBytes = 256 << 10

// loadDocuments reads the supporting documents. Missing files are reported
// to warn and skipped.
func loadDocuments(paths []string, warn func(format string, args ...interface{})) []Document {
	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			warn("skipping document %s: %v", path, err)
			continue
		}
		if len(data) > maxDocumentBytes {
			warn("document %s truncated to %d bytes", path, maxDocumentBytes)
			data = data[:maxDocumentBytes]
		}
		docs = append(docs, Document{Path: filepath.Clean(path), Content: string(data)})
	}
	return docs
}

// buildContext assembles the worker context for sprint's current phase.
func (o *Orchestrator) buildContext(sprint *models.Sprint, attempt int, feedback []models.Issue) WorkerContext {
	wc := WorkerContext{
		Sprint:   sprint.Clone(),
		Phase:    sprint.Status,
		Attempt:  attempt,
		Feedback: feedback,
	}
	if sprint.Workspace != nil {
		ws := *sprint.Workspace
		wc.Workspace = &ws
	}
	wc.Documents = loadDocuments(o.cfg.Documents, o.log.Warnf)
	return wc
}
