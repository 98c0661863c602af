package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harrison/cadence/internal/history"
	"github.com/harrison/cadence/internal/metrics"
	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/progress"
	"github.com/harrison/cadence/internal/workspace"
	"github.com/stretchr/testify/require"
)

// fakeWorkspaces implements Workspaces in memory on top of the real port
// allocator.
type fakeWorkspaces struct {
	mu          sync.Mutex
	alloc       *workspace.Allocator
	dir         string
	handles     map[string]*models.WorkspaceHandle
	created     []models.WorkspaceHandle
	merged      []string
	deleted     []string
	merging     map[string]bool
	checkpoints int

	createErr error
	mergeErr  error
}

func newFakeWorkspaces(dir string) *fakeWorkspaces {
	return &fakeWorkspaces{
		alloc:   workspace.NewAllocator(3000, 10, 64),
		dir:     dir,
		handles: make(map[string]*models.WorkspaceHandle),
		merging: make(map[string]bool),
	}
}

func (f *fakeWorkspaces) Create(ctx context.Context, kind models.WorkspaceKind, key string) (*models.WorkspaceHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	branch := workspace.BranchName(kind, key)
	if h, ok := f.handles[branch]; ok {
		out := *h
		return &out, nil
	}
	base, err := f.alloc.Allocate(branch, workspace.Slot(key))
	if err != nil {
		return nil, err
	}
	h := &models.WorkspaceHandle{
		Kind:      kind,
		Key:       key,
		Branch:    branch,
		Path:      filepath.Join(f.dir, string(kind)+"-"+workspace.Slug(key)),
		PortBase:  base,
		PortCount: 10,
		CreatedAt: time.Now().UTC(),
	}
	f.handles[branch] = h
	f.created = append(f.created, *h)
	out := *h
	return &out, nil
}

func (f *fakeWorkspaces) Merge(ctx context.Context, h *models.WorkspaceHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return f.mergeErr
	}
	delete(f.handles, h.Branch)
	f.alloc.Release(h.Branch)
	f.merged = append(f.merged, h.Branch)
	return nil
}

func (f *fakeWorkspaces) Delete(ctx context.Context, h *models.WorkspaceHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.merging[h.Branch] {
		return fmt.Errorf("%w: %s", workspace.ErrWorkspaceBusy, h.Branch)
	}
	delete(f.handles, h.Branch)
	f.alloc.Release(h.Branch)
	f.deleted = append(f.deleted, h.Branch)
	return nil
}

func (f *fakeWorkspaces) Checkpoint(ctx context.Context, h *models.WorkspaceHandle, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints++
	return true, nil
}

func (f *fakeWorkspaces) Get(branch string) (models.WorkspaceHandle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[branch]
	if !ok {
		return models.WorkspaceHandle{}, false
	}
	return *h, true
}

func (f *fakeWorkspaces) IsMerging(branch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.merging[branch]
}

// workerCall is one recorded invocation.
type workerCall struct {
	SprintID string
	Phase    models.Phase
	Role     models.Role
	Attempt  int
	Dir      string
	Feedback int
}

// scriptedWorker implements Worker. By default every phase produces a
// valid artifact; respond overrides the behaviour per call.
type scriptedWorker struct {
	mu      sync.Mutex
	calls   []workerCall
	active  map[string]int
	overlap bool // set if a sprint ever had two invocations at once

	respond func(ctx context.Context, wc WorkerContext) (WorkerResult, error)
}

func newScriptedWorker() *scriptedWorker {
	return &scriptedWorker{active: make(map[string]int)}
}

func (w *scriptedWorker) Invoke(ctx context.Context, role models.Role, wc WorkerContext) (WorkerResult, error) {
	w.mu.Lock()
	w.calls = append(w.calls, workerCall{
		SprintID: wc.Sprint.ID, Phase: wc.Phase, Role: role, Attempt: wc.Attempt, Dir: wc.Dir(), Feedback: len(wc.Feedback),
	})
	w.active[wc.Sprint.ID]++
	if w.active[wc.Sprint.ID] > 1 {
		w.overlap = true
	}
	respond := w.respond
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.active[wc.Sprint.ID]--
		w.mu.Unlock()
	}()

	if respond != nil {
		return respond(ctx, wc)
	}
	return success(wc.Phase), nil
}

func (w *scriptedWorker) callsFor(id string, phase models.Phase) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.calls {
		if c.SprintID == id && c.Phase == phase {
			n++
		}
	}
	return n
}

func (w *scriptedWorker) snapshot() []workerCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]workerCall(nil), w.calls...)
}

// goodArtifact returns an artifact that passes the default gates.
func goodArtifact(phase models.Phase) models.Artifact {
	switch phase.ExpectedArtifact() {
	case models.ArtifactTest:
		return models.Artifact{Kind: models.ArtifactTest, Path: "auth_test.go", Content: "package auth\n"}
	case models.ArtifactSource:
		return models.Artifact{Kind: models.ArtifactSource, Path: "auth.go", Content: "package auth\n"}
	case models.ArtifactReview:
		return models.Artifact{Kind: models.ArtifactReview, Content: "verdict: approve\nsummary: looks right\n"}
	default:
		return models.Artifact{Kind: models.ArtifactTestReport, Content: "status: passed\nsummary: all green\n"}
	}
}

func success(phase models.Phase) WorkerResult {
	return WorkerResult{Success: true, Artifacts: []models.Artifact{goodArtifact(phase)}, RawOutput: "done"}
}

type harness struct {
	orch       *Orchestrator
	store      *progress.Store
	workspaces *fakeWorkspaces
	worker     *scriptedWorker
	history    *history.Store
	metrics    *metrics.Collector
	failureDir string
}

func newHarness(t *testing.T, sprints []*models.Sprint, mutate ...func(*Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	store, err := progress.Create(ctx, filepath.Join(dir, "progress.yaml"), progress.Project{Name: "test"}, sprints)
	require.NoError(t, err)

	hist, err := history.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	h := &harness{
		store:      store,
		workspaces: newFakeWorkspaces(filepath.Join(dir, "workspaces")),
		worker:     newScriptedWorker(),
		history:    hist,
		metrics:    metrics.New(),
		failureDir: filepath.Join(dir, "failures"),
	}

	cfg := Config{
		Store:         store,
		Workspaces:    h.workspaces,
		Worker:        h.worker,
		History:       hist,
		Metrics:       h.metrics,
		MaxRetries:    3,
		MaxIterations: 50,
		Concurrency:   2,
		AutoFix:       true,
		FailureDir:    h.failureDir,
		ReportLimit:   8192,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.orch, err = New(cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) sprint(t *testing.T, id string) *models.Sprint {
	t.Helper()
	s, err := h.store.Sprint(id)
	require.NoError(t, err)
	return s
}

func sprintAt(id string, status models.Phase, deps ...string) *models.Sprint {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.Sprint{
		ID:        id,
		Goal:      "deliver sprint " + id,
		Status:    status,
		DependsOn: deps,
		Tasks:     []models.Task{{Title: "task for " + id}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
