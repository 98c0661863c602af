// Package workspace isolates concurrently running units of work.
//
// Each handle couples a branch, a git worktree and a block of network ports.
// Port blocks come from an arena allocator guarded by a single mutex, so two
// sprints starting at the same moment can never share a port.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harrison/cadence/internal/filelock"
	"github.com/harrison/cadence/internal/metrics"
	"github.com/harrison/cadence/internal/models"
)

// Options configures a Manager.
type Options struct {
	Root              string // Repository owning the integration branch
	Dir               string // Where working copies are created
	IntegrationBranch string
	BasePort          int
	Stride            int
	MaxProbe          int
	EnvFiles          []string // Relative to the workspace root

	Runner  CommandRunner // Defaults to ExecRunner
	Refs    RefReader     // Defaults to RepoRefs{Root}
	Metrics *metrics.Collector
	Now     func() time.Time
}

// Manager creates, merges, deletes and lists workspaces.
type Manager struct {
	opts  Options
	alloc *Allocator
	git   *gitOps
	refs  RefReader

	// mu guards handles and merging.
	mu       sync.Mutex
	handles  map[string]*models.WorkspaceHandle // keyed by branch
	merging  map[string]bool
	creating map[string]bool

	// gitMu serializes commands against the root checkout.
	gitMu sync.Mutex
}

// NewManager builds a manager and rebuilds allocator state from the registry.
func NewManager(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, errors.New("workspace dir is required")
	}
	if opts.Stride <= 0 {
		return nil, fmt.Errorf("stride must be > 0, got %d", opts.Stride)
	}
	if opts.IntegrationBranch == "" {
		opts.IntegrationBranch = "main"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Refs == nil {
		opts.Refs = RepoRefs{Root: opts.Root}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	m := &Manager{
		opts:     opts,
		alloc:    NewAllocator(opts.BasePort, opts.Stride, opts.MaxProbe),
		git:      &gitOps{runner: opts.Runner, root: opts.Root},
		refs:     opts.Refs,
		handles:  make(map[string]*models.WorkspaceHandle),
		merging:  make(map[string]bool),
		creating: make(map[string]bool),
	}

	handles, err := loadRegistry(m.registryPath())
	if err != nil {
		return nil, err
	}
	for i := range handles {
		h := handles[i]
		count := h.PortCount
		if count == 0 {
			count = opts.Stride
		}
		if err := m.alloc.Reserve(h.Branch, h.PortBase, count); err != nil {
			return nil, fmt.Errorf("workspace registry: %w", err)
		}
		m.handles[h.Branch] = &h
	}
	m.opts.Metrics.SetWorkspacesLive(len(m.handles))
	return m, nil
}

func (m *Manager) registryPath() string {
	return filepath.Join(m.opts.Dir, RegistryFile)
}

// Slug lowercases key and replaces runs of non-alphanumerics with '-'.
func Slug(key string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(key) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

var firstNumber = regexp.MustCompile(`\d+`)

// Slot returns the first integer in key, or 0 when there is none.
func Slot(key string) int {
	digits := firstNumber.FindString(key)
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n > 1<<16 {
		return 0
	}
	return n
}

// BranchName derives the branch for kind and key, e.g. sprint/3-auth-flow.
func BranchName(kind models.WorkspaceKind, key string) string {
	return string(kind) + "/" + Slug(key)
}

// Create allocates a workspace for (kind, key). If one already exists for
// the derived branch it is returned unchanged.
func (m *Manager) Create(ctx context.Context, kind models.WorkspaceKind, key string) (*models.WorkspaceHandle, error) {
	if _, err := models.ParseWorkspaceKind(string(kind)); err != nil {
		return nil, err
	}
	slug := Slug(key)
	if slug == "" {
		return nil, fmt.Errorf("workspace key %q has no usable characters", key)
	}
	branch := BranchName(kind, key)

	m.mu.Lock()
	if h, ok := m.handles[branch]; ok {
		out := *h
		m.mu.Unlock()
		return &out, nil
	}
	if m.creating[branch] {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is being created", ErrWorkspaceBusy, branch)
	}
	base, err := m.alloc.Allocate(branch, Slot(key))
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.creating[branch] = true
	m.mu.Unlock()

	handle := &models.WorkspaceHandle{
		Kind:      kind,
		Key:       key,
		Branch:    branch,
		Path:      filepath.Join(m.opts.Dir, string(kind)+"-"+slug),
		PortBase:  base,
		PortCount: m.alloc.Stride(),
		CreatedAt: m.opts.Now(),
	}

	if err := m.materialize(ctx, handle); err != nil {
		m.mu.Lock()
		delete(m.creating, branch)
		m.mu.Unlock()
		m.alloc.Release(branch)
		return nil, err
	}

	m.mu.Lock()
	delete(m.creating, branch)
	m.handles[branch] = handle
	err = m.saveLocked(ctx)
	if err != nil {
		delete(m.handles, branch)
	}
	live := len(m.handles)
	m.mu.Unlock()
	if err != nil {
		m.alloc.Release(branch)
		return nil, err
	}
	m.opts.Metrics.SetWorkspacesLive(live)

	out := *handle
	return &out, nil
}

// materialize creates the worktree and rewrites its environment files.
func (m *Manager) materialize(ctx context.Context, h *models.WorkspaceHandle) error {
	m.gitMu.Lock()
	defer m.gitMu.Unlock()

	exists, err := m.refs.BranchExists(h.Branch)
	if err != nil {
		return err
	}
	switch {
	case exists && dirExists(h.Path):
		// left behind by an interrupted run; adopt it
	case exists:
		if err := m.git.addWorktree(ctx, h.Path, h.Branch, "", false); err != nil {
			return err
		}
	default:
		tip, err := m.refs.Tip(m.opts.IntegrationBranch)
		if err != nil {
			return fmt.Errorf("resolve integration tip: %w", err)
		}
		if err := m.git.addWorktree(ctx, h.Path, h.Branch, tip, true); err != nil {
			return err
		}
	}

	var files []string
	for _, name := range m.opts.EnvFiles {
		dst := filepath.Join(h.Path, name)
		if err := copyIfMissing(filepath.Join(m.opts.Root, name), dst); err != nil {
			return err
		}
		files = append(files, dst)
	}
	if _, err := RewritePorts(files, h.PortBase, h.PortCount); err != nil {
		return err
	}
	return nil
}

// Merge integrates the handle's branch into the integration branch and
// deletes the workspace. On conflict the workspace is left untouched and a
// *MergeConflictError is returned.
func (m *Manager) Merge(ctx context.Context, h *models.WorkspaceHandle) error {
	m.mu.Lock()
	current, ok := m.handles[h.Branch]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWorkspace, h.Branch)
	}
	if m.merging[h.Branch] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkspaceBusy, h.Branch)
	}
	m.merging[h.Branch] = true
	path := current.Path
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.merging, h.Branch)
		m.mu.Unlock()
	}()

	// Other processes see the merge through the branch's lock file.
	lock := m.mergeLock(h.Branch)
	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWorkspaceBusy, h.Branch, err)
	}
	defer lock.Release()

	if dirExists(path) {
		if _, err := m.git.commitAll(ctx, path, fmt.Sprintf("cadence: finalize %s", h.Branch)); err != nil {
			return err
		}
	}

	m.gitMu.Lock()
	err := m.git.merge(ctx, h.Branch, m.opts.IntegrationBranch)
	m.gitMu.Unlock()
	if err != nil {
		return err
	}

	return m.remove(ctx, current)
}

// Delete removes the handle, its working copy and its branch. Deleting a
// handle that no longer exists is not an error.
func (m *Manager) Delete(ctx context.Context, h *models.WorkspaceHandle) error {
	if m.IsMerging(h.Branch) {
		return fmt.Errorf("%w: %s", ErrWorkspaceBusy, h.Branch)
	}
	m.mu.Lock()
	target := h
	if current, ok := m.handles[h.Branch]; ok {
		target = current
	}
	m.mu.Unlock()

	return m.remove(ctx, target)
}

func (m *Manager) remove(ctx context.Context, h *models.WorkspaceHandle) error {
	m.gitMu.Lock()
	if dirExists(h.Path) {
		if err := m.git.removeWorktree(ctx, h.Path); err != nil {
			if rmErr := os.RemoveAll(h.Path); rmErr != nil {
				m.gitMu.Unlock()
				return errors.Join(err, rmErr)
			}
			_ = m.git.pruneWorktrees(ctx)
		}
	}
	exists, err := m.refs.BranchExists(h.Branch)
	if err == nil && exists {
		err = m.git.deleteBranch(ctx, h.Branch)
	}
	m.gitMu.Unlock()
	if err != nil {
		return err
	}

	return m.forget(ctx, h.Branch)
}

// forget drops the handle from the registry and releases its ports.
func (m *Manager) forget(ctx context.Context, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handles[branch]; !ok {
		m.alloc.Release(branch)
		return nil
	}
	delete(m.handles, branch)
	m.alloc.Release(branch)
	m.opts.Metrics.SetWorkspacesLive(len(m.handles))
	return m.saveLocked(ctx)
}

// Prune removes handles whose branch no longer exists, skipping any handle
// for which live returns true. It returns the pruned handles.
func (m *Manager) Prune(ctx context.Context, live func(models.WorkspaceHandle) bool) ([]models.WorkspaceHandle, error) {
	var pruned []models.WorkspaceHandle
	for _, h := range m.List() {
		if live != nil && live(h) {
			continue
		}
		if m.IsMerging(h.Branch) {
			continue
		}
		exists, err := m.refs.BranchExists(h.Branch)
		if err != nil {
			return pruned, err
		}
		if exists {
			continue
		}
		if dirExists(h.Path) {
			if err := os.RemoveAll(h.Path); err != nil {
				return pruned, fmt.Errorf("remove %s: %w", h.Path, err)
			}
		}
		if err := m.forget(ctx, h.Branch); err != nil {
			return pruned, err
		}
		pruned = append(pruned, h)
	}
	if len(pruned) > 0 {
		m.gitMu.Lock()
		err := m.git.pruneWorktrees(ctx)
		m.gitMu.Unlock()
		if err != nil {
			return pruned, err
		}
	}
	return pruned, nil
}

// Checkpoint commits all pending changes in the workspace.
func (m *Manager) Checkpoint(ctx context.Context, h *models.WorkspaceHandle, message string) (bool, error) {
	return m.git.commitAll(ctx, h.Path, message)
}

// List returns copies of all known handles ordered by port base.
func (m *Manager) List() []models.WorkspaceHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WorkspaceHandle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PortBase < out[j].PortBase })
	return out
}

// Get returns the handle for branch.
func (m *Manager) Get(branch string) (models.WorkspaceHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[branch]
	if !ok {
		return models.WorkspaceHandle{}, false
	}
	return *h, true
}

// IsMerging reports whether branch is currently being merged by this or
// any other process sharing the workspace directory.
func (m *Manager) IsMerging(branch string) bool {
	m.mu.Lock()
	local := m.merging[branch]
	m.mu.Unlock()
	if local {
		return true
	}

	lock := m.mergeLock(branch)
	ok, err := lock.TryAcquire()
	if err != nil {
		return false
	}
	if !ok {
		return true
	}
	lock.Release()
	return false
}

// mergeLock is the lock held for the duration of a merge of branch.
func (m *Manager) mergeLock(branch string) *filelock.Lock {
	name := strings.ReplaceAll(branch, "/", "_") + ".merge.lock"
	return filelock.New(filepath.Join(m.opts.Dir, ".locks", name))
}

func (m *Manager) saveLocked(ctx context.Context) error {
	handles := make([]models.WorkspaceHandle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, *h)
	}
	return saveRegistry(ctx, m.registryPath(), handles)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// copyIfMissing copies src to dst when dst does not exist and src does.
// Untracked files such as .env are not part of a fresh worktree.
func copyIfMissing(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
