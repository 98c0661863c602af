package workspace

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes a command in dir and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args in dir.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// gitOps wraps the git commands the manager needs. Mutating commands run
// through the injected CommandRunner; ref lookups go through RefReader.
type gitOps struct {
	runner CommandRunner
	root   string
}

func (g *gitOps) run(ctx context.Context, dir string, args ...string) (string, error) {
	return g.runner.Run(ctx, dir, "git", args...)
}

// addWorktree materializes branch at path. A new branch is cut from base.
func (g *gitOps) addWorktree(ctx context.Context, path, branch, base string, newBranch bool) error {
	var err error
	if newBranch {
		_, err = g.run(ctx, g.root, "worktree", "add", "-b", branch, path, base)
	} else {
		_, err = g.run(ctx, g.root, "worktree", "add", path, branch)
	}
	if err != nil {
		return fmt.Errorf("failed to create worktree %s: %w", path, err)
	}
	return nil
}

// removeWorktree force-removes the working copy at path.
func (g *gitOps) removeWorktree(ctx context.Context, path string) error {
	if _, err := g.run(ctx, g.root, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("failed to remove worktree %s: %w", path, err)
	}
	return nil
}

// pruneWorktrees drops administrative data for working copies that vanished.
func (g *gitOps) pruneWorktrees(ctx context.Context) error {
	if _, err := g.run(ctx, g.root, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

// deleteBranch force-deletes branch.
func (g *gitOps) deleteBranch(ctx context.Context, branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if _, err := g.run(ctx, g.root, "branch", "-D", branch); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", branch, err)
	}
	return nil
}

// commitAll stages and commits everything in dir. It reports whether a
// commit was made; a clean tree is not an error.
func (g *gitOps) commitAll(ctx context.Context, dir, message string) (bool, error) {
	if _, err := g.run(ctx, dir, "add", "-A"); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w", err)
	}
	status, err := g.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check git status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	if _, err := g.run(ctx, dir, "commit", "--no-verify", "-m", message); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

// head returns the branch checked out in the root checkout, or the commit
// hash when HEAD is detached.
func (g *gitOps) head(ctx context.Context) (string, error) {
	out, err := g.run(ctx, g.root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	ref := strings.TrimSpace(out)
	if ref != "HEAD" {
		return ref, nil
	}
	out, err = g.run(ctx, g.root, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// merge merges branch into the integration branch in the root checkout.
// On failure the merge is aborted and a *MergeConflictError lists the
// unmerged paths. The root checkout is returned to whatever was checked out
// before, whether or not the merge succeeded.
func (g *gitOps) merge(ctx context.Context, branch, into string) (err error) {
	previous, err := g.head(ctx)
	if err != nil {
		return err
	}
	if _, err := g.run(ctx, g.root, "checkout", into); err != nil {
		return fmt.Errorf("failed to switch to %s: %w", into, err)
	}
	if previous != "" && previous != into {
		defer func() {
			if _, restoreErr := g.run(ctx, g.root, "checkout", previous); restoreErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to switch back to %s: %w", previous, restoreErr))
			}
		}()
	}

	_, mergeErr := g.run(ctx, g.root, "merge", "--no-ff", "--no-edit", branch)
	if mergeErr == nil {
		return nil
	}

	out, err := g.run(ctx, g.root, "diff", "--name-only", "--diff-filter=U")
	paths := splitLines(out)
	if _, abortErr := g.run(ctx, g.root, "merge", "--abort"); abortErr != nil {
		mergeErr = errors.Join(mergeErr, abortErr)
	}
	if err != nil || len(paths) == 0 {
		return fmt.Errorf("failed to merge %s into %s: %w", branch, into, mergeErr)
	}
	return &MergeConflictError{Branch: branch, Into: into, Paths: paths}
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
