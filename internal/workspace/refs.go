package workspace

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// RefReader answers read-only questions about branches.
type RefReader interface {
	// BranchExists reports whether refs/heads/<branch> exists.
	BranchExists(branch string) (bool, error)

	// Tip returns the commit hash branch points at.
	Tip(branch string) (string, error)
}

// RepoRefs reads refs from the repository at Root with go-git, without
// shelling out and without touching the index or working tree.
type RepoRefs struct {
	Root string
}

func (r RepoRefs) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(r.Root, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", r.Root, err)
	}
	return repo, nil
}

// BranchExists reports whether the local branch exists.
func (r RepoRefs) BranchExists(branch string) (bool, error) {
	repo, err := r.open()
	if err != nil {
		return false, err
	}
	_, err = repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	return true, nil
}

// Tip resolves the commit hash branch points at.
func (r RepoRefs) Tip(branch string) (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	return ref.Hash().String(), nil
}
