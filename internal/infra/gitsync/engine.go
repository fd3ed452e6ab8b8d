// Package gitsync maintains local working copies of tracked repositories.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Request describes one sync operation.
type Request struct {
	// URL is the authenticated HTTPS clone URL.
	URL string
	// Branch is the branch to check out.
	Branch string
	// Dir is the working copy directory on this host.
	Dir string
	// Token is the installation token for transport auth.
	Token string
}

// Result is the outcome of a successful sync.
type Result struct {
	// CommitSha is the working copy HEAD after the sync.
	CommitSha string
	// Branch is the branch actually checked out. Differs from the request
	// when the clone fell back to the alternate default branch name.
	Branch string
	// Cloned is true for a fresh clone, false for a pull.
	Cloned bool
}

// Engine performs clone and pull operations.
type Engine interface {
	// Sync clones the repository into dir, or pulls if a working copy
	// already exists there.
	Sync(ctx context.Context, req Request) (*Result, error)

	// HasWorkingCopy reports whether dir holds a usable working copy.
	HasWorkingCopy(dir string) bool
}

// ErrBranchNotFound is returned when neither the requested branch nor its
// fallback exists upstream.
var ErrBranchNotFound = errors.New("branch not found upstream")

// GoGitEngine implements Engine using go-git.
type GoGitEngine struct{}

// NewGoGitEngine creates a new GoGitEngine.
func NewGoGitEngine() *GoGitEngine {
	return &GoGitEngine{}
}

// HasWorkingCopy reports whether dir holds a git working copy.
func (e *GoGitEngine) HasWorkingCopy(dir string) bool {
	_, err := git.PlainOpen(dir)
	return err == nil
}

// Sync clones or pulls the repository and returns the resulting HEAD.
func (e *GoGitEngine) Sync(ctx context.Context, req Request) (*Result, error) {
	auth := &http.BasicAuth{
		Username: "x-access-token", // GitHub convention for installation tokens
		Password: req.Token,
	}

	if repo, err := git.PlainOpen(req.Dir); err == nil {
		sha, err := e.pull(ctx, repo, auth)
		if err != nil {
			return nil, fmt.Errorf("failed to pull repository: %w", err)
		}
		return &Result{CommitSha: sha, Branch: req.Branch}, nil
	}

	repo, branch, err := e.clone(ctx, req, auth)
	if err != nil {
		return nil, err
	}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	return &Result{
		CommitSha: ref.Hash().String(),
		Branch:    branch,
		Cloned:    true,
	}, nil
}

func (e *GoGitEngine) clone(ctx context.Context, req Request, auth *http.BasicAuth) (*git.Repository, string, error) {
	opts := &git.CloneOptions{
		URL:           req.URL,
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(req.Branch),
		SingleBranch:  true,
		Depth:         1, // Shallow clone for efficiency
	}

	repo, err := git.PlainCloneContext(ctx, req.Dir, false, opts)
	if err == nil {
		return repo, req.Branch, nil
	}

	// Only a missing branch warrants the main/master retry; auth and
	// network failures surface as-is.
	fallback := fallbackBranch(req.Branch)
	if fallback == "" || !branchMissing(err) {
		return nil, "", fmt.Errorf("failed to clone repository: %w", err)
	}

	// A failed clone can leave a partial directory behind
	_ = os.RemoveAll(req.Dir)

	opts.ReferenceName = plumbing.NewBranchReferenceName(fallback)
	repo, err = git.PlainCloneContext(ctx, req.Dir, false, opts)
	if err == nil {
		return repo, fallback, nil
	}
	if branchMissing(err) {
		return nil, "", fmt.Errorf("%w: tried %q and %q", ErrBranchNotFound, req.Branch, fallback)
	}
	return nil, "", fmt.Errorf("failed to clone repository on branch %q: %w", fallback, err)
}

// branchMissing reports whether a clone failure means the requested branch
// does not exist upstream.
func branchMissing(err error) bool {
	return errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, git.NoMatchingRefSpecError{})
}

func (e *GoGitEngine) pull(ctx context.Context, repo *git.Repository, auth *http.BasicAuth) (string, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return "", err
	}

	err = worktree.PullContext(ctx, &git.PullOptions{
		Auth:       auth,
		RemoteName: "origin",
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", err
	}

	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}

	return ref.Hash().String(), nil
}

// fallbackBranch maps between the two common default branch names. Anything
// else has no fallback.
func fallbackBranch(branch string) string {
	switch branch {
	case "main":
		return "master"
	case "master":
		return "main"
	}
	return ""
}

// Ensure implementation
var _ Engine = (*GoGitEngine)(nil)
