package gitsync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/stretchr/testify/assert"
)

func TestFallbackBranch(t *testing.T) {
	assert.Equal(t, "master", fallbackBranch("main"))
	assert.Equal(t, "main", fallbackBranch("master"))
	assert.Equal(t, "", fallbackBranch("develop"))
	assert.Equal(t, "", fallbackBranch(""))
}

func TestBranchMissing(t *testing.T) {
	assert.True(t, branchMissing(plumbing.ErrReferenceNotFound))
	assert.True(t, branchMissing(git.NoMatchingRefSpecError{}))
	assert.True(t, branchMissing(fmt.Errorf("clone: %w", plumbing.ErrReferenceNotFound)))

	// Auth and network failures must not trigger the branch fallback.
	assert.False(t, branchMissing(transport.ErrAuthenticationRequired))
	assert.False(t, branchMissing(errors.New("dial tcp: connection refused")))
}

func TestHasWorkingCopy(t *testing.T) {
	e := NewGoGitEngine()
	assert.False(t, e.HasWorkingCopy(t.TempDir()))
	assert.False(t, e.HasWorkingCopy("/nonexistent/path"))
}
