// Package repo provides the domain model for tracked source repositories.
package repo

import (
	"strings"
	"time"

	"github.com/deplai/api/pkg/domain/shared"
)

// Repo represents a GitHub repository visible through an App installation.
// It carries the sync bookkeeping the clone cache depends on: the freshness
// flag, the last synced commit and the last clone/push timestamps.
type Repo struct {
	ID             shared.ID
	InstallationID int64 // provider installation id that grants access
	RepoID         int64 // provider-assigned repository id
	FullName       string
	Owner          string
	Name           string
	Private        bool
	DefaultBranch  string
	Languages      map[string]int64 // language -> byte count, as reported by the provider

	NeedsRefresh  bool
	LastCommitSha string
	LastClonedAt  *time.Time
	LastPushAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a repository record from provider data.
func New(installationID, repoID int64, fullName string, private bool, defaultBranch string) (*Repo, error) {
	if repoID <= 0 {
		return nil, shared.NewDomainError("VALIDATION", "repo_id must be positive", shared.ErrValidation)
	}
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return nil, shared.NewDomainError("VALIDATION", "full_name must be owner/name", shared.ErrValidation)
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	now := time.Now()
	return &Repo{
		ID:             shared.NewID(),
		InstallationID: installationID,
		RepoID:         repoID,
		FullName:       fullName,
		Owner:          owner,
		Name:           name,
		Private:        private,
		DefaultBranch:  defaultBranch,
		NeedsRefresh:   true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// RemoteURL returns the HTTPS clone URL. Authentication is supplied at the
// transport layer, never embedded in the URL.
func (r *Repo) RemoteURL() string {
	return "https://github.com/" + r.FullName + ".git"
}

// MarkStale flags the repository for refresh after a push.
func (r *Repo) MarkStale(pushedAt time.Time) {
	r.NeedsRefresh = true
	r.LastPushAt = &pushedAt
	r.UpdatedAt = time.Now()
}

// Invalidate flags the repository for refresh without recording a push.
func (r *Repo) Invalidate() {
	r.NeedsRefresh = true
	r.UpdatedAt = time.Now()
}

// MarkSynced records a completed sync. The freshness flag, commit pointer and
// clone timestamp always change together.
func (r *Repo) MarkSynced(commitSha string, at time.Time) {
	r.NeedsRefresh = false
	r.LastCommitSha = commitSha
	r.LastClonedAt = &at
	r.UpdatedAt = at
}

// CorrectDefaultBranch persists a branch-name correction discovered during
// clone fallback so later syncs skip the failed attempt.
func (r *Repo) CorrectDefaultBranch(branch string) {
	r.DefaultBranch = branch
	r.UpdatedAt = time.Now()
}
