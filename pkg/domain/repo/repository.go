package repo

import (
	"context"

	"github.com/deplai/api/pkg/domain/shared"
)

// Repository defines the interface for repo persistence.
type Repository interface {
	// Upsert inserts the repo or updates the existing row with the same
	// provider repo id. Sync bookkeeping fields are preserved on update.
	Upsert(ctx context.Context, r *Repo) error

	// GetByID retrieves a repo by internal ID.
	GetByID(ctx context.Context, id shared.ID) (*Repo, error)

	// GetByRepoID retrieves a repo by provider repo id.
	GetByRepoID(ctx context.Context, repoID int64) (*Repo, error)

	// GetByFullName retrieves a repo by its owner/name.
	GetByFullName(ctx context.Context, fullName string) (*Repo, error)

	// Update updates a repo row.
	Update(ctx context.Context, r *Repo) error

	// UpdateSyncState persists the freshness flag, commit pointer and clone
	// timestamp in a single statement.
	UpdateSyncState(ctx context.Context, r *Repo) error

	// DeleteByRepoIDs removes repos by provider repo ids.
	DeleteByRepoIDs(ctx context.Context, repoIDs []int64) error

	// ListByInstallation lists repos granted by an installation.
	ListByInstallation(ctx context.Context, installationID int64) ([]*Repo, error)
}
