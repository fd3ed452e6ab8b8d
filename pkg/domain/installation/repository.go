package installation

import (
	"context"
	"time"

	"github.com/deplai/api/pkg/domain/shared"
)

// Repository defines the interface for installation persistence.
type Repository interface {
	// Upsert inserts the installation or updates the existing row with the
	// same provider installation id.
	Upsert(ctx context.Context, inst *Installation) error

	// GetByInstallationID retrieves an installation by provider installation id.
	GetByInstallationID(ctx context.Context, installationID int64) (*Installation, error)

	// Update updates a mutable installation row.
	Update(ctx context.Context, inst *Installation) error

	// Delete removes an installation by provider installation id.
	Delete(ctx context.Context, installationID int64) error

	// List lists installations with filtering.
	List(ctx context.Context, filter Filter) ([]*Installation, error)
}

// Filter defines the filter options for listing installations.
type Filter struct {
	UserID       *shared.ID
	AccountLogin string
	Suspended    *bool
}

// TokenCache stores cached installation access tokens. Inserts only; the
// newest unexpired row per installation wins and stale rows are swept out of
// band.
type TokenCache interface {
	// Get returns the newest unexpired token for the installation, or
	// shared.ErrNotFound when the cache has nothing usable.
	Get(ctx context.Context, installationID int64) (*AccessToken, error)

	// Put inserts a freshly minted token.
	Put(ctx context.Context, token *AccessToken) error

	// DeleteExpiredBefore removes tokens that expired before the cutoff.
	// Returns the number of rows removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
