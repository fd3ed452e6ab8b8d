package run

import (
	"context"
	"time"

	"github.com/deplai/api/pkg/domain/shared"
)

// Repository defines the interface for run persistence.
type Repository interface {
	// Create persists a new run.
	Create(ctx context.Context, r *Run) error

	// GetByID retrieves a run by ID.
	GetByID(ctx context.Context, id shared.ID) (*Run, error)

	// Update updates a run row.
	Update(ctx context.Context, r *Run) error

	// FindLatestCompleted returns the most recent completed run for a
	// project, or shared.ErrNotFound.
	FindLatestCompleted(ctx context.Context, projectID shared.ID) (*Run, error)

	// Finalize atomically writes the terminal outcome and inserts the
	// run's findings in one transaction.
	Finalize(ctx context.Context, r *Run, findings []*Finding) error

	// ListStaleRunning lists runs still running that started before the
	// cutoff, for the stale-run sweeper.
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*Run, error)
}

// FindingRepository defines the interface for finding persistence.
type FindingRepository interface {
	// CreateBatch inserts findings append-only.
	CreateBatch(ctx context.Context, findings []*Finding) error

	// ListByRun lists findings for a run.
	ListByRun(ctx context.Context, runID shared.ID) ([]*Finding, error)
}
