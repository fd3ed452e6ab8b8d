package project

import (
	"context"

	"github.com/deplai/api/pkg/domain/shared"
)

// Repository defines the interface for project persistence.
type Repository interface {
	// Create persists a new project.
	Create(ctx context.Context, p *Project) error

	// GetByID retrieves a project by ID.
	GetByID(ctx context.Context, id shared.ID) (*Project, error)

	// GetByRepositoryID retrieves the wrapper project for a repository,
	// if one exists.
	GetByRepositoryID(ctx context.Context, repositoryID shared.ID) (*Project, error)

	// ListByUser lists projects owned by a user.
	ListByUser(ctx context.Context, userID shared.ID) ([]*Project, error)
}
