// Package project provides the domain model for scan targets.
package project

import (
	"time"

	"github.com/deplai/api/pkg/domain/shared"
)

// Type represents the kind of project.
type Type string

const (
	TypeLocal  Type = "local"  // uploaded/local source tree
	TypeGitHub Type = "github" // backed by a tracked repository
)

// Project is the unit a scan targets. GitHub-backed repositories get exactly
// one wrapper project each, created lazily on first scan.
type Project struct {
	ID           shared.ID
	UserID       shared.ID
	Name         string
	Type         Type
	RepositoryID *shared.ID // set for github projects
	LocalPath    string     // set for local projects

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewGitHubProject creates a wrapper project for a tracked repository.
func NewGitHubProject(userID, repositoryID shared.ID, name string) (*Project, error) {
	if name == "" {
		return nil, shared.NewDomainError("VALIDATION", "name is required", shared.ErrValidation)
	}

	now := time.Now()
	return &Project{
		ID:           shared.NewID(),
		UserID:       userID,
		Name:         name,
		Type:         TypeGitHub,
		RepositoryID: &repositoryID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewLocalProject creates a project over an uploaded source tree.
func NewLocalProject(userID shared.ID, name, localPath string) (*Project, error) {
	if name == "" {
		return nil, shared.NewDomainError("VALIDATION", "name is required", shared.ErrValidation)
	}
	if localPath == "" {
		return nil, shared.NewDomainError("VALIDATION", "local_path is required", shared.ErrValidation)
	}

	now := time.Now()
	return &Project{
		ID:        shared.NewID(),
		UserID:    userID,
		Name:      name,
		Type:      TypeLocal,
		LocalPath: localPath,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// OwnedBy reports whether the project belongs to the given user.
func (p *Project) OwnedBy(userID shared.ID) bool {
	return p.UserID.Equals(userID)
}
