package main

import (
	"github.com/deplai/api/internal/infra/postgres"
)

// Repositories holds all repository instances.
type Repositories struct {
	// GitHub App state
	Installation *postgres.InstallationRepository
	TokenCache   *postgres.AccessTokenRepository

	// Source tracking
	Repo    *postgres.RepoRepository
	Project *postgres.ProjectRepository

	// Scanning
	Run     *postgres.RunRepository
	Finding *postgres.FindingRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *postgres.DB) *Repositories {
	return &Repositories{
		Installation: postgres.NewInstallationRepository(db),
		TokenCache:   postgres.NewAccessTokenRepository(db),
		Repo:         postgres.NewRepoRepository(db),
		Project:      postgres.NewProjectRepository(db),
		Run:          postgres.NewRunRepository(db),
		Finding:      postgres.NewFindingRepository(db),
	}
}
