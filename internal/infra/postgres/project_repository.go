package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/deplai/api/pkg/domain/project"
	"github.com/deplai/api/pkg/domain/shared"
)

// ProjectRepository implements project.Repository using PostgreSQL.
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create persists a new project. A unique index on repository_id keeps the
// wrapper project per repository singular even under concurrent creation.
func (r *ProjectRepository) Create(ctx context.Context, p *project.Project) error {
	query := `
		INSERT INTO projects (
			id, user_id, name, type, repository_id, local_path,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		p.ID.String(),
		p.UserID.String(),
		p.Name,
		string(p.Type),
		nullID(p.RepositoryID),
		nullString(p.LocalPath),
		p.CreatedAt,
		p.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return shared.NewDomainError("ALREADY_EXISTS", "project already exists for repository", shared.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

// GetByID retrieves a project by ID.
func (r *ProjectRepository) GetByID(ctx context.Context, id shared.ID) (*project.Project, error) {
	query := r.selectQuery() + " WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id.String())
	return r.scanFromRow(row)
}

// GetByRepositoryID retrieves the wrapper project for a repository.
func (r *ProjectRepository) GetByRepositoryID(ctx context.Context, repositoryID shared.ID) (*project.Project, error) {
	query := r.selectQuery() + " WHERE repository_id = $1"
	row := r.db.QueryRowContext(ctx, query, repositoryID.String())
	return r.scanFromRow(row)
}

// ListByUser lists projects owned by a user.
func (r *ProjectRepository) ListByUser(ctx context.Context, userID shared.ID) ([]*project.Project, error) {
	query := r.selectQuery() + " WHERE user_id = $1 ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*project.Project
	for rows.Next() {
		p, err := r.scanFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return projects, nil
}

// Helper methods

func (r *ProjectRepository) selectQuery() string {
	return `
		SELECT
			id, user_id, name, type, repository_id, local_path,
			created_at, updated_at
		FROM projects
	`
}

func (r *ProjectRepository) scanFromRow(row *sql.Row) (*project.Project, error) {
	p := &project.Project{}
	var (
		id           string
		userID       string
		projectType  string
		repositoryID sql.NullString
		localPath    sql.NullString
	)

	err := row.Scan(
		&id, &userID, &p.Name, &projectType, &repositoryID, &localPath,
		&p.CreatedAt, &p.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "project not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	p.ID = shared.MustIDFromString(id)
	p.UserID = shared.MustIDFromString(userID)
	p.Type = project.Type(projectType)
	p.RepositoryID = parseNullID(repositoryID)
	p.LocalPath = nullStringValue(localPath)

	return p, nil
}

func (r *ProjectRepository) scanFromRows(rows *sql.Rows) (*project.Project, error) {
	p := &project.Project{}
	var (
		id           string
		userID       string
		projectType  string
		repositoryID sql.NullString
		localPath    sql.NullString
	)

	err := rows.Scan(
		&id, &userID, &p.Name, &projectType, &repositoryID, &localPath,
		&p.CreatedAt, &p.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	p.ID = shared.MustIDFromString(id)
	p.UserID = shared.MustIDFromString(userID)
	p.Type = project.Type(projectType)
	p.RepositoryID = parseNullID(repositoryID)
	p.LocalPath = nullStringValue(localPath)

	return p, nil
}

// Ensure implementation
var _ project.Repository = (*ProjectRepository)(nil)
