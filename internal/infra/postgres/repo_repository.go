package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/deplai/api/pkg/domain/repo"
	"github.com/deplai/api/pkg/domain/shared"
)

// RepoRepository implements repo.Repository using PostgreSQL.
type RepoRepository struct {
	db *DB
}

// NewRepoRepository creates a new RepoRepository.
func NewRepoRepository(db *DB) *RepoRepository {
	return &RepoRepository{db: db}
}

// Upsert inserts or updates a repo keyed by provider repo id. A re-reported
// repository may have missed pushes while untracked, so the update marks it
// stale; the clone bookkeeping itself is left alone.
func (r *RepoRepository) Upsert(ctx context.Context, rp *repo.Repo) error {
	languages, err := toJSONB(rp.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}

	query := `
		INSERT INTO repositories (
			id, installation_id, repo_id,
			full_name, owner, name, private, default_branch, languages,
			needs_refresh, last_commit_sha, last_cloned_at, last_push_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (repo_id) DO UPDATE SET
			installation_id = EXCLUDED.installation_id,
			full_name = EXCLUDED.full_name,
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			private = EXCLUDED.private,
			default_branch = EXCLUDED.default_branch,
			languages = EXCLUDED.languages,
			needs_refresh = TRUE,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		rp.ID.String(),
		rp.InstallationID,
		rp.RepoID,
		rp.FullName,
		rp.Owner,
		rp.Name,
		rp.Private,
		rp.DefaultBranch,
		nullBytes(languages),
		rp.NeedsRefresh,
		nullString(rp.LastCommitSha),
		nullTime(rp.LastClonedAt),
		nullTime(rp.LastPushAt),
		rp.CreatedAt,
		rp.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert repository: %w", err)
	}

	return nil
}

// GetByID retrieves a repo by internal ID.
func (r *RepoRepository) GetByID(ctx context.Context, id shared.ID) (*repo.Repo, error) {
	query := r.selectQuery() + " WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id.String())
	return r.scanFromRow(row)
}

// GetByRepoID retrieves a repo by provider repo id.
func (r *RepoRepository) GetByRepoID(ctx context.Context, repoID int64) (*repo.Repo, error) {
	query := r.selectQuery() + " WHERE repo_id = $1"
	row := r.db.QueryRowContext(ctx, query, repoID)
	return r.scanFromRow(row)
}

// GetByFullName retrieves a repo by owner/name.
func (r *RepoRepository) GetByFullName(ctx context.Context, fullName string) (*repo.Repo, error) {
	query := r.selectQuery() + " WHERE full_name = $1"
	row := r.db.QueryRowContext(ctx, query, fullName)
	return r.scanFromRow(row)
}

// Update updates a repo row.
func (r *RepoRepository) Update(ctx context.Context, rp *repo.Repo) error {
	languages, err := toJSONB(rp.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}

	query := `
		UPDATE repositories SET
			installation_id = $2,
			full_name = $3,
			owner = $4,
			name = $5,
			private = $6,
			default_branch = $7,
			languages = $8,
			needs_refresh = $9,
			last_commit_sha = $10,
			last_cloned_at = $11,
			last_push_at = $12,
			updated_at = $13
		WHERE repo_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		rp.RepoID,
		rp.InstallationID,
		rp.FullName,
		rp.Owner,
		rp.Name,
		rp.Private,
		rp.DefaultBranch,
		nullBytes(languages),
		rp.NeedsRefresh,
		nullString(rp.LastCommitSha),
		nullTime(rp.LastClonedAt),
		nullTime(rp.LastPushAt),
		rp.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return shared.NewDomainError("NOT_FOUND", "repository not found", shared.ErrNotFound)
	}

	return nil
}

// UpdateSyncState persists the freshness flag, commit pointer and clone
// timestamp in one statement so a crash cannot leave them disagreeing.
func (r *RepoRepository) UpdateSyncState(ctx context.Context, rp *repo.Repo) error {
	query := `
		UPDATE repositories SET
			needs_refresh = $2,
			last_commit_sha = $3,
			last_cloned_at = $4,
			last_push_at = $5,
			default_branch = $6,
			updated_at = $7
		WHERE repo_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		rp.RepoID,
		rp.NeedsRefresh,
		nullString(rp.LastCommitSha),
		nullTime(rp.LastClonedAt),
		nullTime(rp.LastPushAt),
		rp.DefaultBranch,
		rp.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return shared.NewDomainError("NOT_FOUND", "repository not found", shared.ErrNotFound)
	}

	return nil
}

// DeleteByRepoIDs removes repos by provider repo ids.
func (r *RepoRepository) DeleteByRepoIDs(ctx context.Context, repoIDs []int64) error {
	if len(repoIDs) == 0 {
		return nil
	}

	query := "DELETE FROM repositories WHERE repo_id = ANY($1)"
	if _, err := r.db.ExecContext(ctx, query, pq.Array(repoIDs)); err != nil {
		return fmt.Errorf("failed to delete repositories: %w", err)
	}

	return nil
}

// ListByInstallation lists repos granted by an installation.
func (r *RepoRepository) ListByInstallation(ctx context.Context, installationID int64) ([]*repo.Repo, error) {
	query := r.selectQuery() + " WHERE installation_id = $1 ORDER BY full_name"

	rows, err := r.db.QueryContext(ctx, query, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*repo.Repo
	for rows.Next() {
		rp, err := r.scanFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		repos = append(repos, rp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return repos, nil
}

// Helper methods

func (r *RepoRepository) selectQuery() string {
	return `
		SELECT
			id, installation_id, repo_id,
			full_name, owner, name, private, default_branch, languages,
			needs_refresh, last_commit_sha, last_cloned_at, last_push_at,
			created_at, updated_at
		FROM repositories
	`
}

func (r *RepoRepository) scanFromRow(row *sql.Row) (*repo.Repo, error) {
	rp := &repo.Repo{}
	var (
		id            string
		languages     []byte
		lastCommitSha sql.NullString
		lastClonedAt  sql.NullTime
		lastPushAt    sql.NullTime
	)

	err := row.Scan(
		&id, &rp.InstallationID, &rp.RepoID,
		&rp.FullName, &rp.Owner, &rp.Name, &rp.Private, &rp.DefaultBranch, &languages,
		&rp.NeedsRefresh, &lastCommitSha, &lastClonedAt, &lastPushAt,
		&rp.CreatedAt, &rp.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "repository not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	rp.ID = shared.MustIDFromString(id)
	rp.LastCommitSha = nullStringValue(lastCommitSha)
	rp.LastClonedAt = nullTimeValue(lastClonedAt)
	rp.LastPushAt = nullTimeValue(lastPushAt)

	if err := fromJSONB(languages, &rp.Languages); err != nil {
		rp.Languages = nil
	}

	return rp, nil
}

func (r *RepoRepository) scanFromRows(rows *sql.Rows) (*repo.Repo, error) {
	rp := &repo.Repo{}
	var (
		id            string
		languages     []byte
		lastCommitSha sql.NullString
		lastClonedAt  sql.NullTime
		lastPushAt    sql.NullTime
	)

	err := rows.Scan(
		&id, &rp.InstallationID, &rp.RepoID,
		&rp.FullName, &rp.Owner, &rp.Name, &rp.Private, &rp.DefaultBranch, &languages,
		&rp.NeedsRefresh, &lastCommitSha, &lastClonedAt, &lastPushAt,
		&rp.CreatedAt, &rp.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	rp.ID = shared.MustIDFromString(id)
	rp.LastCommitSha = nullStringValue(lastCommitSha)
	rp.LastClonedAt = nullTimeValue(lastClonedAt)
	rp.LastPushAt = nullTimeValue(lastPushAt)

	if err := fromJSONB(languages, &rp.Languages); err != nil {
		rp.Languages = nil
	}

	return rp, nil
}

// Ensure implementation
var _ repo.Repository = (*RepoRepository)(nil)
