package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/deplai/api/pkg/domain/installation"
	"github.com/deplai/api/pkg/domain/shared"
)

// InstallationRepository implements installation.Repository using PostgreSQL.
type InstallationRepository struct {
	db *DB
}

// NewInstallationRepository creates a new InstallationRepository.
func NewInstallationRepository(db *DB) *InstallationRepository {
	return &InstallationRepository{db: db}
}

// Upsert inserts or updates an installation keyed by provider installation id.
func (r *InstallationRepository) Upsert(ctx context.Context, inst *installation.Installation) error {
	metadata, err := toJSONB(inst.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO installations (
			id, installation_id, account_login, account_type,
			user_id, suspended_at, metadata,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (installation_id) DO UPDATE SET
			account_login = EXCLUDED.account_login,
			account_type = EXCLUDED.account_type,
			suspended_at = EXCLUDED.suspended_at,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		inst.ID.String(),
		inst.InstallationID,
		inst.AccountLogin,
		string(inst.AccountType),
		nullID(inst.UserID),
		nullTime(inst.SuspendedAt),
		nullBytes(metadata),
		inst.CreatedAt,
		inst.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert installation: %w", err)
	}

	return nil
}

// GetByInstallationID retrieves an installation by provider installation id.
func (r *InstallationRepository) GetByInstallationID(ctx context.Context, installationID int64) (*installation.Installation, error) {
	query := r.selectQuery() + " WHERE installation_id = $1"
	row := r.db.QueryRowContext(ctx, query, installationID)
	return r.scanFromRow(row)
}

// Update updates a mutable installation row.
func (r *InstallationRepository) Update(ctx context.Context, inst *installation.Installation) error {
	metadata, err := toJSONB(inst.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE installations SET
			account_login = $2,
			account_type = $3,
			user_id = $4,
			suspended_at = $5,
			metadata = $6,
			updated_at = $7
		WHERE installation_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		inst.InstallationID,
		inst.AccountLogin,
		string(inst.AccountType),
		nullID(inst.UserID),
		nullTime(inst.SuspendedAt),
		nullBytes(metadata),
		inst.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update installation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return shared.NewDomainError("NOT_FOUND", "installation not found", shared.ErrNotFound)
	}

	return nil
}

// Delete removes an installation by provider installation id.
func (r *InstallationRepository) Delete(ctx context.Context, installationID int64) error {
	query := "DELETE FROM installations WHERE installation_id = $1"
	result, err := r.db.ExecContext(ctx, query, installationID)
	if err != nil {
		return fmt.Errorf("failed to delete installation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return shared.NewDomainError("NOT_FOUND", "installation not found", shared.ErrNotFound)
	}

	return nil
}

// List lists installations with filtering.
func (r *InstallationRepository) List(ctx context.Context, filter installation.Filter) ([]*installation.Installation, error) {
	query := r.selectQuery()
	whereClause, args := r.buildWhereClause(filter)
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list installations: %w", err)
	}
	defer rows.Close()

	var installations []*installation.Installation
	for rows.Next() {
		inst, err := r.scanFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		installations = append(installations, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return installations, nil
}

// Helper methods

func (r *InstallationRepository) selectQuery() string {
	return `
		SELECT
			id, installation_id, account_login, account_type,
			user_id, suspended_at, metadata,
			created_at, updated_at
		FROM installations
	`
}

func (r *InstallationRepository) buildWhereClause(filter installation.Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, filter.UserID.String())
		argIndex++
	}

	if filter.AccountLogin != "" {
		conditions = append(conditions, fmt.Sprintf("account_login = $%d", argIndex))
		args = append(args, filter.AccountLogin)
		argIndex++
	}

	if filter.Suspended != nil {
		if *filter.Suspended {
			conditions = append(conditions, "suspended_at IS NOT NULL")
		} else {
			conditions = append(conditions, "suspended_at IS NULL")
		}
	}

	return strings.Join(conditions, " AND "), args
}

func (r *InstallationRepository) scanFromRow(row *sql.Row) (*installation.Installation, error) {
	inst := &installation.Installation{}
	var (
		id          string
		accountType string
		userID      sql.NullString
		suspendedAt sql.NullTime
		metadata    []byte
	)

	err := row.Scan(
		&id, &inst.InstallationID, &inst.AccountLogin, &accountType,
		&userID, &suspendedAt, &metadata,
		&inst.CreatedAt, &inst.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "installation not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	inst.ID = shared.MustIDFromString(id)
	inst.AccountType = installation.AccountType(accountType)
	inst.UserID = parseNullID(userID)
	inst.SuspendedAt = nullTimeValue(suspendedAt)

	if err := fromJSONB(metadata, &inst.Metadata); err != nil {
		inst.Metadata = make(map[string]any)
	}

	return inst, nil
}

func (r *InstallationRepository) scanFromRows(rows *sql.Rows) (*installation.Installation, error) {
	inst := &installation.Installation{}
	var (
		id          string
		accountType string
		userID      sql.NullString
		suspendedAt sql.NullTime
		metadata    []byte
	)

	err := rows.Scan(
		&id, &inst.InstallationID, &inst.AccountLogin, &accountType,
		&userID, &suspendedAt, &metadata,
		&inst.CreatedAt, &inst.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	inst.ID = shared.MustIDFromString(id)
	inst.AccountType = installation.AccountType(accountType)
	inst.UserID = parseNullID(userID)
	inst.SuspendedAt = nullTimeValue(suspendedAt)

	if err := fromJSONB(metadata, &inst.Metadata); err != nil {
		inst.Metadata = make(map[string]any)
	}

	return inst, nil
}

// Ensure implementation
var _ installation.Repository = (*InstallationRepository)(nil)
