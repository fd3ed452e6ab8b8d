package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deplai/api/pkg/domain/installation"
	"github.com/deplai/api/pkg/domain/shared"
)

// AccessTokenRepository implements installation.TokenCache using PostgreSQL.
// Tokens are insert-only; expired rows are removed by the sweeper.
type AccessTokenRepository struct {
	db *DB
}

// NewAccessTokenRepository creates a new AccessTokenRepository.
func NewAccessTokenRepository(db *DB) *AccessTokenRepository {
	return &AccessTokenRepository{db: db}
}

// Get returns the newest unexpired token for the installation.
func (r *AccessTokenRepository) Get(ctx context.Context, installationID int64) (*installation.AccessToken, error) {
	query := `
		SELECT id, installation_id, token_encrypted, expires_at, created_at
		FROM installation_access_tokens
		WHERE installation_id = $1 AND expires_at > $2
		ORDER BY expires_at DESC
		LIMIT 1
	`

	t := &installation.AccessToken{}
	var id string

	err := r.db.QueryRowContext(ctx, query, installationID, time.Now().UTC()).Scan(
		&id, &t.InstallationID, &t.TokenEncrypted, &t.ExpiresAt, &t.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "no usable cached token", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached token: %w", err)
	}

	t.ID = shared.MustIDFromString(id)
	return t, nil
}

// Put inserts a freshly minted token.
func (r *AccessTokenRepository) Put(ctx context.Context, token *installation.AccessToken) error {
	query := `
		INSERT INTO installation_access_tokens (
			id, installation_id, token_encrypted, expires_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		token.ID.String(),
		token.InstallationID,
		token.TokenEncrypted,
		token.ExpiresAt,
		token.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert cached token: %w", err)
	}

	return nil
}

// DeleteExpiredBefore removes tokens that expired before the cutoff.
func (r *AccessTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := "DELETE FROM installation_access_tokens WHERE expires_at < $1"

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// Ensure implementation
var _ installation.TokenCache = (*AccessTokenRepository)(nil)
