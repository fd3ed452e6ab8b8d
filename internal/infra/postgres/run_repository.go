package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/deplai/api/pkg/domain/run"
	"github.com/deplai/api/pkg/domain/shared"
)

// RunRepository implements run.Repository using PostgreSQL.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create persists a new run.
func (r *RunRepository) Create(ctx context.Context, rn *run.Run) error {
	breakdown, err := json.Marshal(rn.SeverityBreakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal severity_breakdown: %w", err)
	}

	query := `
		INSERT INTO scan_runs (
			id, project_id, repository_id, trigger, scan_type,
			ref, commit_sha, pr_number,
			status, error_message,
			tools_run, findings_count, severity_breakdown,
			callback_secret,
			started_at, finished_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err = r.db.ExecContext(ctx, query,
		rn.ID.String(),
		rn.ProjectID.String(),
		nullID(rn.RepositoryID),
		string(rn.Trigger),
		string(rn.ScanType),
		nullString(rn.Ref),
		nullString(rn.CommitSha),
		nullInt(rn.PRNumber),
		string(rn.Status),
		nullString(rn.ErrorMessage),
		pq.Array(rn.ToolsRun),
		rn.FindingsCount,
		breakdown,
		rn.CallbackSecret,
		nullTime(rn.StartedAt),
		nullTime(rn.FinishedAt),
		rn.CreatedAt,
		rn.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetByID retrieves a run by ID.
func (r *RunRepository) GetByID(ctx context.Context, id shared.ID) (*run.Run, error) {
	query := r.selectQuery() + " WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id.String())
	return r.scanFromRow(row)
}

// Update updates a run row.
func (r *RunRepository) Update(ctx context.Context, rn *run.Run) error {
	result, err := r.db.ExecContext(ctx, r.updateQuery(), r.updateArgs(rn)...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return shared.NewDomainError("NOT_FOUND", "scan run not found", shared.ErrNotFound)
	}

	return nil
}

// FindLatestCompleted returns the most recent completed run for a project.
func (r *RunRepository) FindLatestCompleted(ctx context.Context, projectID shared.ID) (*run.Run, error) {
	query := r.selectQuery() + " WHERE project_id = $1 AND status = 'completed' ORDER BY finished_at DESC LIMIT 1"
	row := r.db.QueryRowContext(ctx, query, projectID.String())
	return r.scanFromRow(row)
}

// Finalize writes the terminal outcome and inserts the run's findings in one
// transaction. Either both land or neither does.
func (r *RunRepository) Finalize(ctx context.Context, rn *run.Run, findings []*run.Finding) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, r.updateQuery(), r.updateArgs(rn)...)
		if err != nil {
			return fmt.Errorf("failed to finalize run: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return shared.NewDomainError("NOT_FOUND", "scan run not found", shared.ErrNotFound)
		}

		for _, f := range findings {
			if err := insertFinding(ctx, tx, f); err != nil {
				return err
			}
		}

		return nil
	})
}

// ListStaleRunning lists runs still running that started before the cutoff.
func (r *RunRepository) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*run.Run, error) {
	query := r.selectQuery() + " WHERE status = 'running' AND started_at < $1 ORDER BY started_at"

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale runs: %w", err)
	}
	defer rows.Close()

	var runs []*run.Run
	for rows.Next() {
		rn, err := r.scanFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, rn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return runs, nil
}

// Helper methods

func (r *RunRepository) selectQuery() string {
	return `
		SELECT
			id, project_id, repository_id, trigger, scan_type,
			ref, commit_sha, pr_number,
			status, error_message,
			tools_run, findings_count, severity_breakdown,
			callback_secret,
			started_at, finished_at, created_at, updated_at
		FROM scan_runs
	`
}

func (r *RunRepository) updateQuery() string {
	return `
		UPDATE scan_runs SET
			status = $2,
			error_message = $3,
			tools_run = $4,
			findings_count = $5,
			severity_breakdown = $6,
			started_at = $7,
			finished_at = $8,
			updated_at = $9
		WHERE id = $1
	`
}

func (r *RunRepository) updateArgs(rn *run.Run) []interface{} {
	breakdown, _ := json.Marshal(rn.SeverityBreakdown)
	return []interface{}{
		rn.ID.String(),
		string(rn.Status),
		nullString(rn.ErrorMessage),
		pq.Array(rn.ToolsRun),
		rn.FindingsCount,
		breakdown,
		nullTime(rn.StartedAt),
		nullTime(rn.FinishedAt),
		rn.UpdatedAt,
	}
}

func (r *RunRepository) scanFromRow(row *sql.Row) (*run.Run, error) {
	rn := &run.Run{}
	var (
		id, projectID     string
		repositoryID      sql.NullString
		trigger, scanType string
		ref, commitSha    sql.NullString
		prNumber          sql.NullInt64
		status            string
		errorMessage      sql.NullString
		toolsRun          pq.StringArray
		breakdown         []byte
		startedAt         sql.NullTime
		finishedAt        sql.NullTime
	)

	err := row.Scan(
		&id, &projectID, &repositoryID, &trigger, &scanType,
		&ref, &commitSha, &prNumber,
		&status, &errorMessage,
		&toolsRun, &rn.FindingsCount, &breakdown,
		&rn.CallbackSecret,
		&startedAt, &finishedAt, &rn.CreatedAt, &rn.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "scan run not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	rn.ID = shared.MustIDFromString(id)
	rn.ProjectID = shared.MustIDFromString(projectID)
	rn.RepositoryID = parseNullID(repositoryID)
	rn.Trigger = run.Trigger(trigger)
	rn.ScanType = run.ScanType(scanType)
	rn.Ref = nullStringValue(ref)
	rn.CommitSha = nullStringValue(commitSha)
	rn.PRNumber = nullIntValue(prNumber)
	rn.Status = run.Status(status)
	rn.ErrorMessage = nullStringValue(errorMessage)
	rn.ToolsRun = toolsRun
	rn.StartedAt = nullTimeValue(startedAt)
	rn.FinishedAt = nullTimeValue(finishedAt)

	if err := json.Unmarshal(breakdown, &rn.SeverityBreakdown); err != nil {
		rn.SeverityBreakdown = make(map[string]int)
	}

	return rn, nil
}

func (r *RunRepository) scanFromRows(rows *sql.Rows) (*run.Run, error) {
	rn := &run.Run{}
	var (
		id, projectID     string
		repositoryID      sql.NullString
		trigger, scanType string
		ref, commitSha    sql.NullString
		prNumber          sql.NullInt64
		status            string
		errorMessage      sql.NullString
		toolsRun          pq.StringArray
		breakdown         []byte
		startedAt         sql.NullTime
		finishedAt        sql.NullTime
	)

	err := rows.Scan(
		&id, &projectID, &repositoryID, &trigger, &scanType,
		&ref, &commitSha, &prNumber,
		&status, &errorMessage,
		&toolsRun, &rn.FindingsCount, &breakdown,
		&rn.CallbackSecret,
		&startedAt, &finishedAt, &rn.CreatedAt, &rn.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	rn.ID = shared.MustIDFromString(id)
	rn.ProjectID = shared.MustIDFromString(projectID)
	rn.RepositoryID = parseNullID(repositoryID)
	rn.Trigger = run.Trigger(trigger)
	rn.ScanType = run.ScanType(scanType)
	rn.Ref = nullStringValue(ref)
	rn.CommitSha = nullStringValue(commitSha)
	rn.PRNumber = nullIntValue(prNumber)
	rn.Status = run.Status(status)
	rn.ErrorMessage = nullStringValue(errorMessage)
	rn.ToolsRun = toolsRun
	rn.StartedAt = nullTimeValue(startedAt)
	rn.FinishedAt = nullTimeValue(finishedAt)

	if err := json.Unmarshal(breakdown, &rn.SeverityBreakdown); err != nil {
		rn.SeverityBreakdown = make(map[string]int)
	}

	return rn, nil
}

// Ensure implementation
var _ run.Repository = (*RunRepository)(nil)
