package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/deplai/api/pkg/domain/run"
	"github.com/deplai/api/pkg/domain/shared"
)

// FindingRepository implements run.FindingRepository using PostgreSQL.
// Findings are append-only.
type FindingRepository struct {
	db *DB
}

// NewFindingRepository creates a new FindingRepository.
func NewFindingRepository(db *DB) *FindingRepository {
	return &FindingRepository{db: db}
}

const insertFindingQuery = `
	INSERT INTO findings (
		id, run_id, category, tool, rule_id, title,
		severity, confidence, file_path, line_number,
		fingerprint, evidence, status, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

// insertFinding inserts one finding using the given executor, shared between
// batch inserts and the run finalize transaction.
func insertFinding(ctx context.Context, tx *sql.Tx, f *run.Finding) error {
	_, err := tx.ExecContext(ctx, insertFindingQuery,
		f.ID.String(),
		f.RunID.String(),
		f.Category,
		f.Tool,
		nullString(f.RuleID),
		f.Title,
		f.Severity,
		f.Confidence,
		nullString(f.FilePath),
		f.LineNumber,
		f.Fingerprint,
		nullBytes(f.Evidence),
		string(f.Status),
		f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	return nil
}

// CreateBatch inserts findings in a single transaction.
func (r *FindingRepository) CreateBatch(ctx context.Context, findings []*run.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, f := range findings {
			if err := insertFinding(ctx, tx, f); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListByRun lists findings for a run.
func (r *FindingRepository) ListByRun(ctx context.Context, runID shared.ID) ([]*run.Finding, error) {
	query := `
		SELECT
			id, run_id, category, tool, rule_id, title,
			severity, confidence, file_path, line_number,
			fingerprint, evidence, status, created_at
		FROM findings
		WHERE run_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []*run.Finding
	for rows.Next() {
		f := &run.Finding{}
		var (
			id, rid  string
			ruleID   sql.NullString
			filePath sql.NullString
			evidence []byte
			status   string
		)

		err := rows.Scan(
			&id, &rid, &f.Category, &f.Tool, &ruleID, &f.Title,
			&f.Severity, &f.Confidence, &filePath, &f.LineNumber,
			&f.Fingerprint, &evidence, &status, &f.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		f.ID = shared.MustIDFromString(id)
		f.RunID = shared.MustIDFromString(rid)
		f.RuleID = nullStringValue(ruleID)
		f.FilePath = nullStringValue(filePath)
		f.Evidence = evidence
		f.Status = run.TriageStatus(status)

		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return findings, nil
}

// Ensure implementation
var _ run.FindingRepository = (*FindingRepository)(nil)
