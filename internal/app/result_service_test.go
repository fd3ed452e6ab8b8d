package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deplai/api/pkg/domain/run"
	"github.com/deplai/api/pkg/domain/shared"
)

func newResultFixture(t *testing.T) (*ResultService, *fakeRunRepo, *run.Run) {
	t.Helper()

	runRepo := newFakeRunRepo()
	rn, err := run.NewRun(shared.NewID(), run.TriggerPush, run.ScanTypeFull, run.StatusRunning)
	require.NoError(t, err)
	rn.CallbackSecret = "s3cret"
	runRepo.add(rn)

	return NewResultService(runRepo, testLogger()), runRepo, rn
}

func TestResultService_ProcessResults(t *testing.T) {
	ctx := context.Background()

	t.Run("completes the run with a severity breakdown", func(t *testing.T) {
		svc, runRepo, rn := newResultFixture(t)

		out, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:         rn.ID.String(),
			CallbackToken: "s3cret",
			Status:        "completed",
			Tools:         []string{"semgrep", "trivy"},
			Findings: []FindingPayload{
				{Tool: "semgrep", Title: "SQL injection", Severity: "CRITICAL"},
				{Tool: "semgrep", Title: "XSS", Severity: "high"},
				{Tool: "trivy", Title: "Outdated dependency", Severity: "high"},
				{Tool: "trivy", Title: "Odd severity", Severity: "informational"},
			},
		})

		require.NoError(t, err)
		assert.Equal(t, "completed", out.Status)
		assert.Equal(t, 4, out.FindingsCount)

		assert.Equal(t, run.StatusCompleted, rn.Status)
		assert.Equal(t, []string{"semgrep", "trivy"}, rn.ToolsRun)
		assert.Equal(t, 4, rn.FindingsCount)
		assert.NotNil(t, rn.FinishedAt)

		// Unrecognized severities count toward the total but not the buckets.
		assert.Equal(t, map[string]int{"critical": 1, "high": 2, "medium": 0, "low": 0}, rn.SeverityBreakdown)

		assert.Equal(t, 1, runRepo.finalizeCalls)
		assert.Len(t, runRepo.findings[rn.ID], 4)
	})

	t.Run("records the tools from the wire payload", func(t *testing.T) {
		svc, _, rn := newResultFixture(t)

		var input ProcessResultsInput
		payload := `{"run_id":"` + rn.ID.String() + `","status":"completed","tools":["semgrep","bandit"],"findings":[]}`
		require.NoError(t, json.Unmarshal([]byte(payload), &input))
		input.CallbackToken = "s3cret"

		_, err := svc.ProcessResults(ctx, input)

		require.NoError(t, err)
		assert.Equal(t, []string{"semgrep", "bandit"}, rn.ToolsRun)
	})

	t.Run("accepts the tools_run alias", func(t *testing.T) {
		svc, _, rn := newResultFixture(t)

		_, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:         rn.ID.String(),
			CallbackToken: "s3cret",
			Status:        "completed",
			ToolsRun:      []string{"gitleaks"},
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"gitleaks"}, rn.ToolsRun)
	})

	t.Run("wrong callback token writes nothing", func(t *testing.T) {
		svc, runRepo, rn := newResultFixture(t)

		_, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:         rn.ID.String(),
			CallbackToken: "wrong",
			Status:        "completed",
		})

		assert.True(t, shared.IsUnauthorized(err))
		assert.Equal(t, run.StatusRunning, rn.Status)
		assert.Zero(t, runRepo.finalizeCalls)
	})

	t.Run("run without a secret rejects even an empty token", func(t *testing.T) {
		svc, runRepo, rn := newResultFixture(t)
		rn.CallbackSecret = ""

		_, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:         rn.ID.String(),
			CallbackToken: "",
			Status:        "completed",
		})

		assert.True(t, shared.IsUnauthorized(err))
		assert.Zero(t, runRepo.finalizeCalls)
	})

	t.Run("finished run conflicts on replay", func(t *testing.T) {
		svc, _, rn := newResultFixture(t)
		require.NoError(t, rn.Finalize(run.StatusCompleted, nil, 0, nil))

		_, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:         rn.ID.String(),
			CallbackToken: "s3cret",
			Status:        "completed",
		})

		assert.ErrorIs(t, err, shared.ErrConflict)
	})

	t.Run("unknown run is loud", func(t *testing.T) {
		svc, _, _ := newResultFixture(t)

		_, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:         shared.NewID().String(),
			CallbackToken: "s3cret",
			Status:        "completed",
		})

		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("invalid run id", func(t *testing.T) {
		svc, _, _ := newResultFixture(t)

		_, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:  "not-a-uuid",
			Status: "completed",
		})

		assert.True(t, shared.IsValidation(err))
	})

	t.Run("failed status records the worker's error", func(t *testing.T) {
		svc, _, rn := newResultFixture(t)

		out, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:         rn.ID.String(),
			CallbackToken: "s3cret",
			Status:        "failed",
			ErrorMessage:  "semgrep crashed",
		})

		require.NoError(t, err)
		assert.Equal(t, "failed", out.Status)
		assert.Equal(t, run.StatusFailed, rn.Status)
		assert.Equal(t, "semgrep crashed", rn.ErrorMessage)
	})

	t.Run("coalesces legacy field aliases", func(t *testing.T) {
		svc, runRepo, rn := newResultFixture(t)

		_, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:         rn.ID.String(),
			CallbackToken: "s3cret",
			Status:        "completed",
			Findings: []FindingPayload{
				{Tool: "legacy", Title: "Old worker", Severity: "low", File: "main.go", Line: 12},
				{Tool: "modern", Title: "New worker", Severity: "low", FilePath: "app.go", LineNumber: 7},
			},
		})

		require.NoError(t, err)
		findings := runRepo.findings[rn.ID]
		require.Len(t, findings, 2)
		assert.Equal(t, "main.go", findings[0].FilePath)
		assert.Equal(t, 12, findings[0].LineNumber)
		assert.Equal(t, "app.go", findings[1].FilePath)
		assert.Equal(t, 7, findings[1].LineNumber)
	})

	t.Run("drops malformed evidence but keeps the finding", func(t *testing.T) {
		svc, runRepo, rn := newResultFixture(t)

		_, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:         rn.ID.String(),
			CallbackToken: "s3cret",
			Status:        "completed",
			Findings: []FindingPayload{
				{Tool: "semgrep", Title: "Good evidence", Severity: "high", Evidence: []byte(`{"snippet": "exec(q)"}`)},
				{Tool: "semgrep", Title: "Bad evidence", Severity: "high", Evidence: []byte(`{"snippet": `)},
			},
		})

		require.NoError(t, err)
		findings := runRepo.findings[rn.ID]
		require.Len(t, findings, 2)
		assert.JSONEq(t, `{"snippet": "exec(q)"}`, string(findings[0].Evidence))
		assert.Nil(t, findings[1].Evidence)
	})

	t.Run("sparse findings get domain defaults", func(t *testing.T) {
		svc, runRepo, rn := newResultFixture(t)

		_, err := svc.ProcessResults(ctx, ProcessResultsInput{
			RunID:         rn.ID.String(),
			CallbackToken: "s3cret",
			Status:        "completed",
			Findings:      []FindingPayload{{}},
		})

		require.NoError(t, err)
		findings := runRepo.findings[rn.ID]
		require.Len(t, findings, 1)
		f := findings[0]
		assert.Equal(t, "unknown", f.Tool)
		assert.Equal(t, "Untitled Finding", f.Title)
		assert.Equal(t, "LOW", f.Severity)
		assert.NotEmpty(t, f.Fingerprint)
		assert.Equal(t, run.TriageOpen, f.Status)
	})
}
