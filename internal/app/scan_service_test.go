package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deplai/api/pkg/domain/project"
	"github.com/deplai/api/pkg/domain/repo"
	"github.com/deplai/api/pkg/domain/run"
	"github.com/deplai/api/pkg/domain/shared"
)

type scanFixture struct {
	svc         *ScanService
	projectRepo *fakeProjectRepo
	repoRepo    *fakeRepoRepo
	runRepo     *fakeRunRepo
	syncer      *fakeSyncer
	launcher    *fakeLauncher
	userID      shared.ID
}

func newScanFixture(t *testing.T) *scanFixture {
	t.Helper()

	f := &scanFixture{
		projectRepo: newFakeProjectRepo(),
		repoRepo:    newFakeRepoRepo(),
		runRepo:     newFakeRunRepo(),
		syncer:      &fakeSyncer{path: "/workspace/acme/website"},
		launcher:    &fakeLauncher{},
		userID:      shared.NewID(),
	}
	f.svc = NewScanService(
		f.projectRepo,
		f.repoRepo,
		f.runRepo,
		f.runRepo,
		f.syncer,
		f.launcher,
		ScanServiceConfig{
			CallbackBaseURL:  "https://api.example.com",
			WorkspaceDir:     "/workspace",
			WorkerPathPrefix: "/app/tmp",
		},
		testLogger(),
	)
	return f
}

func (f *scanFixture) tracked(t *testing.T) *repo.Repo {
	t.Helper()
	rp, err := repo.New(testInstallationID, 1001, "acme/website", true, "main")
	require.NoError(t, err)
	rp.Languages = map[string]int64{"Go": 9000, "HTML": 100}
	return f.repoRepo.add(rp)
}

func (f *scanFixture) wrapped(t *testing.T, rp *repo.Repo) *project.Project {
	t.Helper()
	proj, err := project.NewGitHubProject(f.userID, rp.ID, rp.FullName)
	require.NoError(t, err)
	return f.projectRepo.add(proj)
}

func TestScanService_TriggerScan(t *testing.T) {
	ctx := context.Background()

	t.Run("creates wrapper project on first scan of a repository", func(t *testing.T) {
		f := newScanFixture(t)
		rp := f.tracked(t)

		out, err := f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{RepositoryID: 1001, ScanType: "full"})

		require.NoError(t, err)
		assert.Equal(t, "running", out.Status)
		assert.False(t, out.Cached)

		proj, err := f.projectRepo.GetByRepositoryID(ctx, rp.ID)
		require.NoError(t, err)
		assert.True(t, proj.OwnedBy(f.userID))
		assert.Equal(t, project.TypeGitHub, proj.Type)

		// Second scan reuses the wrapper instead of creating a sibling.
		_, err = f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{RepositoryID: 1001, ScanType: "full", Force: true})
		require.NoError(t, err)
		assert.Equal(t, 1, f.projectRepo.creates)
	})

	t.Run("launches a worker with the translated path", func(t *testing.T) {
		f := newScanFixture(t)
		rp := f.tracked(t)
		f.wrapped(t, rp)

		out, err := f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{RepositoryID: 1001, ScanType: "sast"})

		require.NoError(t, err)
		require.Len(t, f.launcher.jobs, 1)
		job := f.launcher.jobs[0]
		assert.Equal(t, out.ScanID, job.RunID)
		assert.Equal(t, "/app/tmp/acme/website", job.RepoPath)
		assert.Equal(t, "https://github.com/acme/website.git", job.RepoURL)
		assert.Equal(t, "https://api.example.com/api/v1/scans/results", job.CallbackURL)
		assert.NotEmpty(t, job.CallbackToken)
		assert.Equal(t, []string{"Go", "HTML"}, job.Languages)
		assert.Equal(t, []string{"Go", "HTML"}, job.Dependencies)
		assert.Equal(t, "acme/website", f.syncer.last)
	})

	t.Run("descriptor defaults when no language is known", func(t *testing.T) {
		f := newScanFixture(t)
		rp := f.tracked(t)
		rp.Languages = nil
		f.wrapped(t, rp)

		_, err := f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{RepositoryID: 1001, ScanType: "full"})

		require.NoError(t, err)
		require.Len(t, f.launcher.jobs, 1)
		job := f.launcher.jobs[0]
		assert.Equal(t, []string{"python"}, job.Languages)
		assert.Equal(t, []string{"python"}, job.Dependencies)

		// List fields serialize as [], never null.
		payload, err := json.Marshal(job)
		require.NoError(t, err)
		assert.Contains(t, string(payload), `"frameworks":[]`)
		assert.Contains(t, string(payload), `"changed_files":[]`)
	})

	t.Run("dast target rides along in the descriptor", func(t *testing.T) {
		f := newScanFixture(t)
		rp := f.tracked(t)
		f.wrapped(t, rp)

		_, err := f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{
			RepositoryID: 1001,
			ScanType:     "dast",
			TargetURL:    "https://staging.example.com",
		})

		require.NoError(t, err)
		require.Len(t, f.launcher.jobs, 1)
		require.NotNil(t, f.launcher.jobs[0].DAST)
		assert.Equal(t, "https://staging.example.com", f.launcher.jobs[0].DAST.TargetURL)
	})

	t.Run("foreign project is forbidden", func(t *testing.T) {
		f := newScanFixture(t)
		rp := f.tracked(t)
		other, err := project.NewGitHubProject(shared.NewID(), rp.ID, rp.FullName)
		require.NoError(t, err)
		f.projectRepo.add(other)

		_, err = f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{ProjectID: other.ID.String(), ScanType: "full"})

		assert.True(t, shared.IsForbidden(err))
		assert.Empty(t, f.launcher.jobs)
	})

	t.Run("returns the latest completed run without force", func(t *testing.T) {
		f := newScanFixture(t)
		rp := f.tracked(t)
		proj := f.wrapped(t, rp)

		done, err := run.NewRun(proj.ID, run.TriggerManual, run.ScanTypeFull, run.StatusRunning)
		require.NoError(t, err)
		require.NoError(t, done.Finalize(run.StatusCompleted, []string{"semgrep"}, 3, nil))
		f.runRepo.add(done)

		out, err := f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{ProjectID: proj.ID.String(), ScanType: "full"})

		require.NoError(t, err)
		assert.True(t, out.Cached)
		assert.Equal(t, done.ID.String(), out.ScanID)
		assert.Empty(t, f.launcher.jobs)
	})

	t.Run("force bypasses the completed run", func(t *testing.T) {
		f := newScanFixture(t)
		rp := f.tracked(t)
		proj := f.wrapped(t, rp)

		done, err := run.NewRun(proj.ID, run.TriggerManual, run.ScanTypeFull, run.StatusRunning)
		require.NoError(t, err)
		require.NoError(t, done.Finalize(run.StatusCompleted, nil, 0, nil))
		f.runRepo.add(done)

		out, err := f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{ProjectID: proj.ID.String(), ScanType: "full", Force: true})

		require.NoError(t, err)
		assert.False(t, out.Cached)
		assert.NotEqual(t, done.ID.String(), out.ScanID)
		assert.Len(t, f.launcher.jobs, 1)
	})

	t.Run("launch failure marks the run failed", func(t *testing.T) {
		f := newScanFixture(t)
		rp := f.tracked(t)
		proj := f.wrapped(t, rp)
		f.launcher.launchErr = assert.AnError

		_, err := f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{ProjectID: proj.ID.String(), ScanType: "full"})

		assert.True(t, shared.IsUpstream(err))

		require.Len(t, f.runRepo.runs, 1)
		for _, rn := range f.runRepo.runs {
			assert.Equal(t, run.StatusFailed, rn.Status)
			assert.Contains(t, rn.ErrorMessage, "worker launch failed")
			assert.NotNil(t, rn.FinishedAt)
		}
	})

	t.Run("sync failure marks the run failed", func(t *testing.T) {
		f := newScanFixture(t)
		rp := f.tracked(t)
		proj := f.wrapped(t, rp)
		f.syncer.err = shared.NewDomainError("UPSTREAM", "repository sync failed", shared.ErrUpstream)

		_, err := f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{ProjectID: proj.ID.String(), ScanType: "full"})

		assert.True(t, shared.IsUpstream(err))
		assert.Empty(t, f.launcher.jobs)
	})

	t.Run("requires a target", func(t *testing.T) {
		f := newScanFixture(t)

		_, err := f.svc.TriggerScan(ctx, f.userID, TriggerScanInput{ScanType: "full"})

		assert.True(t, shared.IsValidation(err))
	})
}

func TestScanService_LaunchQueued(t *testing.T) {
	ctx := context.Background()

	pendingRun := func(t *testing.T, f *scanFixture) *run.Run {
		t.Helper()
		rp := f.tracked(t)
		proj := f.wrapped(t, rp)
		rn, err := run.NewRun(proj.ID, run.TriggerPush, run.ScanTypeFull, run.StatusPending)
		require.NoError(t, err)
		rn.RepositoryID = &rp.ID
		rn.CallbackSecret = "secret"
		return f.runRepo.add(rn)
	}

	t.Run("starts and launches a pending run", func(t *testing.T) {
		f := newScanFixture(t)
		rn := pendingRun(t, f)

		require.NoError(t, f.svc.LaunchQueued(ctx, rn.ID.String()))

		assert.Equal(t, run.StatusRunning, rn.Status)
		assert.NotNil(t, rn.StartedAt)
		require.Len(t, f.launcher.jobs, 1)
		assert.Equal(t, rn.ID.String(), f.launcher.jobs[0].RunID)
	})

	t.Run("non-pending run is a no-op", func(t *testing.T) {
		f := newScanFixture(t)
		rn := pendingRun(t, f)
		require.NoError(t, rn.Start())

		require.NoError(t, f.svc.LaunchQueued(ctx, rn.ID.String()))

		assert.Empty(t, f.launcher.jobs)
	})

	t.Run("launch failure fails the run without retrying", func(t *testing.T) {
		f := newScanFixture(t)
		rn := pendingRun(t, f)
		f.launcher.launchErr = assert.AnError

		// nil keeps the queue from redelivering a terminal run.
		require.NoError(t, f.svc.LaunchQueued(ctx, rn.ID.String()))

		assert.Equal(t, run.StatusFailed, rn.Status)
	})

	t.Run("invalid run id", func(t *testing.T) {
		f := newScanFixture(t)

		err := f.svc.LaunchQueued(ctx, "not-a-uuid")

		assert.True(t, shared.IsValidation(err))
	})
}

func TestScanService_GetRun(t *testing.T) {
	ctx := context.Background()
	f := newScanFixture(t)
	rp := f.tracked(t)
	proj := f.wrapped(t, rp)
	rn, err := run.NewRun(proj.ID, run.TriggerManual, run.ScanTypeFull, run.StatusRunning)
	require.NoError(t, err)
	f.runRepo.add(rn)

	t.Run("owner reads the run", func(t *testing.T) {
		got, err := f.svc.GetRun(ctx, f.userID, rn.ID.String())
		require.NoError(t, err)
		assert.Equal(t, rn.ID, got.ID)
	})

	t.Run("other users are forbidden", func(t *testing.T) {
		_, err := f.svc.GetRun(ctx, shared.NewID(), rn.ID.String())
		assert.True(t, shared.IsForbidden(err))
	})
}

func TestScanService_ListFindings(t *testing.T) {
	ctx := context.Background()
	f := newScanFixture(t)
	rp := f.tracked(t)
	proj := f.wrapped(t, rp)
	rn, err := run.NewRun(proj.ID, run.TriggerManual, run.ScanTypeFull, run.StatusRunning)
	require.NoError(t, err)
	f.runRepo.add(rn)

	stored := []*run.Finding{
		run.NewFinding(rn.ID, run.FindingInput{Tool: "semgrep", Title: "SQL injection", Severity: "CRITICAL"}),
		run.NewFinding(rn.ID, run.FindingInput{Tool: "gitleaks", Title: "Hardcoded secret", Severity: "HIGH"}),
	}
	require.NoError(t, f.runRepo.CreateBatch(ctx, stored))

	t.Run("owner lists the findings", func(t *testing.T) {
		findings, err := f.svc.ListFindings(ctx, f.userID, rn.ID.String())
		require.NoError(t, err)
		require.Len(t, findings, 2)
		assert.Equal(t, "SQL injection", findings[0].Title)
	})

	t.Run("other users are forbidden", func(t *testing.T) {
		_, err := f.svc.ListFindings(ctx, shared.NewID(), rn.ID.String())
		assert.True(t, shared.IsForbidden(err))
	})
}

func TestScanService_SweepStaleRunning(t *testing.T) {
	ctx := context.Background()
	f := newScanFixture(t)
	rp := f.tracked(t)
	proj := f.wrapped(t, rp)

	stale, err := run.NewRun(proj.ID, run.TriggerPush, run.ScanTypeFull, run.StatusRunning)
	require.NoError(t, err)
	old := time.Now().Add(-48 * time.Hour)
	stale.StartedAt = &old
	f.runRepo.add(stale)

	recent, err := run.NewRun(proj.ID, run.TriggerPush, run.ScanTypeFull, run.StatusRunning)
	require.NoError(t, err)
	f.runRepo.add(recent)

	failed, err := f.svc.SweepStaleRunning(ctx, 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, run.StatusFailed, stale.Status)
	assert.Contains(t, stale.ErrorMessage, "deadline")
	assert.Equal(t, run.StatusRunning, recent.Status)
}
