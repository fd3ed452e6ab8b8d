package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deplai/api/internal/infra/gitsync"
	"github.com/deplai/api/internal/infra/scm"
	"github.com/deplai/api/pkg/domain/repo"
	"github.com/deplai/api/pkg/domain/shared"
)

func newSyncFixture(t *testing.T) (*SyncService, *fakeRepoRepo, *fakeTokenProvider, *fakeEngine, *fakeSCMClient) {
	t.Helper()

	repoRepo := newFakeRepoRepo()
	tokens := &fakeTokenProvider{token: "ghs_token"}
	engine := &fakeEngine{
		hasCopy: make(map[string]bool),
		result:  &gitsync.Result{CommitSha: "abc123"},
	}
	scmClient := &fakeSCMClient{}

	svc := NewSyncService(repoRepo, tokens, engine, scmClient, "/workspace", testLogger())
	return svc, repoRepo, tokens, engine, scmClient
}

func trackedRepo(t *testing.T, repoRepo *fakeRepoRepo) *repo.Repo {
	t.Helper()
	rp, err := repo.New(testInstallationID, 1001, "acme/website", true, "main")
	require.NoError(t, err)
	return repoRepo.add(rp)
}

func TestSyncService_EnsureFresh(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh repo with working copy skips the network", func(t *testing.T) {
		svc, repoRepo, tokens, engine, _ := newSyncFixture(t)
		rp := trackedRepo(t, repoRepo)
		rp.MarkSynced("abc123", time.Now())
		dir := filepath.Join("/workspace", "acme", "website")
		engine.hasCopy[dir] = true

		got, err := svc.EnsureFresh(ctx, "acme/website")

		require.NoError(t, err)
		assert.Equal(t, dir, got)
		assert.Zero(t, tokens.calls)
		assert.Zero(t, engine.syncCalls)
	})

	t.Run("stale repo syncs and records the new state", func(t *testing.T) {
		svc, repoRepo, _, engine, _ := newSyncFixture(t)
		rp := trackedRepo(t, repoRepo)

		got, err := svc.EnsureFresh(ctx, "acme/website")

		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/workspace", "acme", "website"), got)
		assert.Equal(t, 1, engine.syncCalls)
		assert.Equal(t, "ghs_token", engine.lastReq.Token)
		assert.Equal(t, rp.RemoteURL(), engine.lastReq.URL)

		assert.False(t, rp.NeedsRefresh)
		assert.Equal(t, "abc123", rp.LastCommitSha)
		assert.NotNil(t, rp.LastClonedAt)
		assert.Equal(t, 1, repoRepo.syncStateUpdates)
	})

	t.Run("fresh flag alone is not enough without a working copy", func(t *testing.T) {
		svc, repoRepo, _, engine, _ := newSyncFixture(t)
		rp := trackedRepo(t, repoRepo)
		rp.MarkSynced("abc123", time.Now())

		_, err := svc.EnsureFresh(ctx, "acme/website")

		require.NoError(t, err)
		assert.Equal(t, 1, engine.syncCalls)
	})

	t.Run("branch fallback persists the corrected default branch", func(t *testing.T) {
		svc, repoRepo, _, engine, _ := newSyncFixture(t)
		rp := trackedRepo(t, repoRepo)
		engine.result = &gitsync.Result{CommitSha: "def456", Branch: "master", Cloned: true}

		_, err := svc.EnsureFresh(ctx, "acme/website")

		require.NoError(t, err)
		assert.Equal(t, "master", rp.DefaultBranch)
		assert.Equal(t, 1, repoRepo.syncStateUpdates)
	})

	t.Run("sync failure never marks the repo fresh", func(t *testing.T) {
		svc, repoRepo, _, engine, _ := newSyncFixture(t)
		rp := trackedRepo(t, repoRepo)
		engine.syncErr = gitsync.ErrBranchNotFound

		_, err := svc.EnsureFresh(ctx, "acme/website")

		assert.True(t, shared.IsUpstream(err))
		assert.True(t, rp.NeedsRefresh)
		assert.Zero(t, repoRepo.syncStateUpdates)
	})

	t.Run("unknown repository", func(t *testing.T) {
		svc, _, _, _, _ := newSyncFixture(t)

		_, err := svc.EnsureFresh(ctx, "acme/nope")

		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("concurrent syncs collapse into one", func(t *testing.T) {
		svc, repoRepo, _, engine, _ := newSyncFixture(t)
		trackedRepo(t, repoRepo)
		engine.block = make(chan struct{})

		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.EnsureFresh(ctx, "acme/website")
				assert.NoError(t, err)
			}()
		}

		// Let the callers pile onto the in-flight sync before releasing it.
		time.Sleep(50 * time.Millisecond)
		close(engine.block)
		wg.Wait()

		assert.Equal(t, 1, engine.syncCalls)
	})
}

func TestSyncService_ForceRefresh(t *testing.T) {
	ctx := context.Background()
	svc, repoRepo, _, engine, _ := newSyncFixture(t)
	rp := trackedRepo(t, repoRepo)
	rp.MarkSynced("abc123", time.Now())
	dir := filepath.Join("/workspace", "acme", "website")
	engine.hasCopy[dir] = true

	got, err := svc.ForceRefresh(ctx, "acme/website")

	require.NoError(t, err)
	assert.Equal(t, dir, got)
	// Invalidation defeats the fast path even with a working copy present.
	assert.Equal(t, 1, engine.syncCalls)
}

func TestSyncService_SyncInstallation(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts the provider catalogue", func(t *testing.T) {
		svc, repoRepo, _, _, scmClient := newSyncFixture(t)
		scmClient.repositories = []scm.Repository{
			{ID: 1001, FullName: "acme/website", Private: true, DefaultBranch: "main"},
			{ID: 1002, FullName: "acme/api", Private: true, DefaultBranch: "develop"},
		}
		scmClient.languages = map[string]map[string]int64{
			"acme/website": {"Go": 9000, "HTML": 100},
		}

		count, err := svc.SyncInstallation(ctx, testInstallationID)

		require.NoError(t, err)
		assert.Equal(t, 2, count)

		website, err := repoRepo.GetByRepoID(ctx, 1001)
		require.NoError(t, err)
		assert.Equal(t, int64(9000), website.Languages["Go"])

		api, err := repoRepo.GetByRepoID(ctx, 1002)
		require.NoError(t, err)
		assert.Equal(t, "develop", api.DefaultBranch)
		assert.Nil(t, api.Languages)
	})

	t.Run("token failure propagates", func(t *testing.T) {
		svc, _, tokens, _, _ := newSyncFixture(t)
		tokens.err = shared.NewDomainError("FORBIDDEN", "installation is suspended", shared.ErrForbidden)

		_, err := svc.SyncInstallation(ctx, testInstallationID)

		assert.True(t, shared.IsForbidden(err))
	})

	t.Run("provider failure is upstream", func(t *testing.T) {
		svc, _, _, _, scmClient := newSyncFixture(t)
		scmClient.listErr = scm.ErrRateLimited

		_, err := svc.SyncInstallation(ctx, testInstallationID)

		assert.True(t, shared.IsUpstream(err))
	})
}
