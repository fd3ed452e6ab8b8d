package main

import (
	"fmt"

	"github.com/deplai/api/internal/app"
	"github.com/deplai/api/internal/config"
	"github.com/deplai/api/internal/infra/gitsync"
	"github.com/deplai/api/internal/infra/jobs"
	"github.com/deplai/api/internal/infra/scanner"
	"github.com/deplai/api/internal/infra/scm"
	"github.com/deplai/api/pkg/crypto"
	"github.com/deplai/api/pkg/logger"
)

// Services holds all service instances.
type Services struct {
	Token       *app.TokenService
	Sync        *app.SyncService
	GitHubEvent *app.GitHubEventService
	Scan        *app.ScanService
	Result      *app.ResultService
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config    *config.Config
	Log       *logger.Logger
	Repos     *Repositories
	JobClient *jobs.Client
}

// NewServices initializes all application services.
func NewServices(deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	repos := deps.Repos

	encryptor, err := initEncryptor(cfg, log)
	if err != nil {
		return nil, err
	}

	scmClient, err := initSCMClient(cfg, log)
	if err != nil {
		return nil, err
	}

	s := &Services{}

	s.Token = app.NewTokenService(repos.Installation, repos.TokenCache, scmClient, encryptor, log)

	s.Sync = app.NewSyncService(
		repos.Repo,
		s.Token,
		gitsync.NewGoGitEngine(),
		scmClient,
		cfg.Scanner.WorkspaceDir,
		log,
	)

	s.GitHubEvent = app.NewGitHubEventService(
		repos.Installation,
		repos.Repo,
		repos.Project,
		repos.Run,
		deps.JobClient,
		log,
	)

	launcher := scanner.NewProcessLauncher(cfg.Scanner.Command, log)
	s.Scan = app.NewScanService(
		repos.Project,
		repos.Repo,
		repos.Run,
		repos.Finding,
		s.Sync,
		launcher,
		app.ScanServiceConfig{
			CallbackBaseURL:  cfg.Scanner.CallbackBaseURL,
			WorkspaceDir:     cfg.Scanner.WorkspaceDir,
			WorkerPathPrefix: cfg.Scanner.WorkerPathPrefix,
		},
		log,
	)

	s.Result = app.NewResultService(repos.Run, log)

	return s, nil
}

// initEncryptor initializes the token encryptor.
func initEncryptor(cfg *config.Config, log *logger.Logger) (crypto.Encryptor, error) {
	if !cfg.Encryption.IsConfigured() {
		log.Warn("encryption not configured, cached tokens will be stored in plaintext")
		return crypto.NewNoOpEncryptor(), nil
	}

	encryptor, err := crypto.NewCipherFromHex(cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	log.Info("token encryption enabled")
	return encryptor, nil
}

// initSCMClient initializes the GitHub App client.
func initSCMClient(cfg *config.Config, log *logger.Logger) (scm.AppClient, error) {
	if cfg.GitHub.AppID == "" {
		log.Warn("github app not configured, provider operations disabled")
		return scm.NewDisabledClient(), nil
	}

	client, err := scm.NewGitHubAppClient(scm.Config{
		AppID:      cfg.GitHub.AppID,
		PrivateKey: cfg.GitHub.PrivateKey,
		BaseURL:    cfg.GitHub.APIBaseURL,
		Timeout:    cfg.GitHub.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize github app client: %w", err)
	}

	log.Info("github app client initialized", "app_id", cfg.GitHub.AppID)
	return client, nil
}

// NewJobClient creates a new job client for background processing.
func NewJobClient(cfg *config.Config, log *logger.Logger) (*jobs.Client, error) {
	client, err := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job client: %w", err)
	}

	log.Info("job client initialized", "redis_addr", cfg.Redis.Addr())
	return client, nil
}
