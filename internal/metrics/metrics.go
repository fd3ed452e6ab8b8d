package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	// HTTPRequestsTotal tracks total HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks in-flight HTTP requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// Scan metrics
var (
	// ScansTotal tracks total scans by trigger, type and final status
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scans_total",
			Help: "Total number of scan runs by trigger, scan type and status",
		},
		[]string{"trigger", "scan_type", "status"},
	)

	// ScansInProgress tracks currently running scans
	ScansInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scans_in_progress",
			Help: "Number of scan runs currently in progress",
		},
	)

	// ScanDuration tracks scan duration from start to finalization
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "Scan run duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"scan_type"},
	)

	// ScanFindingsTotal tracks ingested findings by severity
	ScanFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_findings_total",
			Help: "Total number of findings ingested from scans",
			// severity labels follow the breakdown buckets
		},
		[]string{"severity"},
	)

	// ScanCacheHits tracks cached completed-scan reuse
	ScanCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_cache_hits_total",
			Help: "Total number of scan triggers served from a completed run",
		},
	)

	// ScanLaunchFailures tracks worker launch failures
	ScanLaunchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_launch_failures_total",
			Help: "Total number of failed scan worker launches",
		},
	)

	// StaleRunsFailed tracks runs force-failed by the sweeper
	StaleRunsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_stale_runs_failed_total",
			Help: "Total number of running scans marked failed by the sweeper",
		},
	)
)

// Repository sync metrics
var (
	// RepoSyncsTotal tracks sync operations by mode and outcome
	RepoSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repo_syncs_total",
			Help: "Total number of repository sync operations by mode and outcome",
		},
		[]string{"mode", "outcome"}, // mode: "clone", "pull"; outcome: "success", "error"
	)

	// RepoSyncDuration tracks sync duration
	RepoSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repo_sync_duration_seconds",
			Help:    "Repository sync duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	// RepoBranchFallbacks tracks default branch corrections during clone
	RepoBranchFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repo_branch_fallbacks_total",
			Help: "Total number of clones that fell back to the alternate default branch",
		},
	)
)

// Token cache metrics
var (
	// TokenCacheHits tracks usable cached installation tokens
	TokenCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "installation_token_cache_hits_total",
			Help: "Total number of installation token requests served from cache",
		},
	)

	// TokenCacheMisses tracks cache misses requiring a provider mint
	TokenCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "installation_token_cache_misses_total",
			Help: "Total number of installation token requests that minted a new token",
		},
	)

	// TokensSweptTotal tracks expired tokens deleted by the sweeper
	TokensSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "installation_tokens_swept_total",
			Help: "Total number of expired installation tokens deleted",
		},
	)
)

// Webhook metrics
var (
	// WebhookEventsTotal tracks received webhook events by type and result
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events by event type and result",
		},
		[]string{"event", "result"}, // result: "processed", "ignored", "error"
	)

	// WebhookSignatureFailures tracks rejected webhook signatures
	WebhookSignatureFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Total number of webhook deliveries rejected for bad signatures",
		},
	)
)
