// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	CORS       CORSConfig
	RateLimit  RateLimitConfig
	GitHub     GitHubConfig
	Scanner    ScannerConfig
	Jobs       JobsConfig
	Sweeper    SweeperConfig
	Encryption EncryptionConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled         bool
	RequestsPerSec  float64
	Burst           int
	CleanupInterval time.Duration
}

// GitHubConfig holds GitHub App configuration.
type GitHubConfig struct {
	// AppID is the numeric GitHub App id used as the JWT issuer claim.
	AppID string
	// PrivateKey is the App's RSA private key in PEM form.
	PrivateKey string
	// WebhookSecret signs inbound webhook payloads.
	WebhookSecret string
	// APIBaseURL allows pointing at GitHub Enterprise.
	APIBaseURL string
	// HTTPTimeout bounds provider API calls.
	HTTPTimeout time.Duration
}

// ScannerConfig holds worker process configuration.
type ScannerConfig struct {
	// Command launches one worker per scan, e.g. "deplai-worker".
	Command string
	// WorkspaceDir is where repositories are cloned on this host.
	WorkspaceDir string
	// WorkerPathPrefix is the mount point under which the worker sees
	// WorkspaceDir, e.g. "/app/tmp".
	WorkerPathPrefix string
	// CallbackBaseURL is the externally reachable base URL workers POST
	// results to.
	CallbackBaseURL string
	// LaunchTimeout bounds the process start, not the scan itself.
	LaunchTimeout time.Duration
}

// JobsConfig holds background job queue configuration.
type JobsConfig struct {
	Concurrency int
}

// SweeperConfig holds the maintenance sweeper configuration.
type SweeperConfig struct {
	Enabled bool
	// TokenRetention keeps expired tokens around for this long before
	// deletion, preserving a short audit window.
	TokenRetention time.Duration
	// StaleRunDeadline marks runs failed after running this long.
	// Zero disables stale-run marking.
	StaleRunDeadline time.Duration
	// Schedule is a cron expression for sweep cycles.
	Schedule string
}

// EncryptionConfig holds encryption configuration for cached tokens.
type EncryptionConfig struct {
	// Key is the hex-encoded 32-byte AES-256 key.
	Key string
}

// IsConfigured returns true if encryption is configured.
func (c *EncryptionConfig) IsConfigured() bool {
	return c.Key != ""
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "deplai"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 10<<20), // scan results can be large
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "deplai"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "deplai"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"}),
			MaxAge:         getEnvInt("CORS_MAX_AGE", 86400),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSec:  getEnvFloat("RATE_LIMIT_RPS", 100),
			Burst:           getEnvInt("RATE_LIMIT_BURST", 200),
			CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP", 1*time.Minute),
		},
		GitHub: GitHubConfig{
			AppID:         getEnv("GITHUB_APP_ID", ""),
			PrivateKey:    getEnv("GITHUB_APP_PRIVATE_KEY", ""),
			WebhookSecret: getEnv("GITHUB_WEBHOOK_SECRET", ""),
			APIBaseURL:    getEnv("GITHUB_API_BASE_URL", "https://api.github.com"),
			HTTPTimeout:   getEnvDuration("GITHUB_HTTP_TIMEOUT", 30*time.Second),
		},
		Scanner: ScannerConfig{
			Command:          getEnv("SCANNER_COMMAND", "deplai-worker"),
			WorkspaceDir:     getEnv("SCANNER_WORKSPACE_DIR", "/var/lib/deplai/repos"),
			WorkerPathPrefix: getEnv("SCANNER_WORKER_PATH_PREFIX", "/app/tmp"),
			CallbackBaseURL:  getEnv("SCANNER_CALLBACK_BASE_URL", "http://localhost:8080"),
			LaunchTimeout:    getEnvDuration("SCANNER_LAUNCH_TIMEOUT", 30*time.Second),
		},
		Jobs: JobsConfig{
			Concurrency: getEnvInt("JOBS_CONCURRENCY", 10),
		},
		Sweeper: SweeperConfig{
			Enabled:          getEnvBool("SWEEPER_ENABLED", true),
			TokenRetention:   getEnvDuration("SWEEPER_TOKEN_RETENTION", 24*time.Hour),
			StaleRunDeadline: getEnvDuration("SWEEPER_STALE_RUN_DEADLINE", 24*time.Hour),
			Schedule:         getEnv("SWEEPER_SCHEDULE", "17 * * * *"),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("APP_ENCRYPTION_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

// validateBasic validates basic configuration regardless of environment.
func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.validateEncryption(); err != nil {
		return err
	}
	if c.Scanner.WorkerPathPrefix == "" {
		return fmt.Errorf("SCANNER_WORKER_PATH_PREFIX is required")
	}
	return nil
}

// validateLog validates logging configuration.
func (c *Config) validateLog() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}

	return nil
}

// validateEncryption validates encryption configuration.
func (c *Config) validateEncryption() error {
	if c.Encryption.Key == "" {
		if c.App.Env == EnvProduction {
			return fmt.Errorf("APP_ENCRYPTION_KEY is required in production")
		}
		return nil
	}
	if len(c.Encryption.Key) != 64 {
		return fmt.Errorf("APP_ENCRYPTION_KEY must be 64 hex characters (32 bytes), got %d", len(c.Encryption.Key))
	}
	return nil
}

// validateProduction validates production-specific configuration.
func (c *Config) validateProduction() error {
	if c.GitHub.AppID == "" {
		return fmt.Errorf("GITHUB_APP_ID is required in production")
	}
	if c.GitHub.PrivateKey == "" {
		return fmt.Errorf("GITHUB_APP_PRIVATE_KEY is required in production")
	}
	if c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("GITHUB_WEBHOOK_SECRET is required in production")
	}
	if slices.Contains(c.CORS.AllowedOrigins, "*") {
		return fmt.Errorf("CORS wildcard origin not allowed in production")
	}
	if c.Database.SSLMode == "disable" {
		return fmt.Errorf("database SSL must be enabled in production (use 'require' or 'verify-full')")
	}
	if !c.RateLimit.Enabled {
		return fmt.Errorf("rate limiting must be enabled in production")
	}
	if c.App.Debug {
		return fmt.Errorf("debug mode must be disabled in production")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, p := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
