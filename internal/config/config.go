// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Ops       OpsConfig
	Ingest    IngestConfig
	Template  TemplateConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
	Reconcile ReconcileConfig
	Taxonomy  TaxonomyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// MaxBodyBytes caps JSON request bodies (default: 32MB)
	MaxBodyBytes int64 `env:"SERVER_MAX_BODY_BYTES" default:"33554432"`
}

// DatabaseConfig holds store connection settings.
type DatabaseConfig struct {
	// Driver selects the store backend: postgres, sqlite or memory (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string (required for postgres)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// SQLitePath is the SQLite database file (required for sqlite)
	SQLitePath string `env:"SQLITE_PATH" default:"templatepick.db"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// OpsConfig bounds merges and ingests, which run fully in memory.
type OpsConfig struct {
	// MaxConcurrent is the maximum number of parallel merges and ingests (default: 4)
	MaxConcurrent int `env:"OPS_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"OPS_MAX_WAIT_TIME" default:"30s"`

	// MergeTimeout is the maximum duration of one merge (default: 2m)
	MergeTimeout time.Duration `env:"OPS_MERGE_TIMEOUT" default:"2m"`

	// IngestTimeout is the maximum duration of one ingest (default: 10m)
	IngestTimeout time.Duration `env:"OPS_INGEST_TIMEOUT" default:"10m"`

	// FetchParallelism is how many merge inputs are read at once (default: 8)
	FetchParallelism int `env:"OPS_FETCH_PARALLELISM" default:"8"`
}

// IngestConfig holds attendance ingestion settings.
type IngestConfig struct {
	// BatchSize is the number of attendance rows per upsert batch (default: 500)
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"500"`

	// MaxRows caps a single ingest request (default: 100000)
	MaxRows int `env:"INGEST_MAX_ROWS" default:"100000"`
}

// TemplateConfig holds template row paging settings.
type TemplateConfig struct {
	// DefaultPageSize is used when a request names no page size (default: 100)
	DefaultPageSize int `env:"TEMPLATE_PAGE_SIZE" default:"100"`

	// MaxPageSize caps the requested page size (default: 1000)
	MaxPageSize int `env:"TEMPLATE_MAX_PAGE_SIZE" default:"1000"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey rejects requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// ReconcileConfig holds orphaned reservation cleanup settings.
type ReconcileConfig struct {
	// Enabled controls whether the reconcile job runs (default: true)
	Enabled bool `env:"RECONCILE_ENABLED" default:"true"`

	// Interval is how often to run the reconcile job (default: 15m)
	Interval time.Duration `env:"RECONCILE_INTERVAL" default:"15m"`
}

// TaxonomyConfig points at the attendance status and site category file.
type TaxonomyConfig struct {
	// File is a YAML taxonomy file; empty uses the built-in taxonomy
	File string `env:"TAXONOMY_FILE"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
