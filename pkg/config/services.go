package config

import (
	"fmt"
)

const (
	// DefaultAPIListen is the default results API listen address.
	DefaultAPIListen = ":8080"

	// DefaultRequestsPerMinute is the default per-IP API rate limit.
	DefaultRequestsPerMinute = 120

	// DefaultHistoryDriver is the default run history database driver.
	DefaultHistoryDriver = "sqlite"

	// DefaultHistorySQLitePath is the default SQLite database file.
	DefaultHistorySQLitePath = "hwci.db"

	// DefaultUploadParallelism bounds concurrent S3 uploads.
	DefaultUploadParallelism = 50
)

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written after every report flush when set, for the node
	// exporter textfile collector.
	Textfile string `yaml:"textfile,omitempty" mapstructure:"textfile"`
}

// HistoryConfig configures persistence of every run into a database.
type HistoryConfig struct {
	Enabled  bool                 `yaml:"enabled" mapstructure:"enabled"`
	Driver   string               `yaml:"driver,omitempty" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// DSN returns the PostgreSQL connection string.
func (p PostgresConfig) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, sslMode,
	)
}

func (h *HistoryConfig) applyDefaults() {
	if h.Driver == "" {
		h.Driver = DefaultHistoryDriver
	}

	if h.SQLite.Path == "" {
		h.SQLite.Path = DefaultHistorySQLitePath
	}

	if h.Postgres.Port == 0 {
		h.Postgres.Port = 5432
	}
}

// Validate checks the history settings.
func (h *HistoryConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	switch h.Driver {
	case "sqlite":
		if h.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case "postgres":
		if h.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required")
		}

		if h.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported driver %q (must be sqlite or postgres)", h.Driver)
	}

	return nil
}

// UploadConfig configures where results are uploaded after a run.
type UploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Parallelism     int    `yaml:"parallelism,omitempty" mapstructure:"parallelism"`
}

func (u *UploadConfig) applyDefaults() {
	if u.S3 != nil && u.S3.Parallelism == 0 {
		u.S3.Parallelism = DefaultUploadParallelism
	}
}

// Enabled reports whether S3 upload is configured and switched on.
func (u *UploadConfig) Enabled() bool {
	return u.S3 != nil && u.S3.Enabled
}

// Validate checks the upload settings.
func (u *UploadConfig) Validate() error {
	if !u.Enabled() {
		return nil
	}

	if u.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}

	if u.S3.Parallelism < 0 {
		return fmt.Errorf("s3.parallelism must not be negative")
	}

	return nil
}

// APIConfig contains results API server settings.
type APIConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

func (a *APIConfig) applyDefaults() {
	if a.Listen == "" {
		a.Listen = DefaultAPIListen
	}

	if a.RateLimit.RequestsPerMinute == 0 {
		a.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
}
