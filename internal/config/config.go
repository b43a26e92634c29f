// Package config loads process configuration from a YAML file and
// IDMCORE_* environment variables. Environment values override the file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	blobcore "idmcore/internal/blob/core"
)

// StorageDriver identifies a record store backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBolt     StorageDriver = "bolt"     // embedded bolt file
)

// DefaultGraceWindow is how long an oauth2 session may exist without its
// parent session before it is removed.
const DefaultGraceWindow = 5 * time.Minute

// Config is the root configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Blob    BlobConfig    `yaml:"blob"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
	Workers WorkerConfig  `yaml:"workers"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	Driver      StorageDriver `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	BoltPath    string        `yaml:"bolt_path"`
}

// BlobConfig configures where backups are written.
type BlobConfig struct {
	Driver blobcore.Driver `yaml:"driver"`
	FSRoot string          `yaml:"fs_root"`
	S3     S3Config        `yaml:"s3"`
	// Keep is the number of most recent backups retained; 0 keeps all.
	Keep int `yaml:"keep"`
}

// S3Config configures the S3 blob driver.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SessionConfig holds session consistency settings.
type SessionConfig struct {
	GraceWindow time.Duration `yaml:"grace_window"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// WorkerConfig sizes the event dispatcher.
type WorkerConfig struct {
	Count int `yaml:"count"`
}

// MetricsConfig configures prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	// Textfile receives the metrics in Prometheus text format when a command
	// finishes, for collection by a node exporter textfile collector.
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads path (optional), applies environment overrides and defaults,
// and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by admin
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		data = []byte(expandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyEnv overrides cfg from IDMCORE_* variables.
//
//	IDMCORE_STORAGE_DRIVER: memory|sqlite|postgres|bolt
//	IDMCORE_SQLITE_PATH, IDMCORE_POSTGRES_DSN, IDMCORE_BOLT_PATH
//	IDMCORE_BLOB_DRIVER: memory|fs|s3
//	IDMCORE_BLOB_FS_ROOT, IDMCORE_BLOB_KEEP
//	IDMCORE_BLOB_S3_BUCKET, IDMCORE_BLOB_S3_REGION, IDMCORE_BLOB_S3_ENDPOINT,
//	IDMCORE_BLOB_S3_PREFIX, IDMCORE_BLOB_S3_PATH_STYLE
//	IDMCORE_SESSION_GRACE_WINDOW: Go duration, e.g. 5m
//	IDMCORE_LOG_LEVEL, IDMCORE_LOG_DEVELOPMENT
//	IDMCORE_WORKERS
//	IDMCORE_METRICS_ENABLED, IDMCORE_METRICS_NAMESPACE, IDMCORE_METRICS_TEXTFILE
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	var driver, blobDriver string
	str("IDMCORE_STORAGE_DRIVER", &driver)
	if driver != "" {
		cfg.Storage.Driver = StorageDriver(strings.ToLower(driver))
	}
	str("IDMCORE_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("IDMCORE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("IDMCORE_BOLT_PATH", &cfg.Storage.BoltPath)

	str("IDMCORE_BLOB_DRIVER", &blobDriver)
	if blobDriver != "" {
		cfg.Blob.Driver = blobcore.Driver(strings.ToLower(blobDriver))
	}
	str("IDMCORE_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("IDMCORE_BLOB_S3_BUCKET", &cfg.Blob.S3.Bucket)
	str("IDMCORE_BLOB_S3_REGION", &cfg.Blob.S3.Region)
	str("IDMCORE_BLOB_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	str("IDMCORE_BLOB_S3_PREFIX", &cfg.Blob.S3.Prefix)
	str("IDMCORE_LOG_LEVEL", &cfg.Log.Level)
	str("IDMCORE_METRICS_NAMESPACE", &cfg.Metrics.Namespace)
	str("IDMCORE_METRICS_TEXTFILE", &cfg.Metrics.Textfile)

	if v, ok := lookup("IDMCORE_SESSION_GRACE_WINDOW"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("IDMCORE_SESSION_GRACE_WINDOW: %w", err)
		}
		cfg.Session.GraceWindow = d
	}
	for key, dst := range map[string]*bool{
		"IDMCORE_BLOB_S3_PATH_STYLE": &cfg.Blob.S3.PathStyle,
		"IDMCORE_LOG_DEVELOPMENT":    &cfg.Log.Development,
		"IDMCORE_METRICS_ENABLED":    &cfg.Metrics.Enabled,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*int{
		"IDMCORE_BLOB_KEEP": &cfg.Blob.Keep,
		"IDMCORE_WORKERS":   &cfg.Workers.Count,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// applyDefaults fills unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageSQLite
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "idmcore.db"
	}
	if cfg.Storage.BoltPath == "" {
		cfg.Storage.BoltPath = "idmcore.bolt"
	}
	if cfg.Blob.Driver == "" {
		cfg.Blob.Driver = blobcore.DriverFilesystem
	}
	if cfg.Blob.FSRoot == "" {
		cfg.Blob.FSRoot = "./backups"
	}
	if cfg.Session.GraceWindow == 0 {
		cfg.Session.GraceWindow = DefaultGraceWindow
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Workers.Count == 0 {
		cfg.Workers.Count = 4
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "idmcore"
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StorageBolt:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage: postgres_dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case blobcore.DriverMemory, blobcore.DriverFilesystem:
	case blobcore.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob: s3.bucket required for s3 driver")
		}
	default:
		return fmt.Errorf("blob: unknown driver %q", c.Blob.Driver)
	}
	if c.Blob.Keep < 0 {
		return fmt.Errorf("blob: keep must not be negative")
	}
	if c.Session.GraceWindow < 0 {
		return fmt.Errorf("session: grace_window must not be negative")
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers: count must be at least 1")
	}
	if c.Metrics.Enabled && c.Metrics.Textfile == "" {
		return fmt.Errorf("metrics: textfile required when enabled")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}
