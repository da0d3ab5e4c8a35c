// Package config loads medipay runtime configuration. Values are layered:
// built-in defaults, then an optional TOML file, then MEDIPAY_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MEDIPAY_"

// Config holds all medipay configuration.
type Config struct {
	HTTP    HTTPConfig    `toml:"http"`
	Storage StorageConfig `toml:"storage"`
	Blob    BlobConfig    `toml:"blob"`
	Auth    AuthConfig    `toml:"auth"`
	Log     LogConfig     `toml:"log"`
	Export  ExportConfig  `toml:"export"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr            string        `toml:"addr" env:"HTTP_ADDR"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	ReadTimeout     time.Duration `toml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
}

// StorageConfig selects the persistent store backend.
type StorageConfig struct {
	Driver      string `toml:"driver" env:"STORAGE_DRIVER"`
	SQLitePath  string `toml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresDSN string `toml:"postgres_dsn" env:"POSTGRES_DSN"`
}

// BlobConfig selects where statement artifacts are written.
type BlobConfig struct {
	Driver string   `toml:"driver" env:"BLOB_DRIVER"`
	FSRoot string   `toml:"fs_root" env:"BLOB_FS_ROOT"`
	S3     S3Config `toml:"s3"`
}

// S3Config configures the S3 (or S3-compatible) blob backend.
type S3Config struct {
	Bucket       string `toml:"bucket" env:"BLOB_S3_BUCKET"`
	Region       string `toml:"region" env:"BLOB_S3_REGION"`
	Endpoint     string `toml:"endpoint" env:"BLOB_S3_ENDPOINT"`
	AccessKey    string `toml:"access_key" env:"BLOB_S3_ACCESS_KEY"`
	SecretKey    string `toml:"secret_key" env:"BLOB_S3_SECRET_KEY"`
	UsePathStyle bool   `toml:"use_path_style" env:"BLOB_S3_PATH_STYLE"`
}

// AuthConfig configures password login sessions.
type AuthConfig struct {
	TokenSecret string        `toml:"token_secret" env:"AUTH_TOKEN_SECRET"`
	TokenTTL    time.Duration `toml:"token_ttl" env:"AUTH_TOKEN_TTL"`
	Issuer      string        `toml:"issuer" env:"AUTH_ISSUER"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"`
}

// ExportConfig sizes the statement export worker.
type ExportConfig struct {
	QueueSize int           `toml:"queue_size" env:"EXPORT_QUEUE_SIZE"`
	Retention time.Duration `toml:"retention" env:"EXPORT_RETENTION"`
}

// Storage drivers accepted by StorageConfig.Driver.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Blob drivers accepted by BlobConfig.Driver.
const (
	BlobFS     = "fs"
	BlobS3     = "s3"
	BlobMemory = "memory"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			ReadTimeout:     15 * time.Second,
		},
		Storage: StorageConfig{
			Driver:     StorageSQLite,
			SQLitePath: "medipay.db",
		},
		Blob: BlobConfig{
			Driver: BlobFS,
			FSRoot: "./blobdata",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
			Issuer:   "medipay",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Export: ExportConfig{QueueSize: 32, Retention: 24 * time.Hour},
	}
}

// Load builds the configuration from defaults, the TOML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Blob.Driver = strings.ToLower(strings.TrimSpace(cfg.Blob.Driver))
	return cfg, nil
}

// Validate reports configuration that cannot start the service.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case BlobFS, BlobMemory:
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob s3 bucket is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.Auth.TokenSecret == "" {
		errs = append(errs, errors.New("auth token secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth token ttl must be positive"))
	}
	if c.Export.QueueSize <= 0 {
		errs = append(errs, errors.New("export queue size must be positive"))
	}
	if c.Export.Retention <= 0 {
		errs = append(errs, errors.New("export retention must be positive"))
	}
	return errors.Join(errs...)
}
