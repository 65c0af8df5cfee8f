// Package config provides the configuration of a memstress run.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/memstress/internal/storage"
	"github.com/arkilian/memstress/internal/table"
	"github.com/arkilian/memstress/pkg/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of one run. It is read-only once loaded.
type Config struct {
	// DataDir is the base directory for local storage, work files and history
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Benchmark BenchmarkConfig `json:"benchmark" yaml:"benchmark"`
	Table     TableConfig     `json:"table" yaml:"table"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing"`
	History   HistoryConfig   `json:"history" yaml:"history"`
}

// BenchmarkConfig holds the stress loop parameters.
type BenchmarkConfig struct {
	// Rows is the number of rows per batch
	Rows int `json:"rows" yaml:"rows"`

	// Loops is the number of iterations per worker
	Loops int `json:"loops" yaml:"loops"`

	// Workers is the number of parallel workers
	Workers int `json:"workers" yaml:"workers"`

	// StringLength is the number of characters per generated string
	StringLength int `json:"string_length" yaml:"string_length"`

	// WriteEnabled controls whether batches are appended to the table
	WriteEnabled bool `json:"write_enabled" yaml:"write_enabled"`

	// ForceCollection runs a full GC before the last checkpoint
	ForceCollection bool `json:"force_collection" yaml:"force_collection"`

	// SettleDelay is waited instead of collecting when ForceCollection is off
	SettleDelay Duration `json:"settle_delay" yaml:"settle_delay"`

	// Seed seeds value generation; unset picks one at Resolve
	Seed *int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// TableConfig locates the table and defines its schema.
type TableConfig struct {
	Account   string       `json:"account" yaml:"account"`
	Container string       `json:"container" yaml:"container"`
	Path      string       `json:"path" yaml:"path"`
	Schema    types.Schema `json:"schema" yaml:"schema"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage root; containers are directories under it
	Path string `json:"path" yaml:"path"`

	// WorkDir holds staged data files and commits
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// DownloadConcurrency is the number of log entries fetched in parallel
	DownloadConcurrency int `json:"download_concurrency" yaml:"download_concurrency"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// PartSizeMB is the multipart upload part size
	PartSizeMB int64 `json:"part_size_mb" yaml:"part_size_mb"`
}

// AuthConfig selects how access tokens are produced.
type AuthConfig struct {
	// Type is static or aws
	Type string `json:"type" yaml:"type"`

	// BearerToken is returned by the static credential. The local backend
	// ignores it and the s3 backend rejects it.
	BearerToken string `json:"bearer_token" yaml:"bearer_token"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
	File   string `json:"file" yaml:"file"`
}

// TracingConfig holds OpenTelemetry exporter configuration.
type TracingConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Protocol string `json:"protocol" yaml:"protocol"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/memstress",
		Benchmark: BenchmarkConfig{
			Rows:            10000000,
			Loops:           100,
			Workers:         1,
			StringLength:    10,
			WriteEnabled:    true,
			ForceCollection: true,
			SettleDelay:     Duration(time.Second),
		},
		Table: TableConfig{
			Account:   "someaccount",
			Container: "somecontainer",
			Path:      "some/path/table",
			Schema:    types.DefaultSchema(),
		},
		Storage: StorageConfig{
			Type:                "local",
			DownloadConcurrency: 8,
			S3: S3Config{
				Region:     "us-east-1",
				PartSizeMB: 8,
			},
		},
		Auth: AuthConfig{
			Type: "static",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Protocol: "grpc",
			Endpoint: "localhost:4317",
		},
	}
}

// Resolve resolves relative paths and fills derived defaults.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/memstress"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Storage.WorkDir == "" {
		c.Storage.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.DataDir, "history.db")
	}
	if len(c.Table.Schema.Columns) == 0 {
		c.Table.Schema = types.DefaultSchema()
	}
	if c.Benchmark.Seed == nil {
		seed := time.Now().UnixNano()
		c.Benchmark.Seed = &seed
	}
}

// TableLocation returns the configured table location.
func (c *Config) TableLocation() table.Location {
	scheme := "file"
	if c.Storage.Type == "s3" {
		scheme = "s3"
	}
	return table.Location{
		Scheme:    scheme,
		Account:   c.Table.Account,
		Container: c.Table.Container,
		Path:      c.Table.Path,
	}
}

// S3 returns the storage-layer S3 configuration.
func (c *Config) S3() storage.S3Config {
	mp := storage.DefaultMultipartConfig()
	if c.Storage.S3.PartSizeMB > 0 {
		mp.PartSize = c.Storage.S3.PartSizeMB * 1024 * 1024
	}
	return storage.S3Config{
		Region:          c.Storage.S3.Region,
		Endpoint:        c.Storage.S3.Endpoint,
		UsePathStyle:    c.Storage.S3.UsePathStyle,
		MultipartConfig: mp,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	b := c.Benchmark
	if b.Rows <= 0 {
		return fmt.Errorf("benchmark.rows must be positive, got %d", b.Rows)
	}
	if b.Loops <= 0 {
		return fmt.Errorf("benchmark.loops must be positive, got %d", b.Loops)
	}
	if b.Workers <= 0 {
		return fmt.Errorf("benchmark.workers must be positive, got %d", b.Workers)
	}
	if b.StringLength < 0 {
		return fmt.Errorf("benchmark.string_length must not be negative, got %d", b.StringLength)
	}
	if b.SettleDelay < 0 {
		return fmt.Errorf("benchmark.settle_delay must not be negative, got %s", b.SettleDelay)
	}

	if err := c.TableLocation().Validate(); err != nil {
		return err
	}
	if err := c.Table.Schema.Validate(); err != nil {
		return fmt.Errorf("table.schema: %w", err)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Auth.Type != "static" && c.Auth.Type != "aws" {
		return fmt.Errorf("invalid auth type: %s (must be static or aws)", c.Auth.Type)
	}
	if c.Storage.Type == "s3" && c.Auth.Type == "static" && c.Auth.BearerToken != "" {
		return errors.New("auth.bearer_token is not supported by the s3 storage backend (use auth.type=aws)")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}
	if c.Tracing.Enabled {
		switch strings.ToLower(c.Tracing.Protocol) {
		case "grpc", "http":
		default:
			return fmt.Errorf("unsupported tracing protocol: %q", c.Tracing.Protocol)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from .env files into the process environment
// without overriding variables already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv overrides cfg from environment variables. The benchmark and
// table variables keep their historical names; everything else uses the
// MEMSTRESS_ prefix. Unparsable values are errors.
func LoadFromEnv(cfg *Config) error {
	var errs []error
	intVar := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s=%q: %w", name, v, err))
				return
			}
			*dst = n
		}
	}
	int64Var := func(name string, dst *int64) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s=%q: %w", name, v, err))
				return
			}
			*dst = n
		}
	}
	boolVar := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s=%q: %w", name, v, err))
				return
			}
			*dst = b
		}
	}
	durationVar := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s=%q: %w", name, v, err))
				return
			}
			*dst = Duration(d)
		}
	}
	seedVar := func(name string, dst **int64) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s=%q: %w", name, v, err))
				return
			}
			*dst = &n
		}
	}
	stringVar := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	// Benchmark configuration
	intVar("NUM_ROWS", &cfg.Benchmark.Rows)
	intVar("NUM_LOOPS", &cfg.Benchmark.Loops)
	intVar("NUM_THREADS", &cfg.Benchmark.Workers)
	intVar("NUM_CHARS_IN_WRITTEN_COLUMN", &cfg.Benchmark.StringLength)
	boolVar("WRITE_ENABLED", &cfg.Benchmark.WriteEnabled)
	boolVar("FORCE_GC", &cfg.Benchmark.ForceCollection)
	durationVar("MEMSTRESS_SETTLE_DELAY", &cfg.Benchmark.SettleDelay)
	seedVar("MEMSTRESS_SEED", &cfg.Benchmark.Seed)

	// Table configuration
	stringVar("STORAGE_ACCOUNT_NAME", &cfg.Table.Account)
	stringVar("STORAGE_CONTAINER_NAME", &cfg.Table.Container)
	stringVar("STORAGE_TABLE_RELATIVE_PATH", &cfg.Table.Path)

	stringVar("MEMSTRESS_DATA_DIR", &cfg.DataDir)

	// Storage configuration
	stringVar("MEMSTRESS_STORAGE_TYPE", &cfg.Storage.Type)
	stringVar("MEMSTRESS_STORAGE_PATH", &cfg.Storage.Path)
	stringVar("MEMSTRESS_WORK_DIR", &cfg.Storage.WorkDir)
	intVar("MEMSTRESS_DOWNLOAD_CONCURRENCY", &cfg.Storage.DownloadConcurrency)
	stringVar("MEMSTRESS_S3_REGION", &cfg.Storage.S3.Region)
	stringVar("MEMSTRESS_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	boolVar("MEMSTRESS_S3_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)
	int64Var("MEMSTRESS_S3_PART_SIZE_MB", &cfg.Storage.S3.PartSizeMB)

	// Auth configuration
	stringVar("MEMSTRESS_AUTH_TYPE", &cfg.Auth.Type)
	stringVar("MEMSTRESS_BEARER_TOKEN", &cfg.Auth.BearerToken)

	// Logging configuration
	stringVar("MEMSTRESS_LOG_LEVEL", &cfg.Logging.Level)
	stringVar("MEMSTRESS_LOG_FORMAT", &cfg.Logging.Format)
	stringVar("MEMSTRESS_LOG_OUTPUT", &cfg.Logging.Output)
	stringVar("MEMSTRESS_LOG_FILE", &cfg.Logging.File)

	// Tracing configuration
	boolVar("MEMSTRESS_TRACING_ENABLED", &cfg.Tracing.Enabled)
	stringVar("MEMSTRESS_TRACING_PROTOCOL", &cfg.Tracing.Protocol)
	stringVar("MEMSTRESS_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)

	// History configuration
	boolVar("MEMSTRESS_HISTORY_ENABLED", &cfg.History.Enabled)
	stringVar("MEMSTRESS_HISTORY_PATH", &cfg.History.Path)

	return errors.Join(errs...)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Storage.WorkDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.History.Enabled {
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
