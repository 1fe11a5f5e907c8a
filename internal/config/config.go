// Package config provides configuration for the framekit server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "FRAMEKIT_"

// Config holds the framekit configuration.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`

	HTTP    HTTPConfig    `json:"http" yaml:"http" toml:"http"`
	GRPC    GRPCConfig    `json:"grpc" yaml:"grpc" toml:"grpc"`
	Storage StorageConfig `json:"storage" yaml:"storage" toml:"storage"`
	Catalog CatalogConfig `json:"catalog" yaml:"catalog" toml:"catalog"`
	Cache   CacheConfig   `json:"cache" yaml:"cache" toml:"cache"`
	Stats   StatsConfig   `json:"stats" yaml:"stats" toml:"stats"`
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr" toml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`

	// MaxBodyBytes caps request bodies
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// StorageConfig selects where frame datasets are stored.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" toml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" toml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3" toml:"s3"`

	// LoadConcurrency bounds parallel object reads when loading a dataset
	LoadConcurrency int `json:"load_concurrency" yaml:"load_concurrency" toml:"load_concurrency"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Region       string `json:"region" yaml:"region" toml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style" toml:"use_path_style"`
	MaxRetries   int    `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
}

// CatalogConfig holds pipeline catalog configuration.
type CatalogConfig struct {
	// Driver is sqlite or postgres
	Driver string `json:"driver" yaml:"driver" toml:"driver"`

	// Path is the SQLite database file; defaults to <data_dir>/catalog.db
	Path string `json:"path" yaml:"path" toml:"path"`

	// URL is the PostgreSQL connection string (for postgres driver)
	URL      string `json:"url" yaml:"url" toml:"url"`
	MaxConns int32  `json:"max_conns" yaml:"max_conns" toml:"max_conns"`
}

// CacheConfig holds result cache configuration.
type CacheConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxEntries int           `json:"max_entries" yaml:"max_entries" toml:"max_entries"`
	TTL        time.Duration `json:"ttl" yaml:"ttl" toml:"ttl"`
}

// StatsConfig holds usage statistics configuration.
type StatsConfig struct {
	// Window is how long an idle entry is kept
	Window time.Duration `json:"window" yaml:"window" toml:"window"`

	// PruneInterval is how often expired entries are dropped
	PruneInterval time.Duration `json:"prune_interval" yaml:"prune_interval" toml:"prune_interval"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level" toml:"level"`

	// Development switches to the human readable console encoder
	Development bool `json:"development" yaml:"development" toml:"development"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/framekit",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodyBytes: 32 << 20,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Storage: StorageConfig{
			Type:            "local",
			S3:              S3Config{MaxRetries: 3},
			LoadConcurrency: 8,
		},
		Catalog: CatalogConfig{
			Driver:   "sqlite",
			MaxConns: 4,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 1024,
			TTL:        10 * time.Minute,
		},
		Stats: StatsConfig{
			Window:        time.Hour,
			PruneInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Resolve fills in paths derived from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/framekit"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Catalog.Driver == "" {
		c.Catalog.Driver = "sqlite"
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}

	switch c.Storage.Type {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when storage type is s3")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.LoadConcurrency < 1 {
		return fmt.Errorf("storage.load_concurrency must be positive")
	}

	switch c.Catalog.Driver {
	case "sqlite":
	case "postgres":
		if c.Catalog.URL == "" {
			return fmt.Errorf("catalog.url is required when catalog driver is postgres")
		}
	default:
		return fmt.Errorf("invalid catalog driver: %s (must be sqlite or postgres)", c.Catalog.Driver)
	}

	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %s", c.Cache.TTL)
	}
	if c.Stats.PruneInterval <= 0 {
		return fmt.Errorf("stats.prune_interval must be positive, got %s", c.Stats.PruneInterval)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML, TOML or JSON file on top of the defaults.
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
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
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

// LoadFromEnv overrides cfg with FRAMEKIT_* environment variables.
// Malformed numeric, boolean and duration values are reported.
func LoadFromEnv(cfg *Config) error {
	env := envReader{}

	env.stringVar("DATA_DIR", &cfg.DataDir)

	env.stringVar("HTTP_ADDR", &cfg.HTTP.Addr)
	env.durationVar("HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	env.durationVar("HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	env.int64Var("HTTP_MAX_BODY_BYTES", &cfg.HTTP.MaxBodyBytes)

	env.stringVar("GRPC_ADDR", &cfg.GRPC.Addr)
	env.boolVar("GRPC_ENABLED", &cfg.GRPC.Enabled)

	env.stringVar("STORAGE_TYPE", &cfg.Storage.Type)
	env.stringVar("STORAGE_PATH", &cfg.Storage.Path)
	env.stringVar("S3_BUCKET", &cfg.Storage.S3.Bucket)
	env.stringVar("S3_REGION", &cfg.Storage.S3.Region)
	env.stringVar("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	env.boolVar("S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)
	env.intVar("S3_MAX_RETRIES", &cfg.Storage.S3.MaxRetries)
	env.intVar("STORAGE_LOAD_CONCURRENCY", &cfg.Storage.LoadConcurrency)

	env.stringVar("CATALOG_DRIVER", &cfg.Catalog.Driver)
	env.stringVar("CATALOG_PATH", &cfg.Catalog.Path)
	env.stringVar("CATALOG_URL", &cfg.Catalog.URL)

	env.boolVar("CACHE_ENABLED", &cfg.Cache.Enabled)
	env.intVar("CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	env.durationVar("CACHE_TTL", &cfg.Cache.TTL)

	env.durationVar("STATS_WINDOW", &cfg.Stats.Window)
	env.durationVar("STATS_PRUNE_INTERVAL", &cfg.Stats.PruneInterval)

	env.stringVar("LOG_LEVEL", &cfg.Logging.Level)
	env.boolVar("LOG_DEVELOPMENT", &cfg.Logging.Development)

	env.durationVar("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	return env.err
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Catalog.Driver == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Catalog.Path))
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
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

// envReader records the first parse failure.
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	return v, ok && v != ""
}

func (e *envReader) fail(name, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, name, v, err)
	}
}

func (e *envReader) stringVar(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envReader) boolVar(name string, dst *bool) {
	if v, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) intVar(name string, dst *int) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64Var(name string, dst *int64) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) durationVar(name string, dst *time.Duration) {
	if v, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}
