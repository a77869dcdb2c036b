package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/rxflow/pkg/database"
	"github.com/JaimeStill/rxflow/pkg/storage"
	"github.com/JaimeStill/rxflow/pkg/streams"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvRxflowEnv             = "RXFLOW_ENV"
	EnvRxflowShutdownTimeout = "RXFLOW_SHUTDOWN_TIMEOUT"
	EnvRxflowVersion         = "RXFLOW_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "RXFLOW_DB_HOST",
	Port:            "RXFLOW_DB_PORT",
	Name:            "RXFLOW_DB_NAME",
	User:            "RXFLOW_DB_USER",
	Password:        "RXFLOW_DB_PASSWORD",
	SSLMode:         "RXFLOW_DB_SSL_MODE",
	ApplicationName: "RXFLOW_DB_APPLICATION_NAME",
	MaxOpenConns:    "RXFLOW_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "RXFLOW_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "RXFLOW_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "RXFLOW_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	Provider:         "RXFLOW_STORAGE_PROVIDER",
	ContainerName:    "RXFLOW_STORAGE_CONTAINER_NAME",
	ConnectionString: "RXFLOW_STORAGE_CONNECTION_STRING",
	Root:             "RXFLOW_STORAGE_ROOT",
}

var redisEnv = &streams.Env{
	Addr:        "RXFLOW_REDIS_ADDR",
	Password:    "RXFLOW_REDIS_PASSWORD",
	DB:          "RXFLOW_REDIS_DB",
	PoolSize:    "RXFLOW_REDIS_POOL_SIZE",
	DialTimeout: "RXFLOW_REDIS_DIAL_TIMEOUT",
	PingTimeout: "RXFLOW_REDIS_PING_TIMEOUT",
	MaxLen:      "RXFLOW_REDIS_MAX_LEN",
}

// Config is the root configuration for the rxflow service.
type Config struct {
	Server          ServerConfig    `toml:"server"`
	Database        database.Config `toml:"database"`
	Storage         storage.Config  `toml:"storage"`
	Redis           streams.Config  `toml:"redis"`
	API             APIConfig       `toml:"api"`
	Ingest          IngestConfig    `toml:"ingest"`
	Audit           AuditConfig     `toml:"audit"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	Version         string          `toml:"version"`
}

// Env returns the RXFLOW_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvRxflowEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Redis.Merge(&overlay.Redis)
	c.API.Merge(&overlay.API)
	c.Ingest.Merge(&overlay.Ingest)
	c.Audit.Merge(&overlay.Audit)
}

// Finalize applies defaults, environment overrides, and validation to
// every section.
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Redis.Finalize(redisEnv); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Ingest.Finalize(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := c.Audit.Finalize(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvRxflowShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvRxflowVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvRxflowEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
