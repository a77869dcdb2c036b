package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvIngestBatchSize      = "RXFLOW_INGEST_BATCH_SIZE"
	EnvIngestMaxWorkers     = "RXFLOW_INGEST_MAX_WORKERS"
	EnvIngestMergeAttempts  = "RXFLOW_INGEST_MERGE_ATTEMPTS"
	EnvIngestWorkerTimeout  = "RXFLOW_INGEST_WORKER_TIMEOUT"
	EnvIngestErrorPageSize  = "RXFLOW_INGEST_ERROR_PAGE_SIZE"
	EnvIngestInitialBackoff = "RXFLOW_INGEST_INITIAL_BACKOFF"
	EnvIngestMaxBackoff     = "RXFLOW_INGEST_MAX_BACKOFF"
)

// IngestConfig tunes background CSV ingestion and status merging.
type IngestConfig struct {
	BatchSize      int    `toml:"batch_size"`
	MaxWorkers     int    `toml:"max_workers"`
	MergeAttempts  int    `toml:"merge_attempts"`
	WorkerTimeout  string `toml:"worker_timeout"`
	ErrorPageSize  int    `toml:"error_page_size"`
	InitialBackoff string `toml:"initial_backoff"`
	MaxBackoff     string `toml:"max_backoff"`
}

// WorkerTimeoutDuration returns WorkerTimeout as a time.Duration. Zero
// disables the timeout.
func (c *IngestConfig) WorkerTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.WorkerTimeout)
	return d
}

// InitialBackoffDuration returns InitialBackoff as a time.Duration.
func (c *IngestConfig) InitialBackoffDuration() time.Duration {
	d, _ := time.ParseDuration(c.InitialBackoff)
	return d
}

// MaxBackoffDuration returns MaxBackoff as a time.Duration.
func (c *IngestConfig) MaxBackoffDuration() time.Duration {
	d, _ := time.ParseDuration(c.MaxBackoff)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *IngestConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *IngestConfig) Merge(overlay *IngestConfig) {
	if overlay.BatchSize != 0 {
		c.BatchSize = overlay.BatchSize
	}
	if overlay.MaxWorkers != 0 {
		c.MaxWorkers = overlay.MaxWorkers
	}
	if overlay.MergeAttempts != 0 {
		c.MergeAttempts = overlay.MergeAttempts
	}
	if overlay.WorkerTimeout != "" {
		c.WorkerTimeout = overlay.WorkerTimeout
	}
	if overlay.ErrorPageSize != 0 {
		c.ErrorPageSize = overlay.ErrorPageSize
	}
	if overlay.InitialBackoff != "" {
		c.InitialBackoff = overlay.InitialBackoff
	}
	if overlay.MaxBackoff != "" {
		c.MaxBackoff = overlay.MaxBackoff
	}
}

func (c *IngestConfig) loadDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 4000
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = 20
	}
	if c.MergeAttempts == 0 {
		c.MergeAttempts = 5
	}
	if c.WorkerTimeout == "" {
		c.WorkerTimeout = "30m"
	}
	if c.ErrorPageSize == 0 {
		c.ErrorPageSize = 1000
	}
	if c.InitialBackoff == "" {
		c.InitialBackoff = "10ms"
	}
	if c.MaxBackoff == "" {
		c.MaxBackoff = "200ms"
	}
}

func (c *IngestConfig) loadEnv() {
	envInt(&c.BatchSize, EnvIngestBatchSize)
	envInt(&c.MaxWorkers, EnvIngestMaxWorkers)
	envInt(&c.MergeAttempts, EnvIngestMergeAttempts)
	envInt(&c.ErrorPageSize, EnvIngestErrorPageSize)
	if v := os.Getenv(EnvIngestWorkerTimeout); v != "" {
		c.WorkerTimeout = v
	}
	if v := os.Getenv(EnvIngestInitialBackoff); v != "" {
		c.InitialBackoff = v
	}
	if v := os.Getenv(EnvIngestMaxBackoff); v != "" {
		c.MaxBackoff = v
	}
}

func (c *IngestConfig) validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	if c.MergeAttempts < 1 {
		return fmt.Errorf("merge_attempts must be positive, got %d", c.MergeAttempts)
	}
	if c.ErrorPageSize < 1 {
		return fmt.Errorf("error_page_size must be positive, got %d", c.ErrorPageSize)
	}
	if d, err := time.ParseDuration(c.WorkerTimeout); err != nil || d < 0 {
		return fmt.Errorf("invalid worker_timeout %q", c.WorkerTimeout)
	}
	initial, err := time.ParseDuration(c.InitialBackoff)
	if err != nil {
		return fmt.Errorf("invalid initial_backoff: %w", err)
	}
	maxBackoff, err := time.ParseDuration(c.MaxBackoff)
	if err != nil {
		return fmt.Errorf("invalid max_backoff: %w", err)
	}
	if maxBackoff < initial {
		return fmt.Errorf("max_backoff %s is below initial_backoff %s", c.MaxBackoff, c.InitialBackoff)
	}
	return nil
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
