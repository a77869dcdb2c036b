package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

const (
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
	SinkLog      = "log"
)

const (
	EnvAuditBatchSize  = "RXFLOW_AUDIT_BATCH_SIZE"
	EnvAuditMaxLatency = "RXFLOW_AUDIT_MAX_LATENCY"
	EnvAuditSinks      = "RXFLOW_AUDIT_SINKS"
	EnvAuditStream     = "RXFLOW_AUDIT_STREAM"
)

// AuditConfig tunes the audit micro-batcher and selects its sinks.
type AuditConfig struct {
	BatchSize  int      `toml:"batch_size"`
	MaxLatency string   `toml:"max_latency"`
	Sinks      []string `toml:"sinks"`
	Stream     string   `toml:"stream"`
}

// MaxLatencyDuration returns MaxLatency as a time.Duration.
func (c *AuditConfig) MaxLatencyDuration() time.Duration {
	d, _ := time.ParseDuration(c.MaxLatency)
	return d
}

// Uses reports whether sink is among the configured sinks.
func (c *AuditConfig) Uses(sink string) bool {
	return slices.Contains(c.Sinks, sink)
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *AuditConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *AuditConfig) Merge(overlay *AuditConfig) {
	if overlay.BatchSize != 0 {
		c.BatchSize = overlay.BatchSize
	}
	if overlay.MaxLatency != "" {
		c.MaxLatency = overlay.MaxLatency
	}
	if overlay.Sinks != nil {
		c.Sinks = overlay.Sinks
	}
	if overlay.Stream != "" {
		c.Stream = overlay.Stream
	}
}

func (c *AuditConfig) loadDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.MaxLatency == "" {
		c.MaxLatency = "200ms"
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []string{SinkPostgres}
	}
	if c.Stream == "" {
		c.Stream = "rxflow:audit"
	}
}

func (c *AuditConfig) loadEnv() {
	envInt(&c.BatchSize, EnvAuditBatchSize)
	if v := os.Getenv(EnvAuditMaxLatency); v != "" {
		c.MaxLatency = v
	}
	if v := os.Getenv(EnvAuditSinks); v != "" {
		c.Sinks = nil
		for s := range strings.SplitSeq(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Sinks = append(c.Sinks, s)
			}
		}
	}
	if v := os.Getenv(EnvAuditStream); v != "" {
		c.Stream = v
	}
}

func (c *AuditConfig) validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if d, err := time.ParseDuration(c.MaxLatency); err != nil || d <= 0 {
		return fmt.Errorf("invalid max_latency %q", c.MaxLatency)
	}
	if len(c.Sinks) == 0 {
		return fmt.Errorf("at least one sink is required")
	}
	for _, s := range c.Sinks {
		switch s {
		case SinkPostgres, SinkRedis, SinkLog:
		default:
			return fmt.Errorf("unknown sink %q", s)
		}
	}
	if c.Uses(SinkRedis) && c.Stream == "" {
		return fmt.Errorf("stream is required for the redis sink")
	}
	return nil
}
