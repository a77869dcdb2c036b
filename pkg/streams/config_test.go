package streams_test

import (
	"testing"
	"time"

	"github.com/JaimeStill/rxflow/pkg/streams"
)

func TestConfigDefaults(t *testing.T) {
	var cfg streams.Config
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if cfg.Addr != "localhost:6379" {
		t.Errorf("Addr = %q, want localhost:6379", cfg.Addr)
	}
	if cfg.DialTimeoutDuration() != 3*time.Second {
		t.Errorf("DialTimeoutDuration() = %v, want 3s", cfg.DialTimeoutDuration())
	}
	if cfg.MaxLen != 100000 {
		t.Errorf("MaxLen = %d, want 100000", cfg.MaxLen)
	}
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis:6380")
	t.Setenv("TEST_REDIS_DB", "2")

	var cfg streams.Config
	if err := cfg.Finalize(&streams.Env{Addr: "TEST_REDIS_ADDR", DB: "TEST_REDIS_DB"}); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if cfg.Addr != "redis:6380" {
		t.Errorf("Addr = %q, want redis:6380", cfg.Addr)
	}
	if cfg.DB != 2 {
		t.Errorf("DB = %d, want 2", cfg.DB)
	}
}

func TestConfigMergeAndValidate(t *testing.T) {
	cfg := streams.Config{Addr: "a:1"}
	cfg.Merge(&streams.Config{Addr: "b:2", DialTimeout: "soon"})

	if cfg.Addr != "b:2" {
		t.Errorf("Addr = %q, want b:2", cfg.Addr)
	}
	if err := cfg.Finalize(nil); err == nil {
		t.Error("Finalize() error = nil, want invalid dial_timeout")
	}
}
