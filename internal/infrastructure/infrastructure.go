// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, database, storage, streams) that domain systems require.
package infrastructure

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JaimeStill/rxflow/internal/config"
	"github.com/JaimeStill/rxflow/pkg/database"
	"github.com/JaimeStill/rxflow/pkg/lifecycle"
	"github.com/JaimeStill/rxflow/pkg/storage"
	"github.com/JaimeStill/rxflow/pkg/streams"
)

// Infrastructure holds the core systems required by all domain modules.
// Streams is nil unless the redis audit sink is configured.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Streams   streams.System
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := NewLogger(os.Stderr, cfg.Env())

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	infra := &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Database:  db,
		Storage:   store,
	}

	if cfg.Audit.Uses(config.SinkRedis) {
		infra.Streams = streams.New(&cfg.Redis, logger)
	}

	return infra, nil
}

// NewLogger returns a text logger at debug level for local and dev
// environments and info level otherwise.
func NewLogger(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "local" || env == "dev" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Start registers all infrastructure systems with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start failed: %w", err)
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}
	if i.Streams != nil {
		if err := i.Streams.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("streams start failed: %w", err)
		}
	}
	return nil
}
