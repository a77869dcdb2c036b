// Package streams publishes entries to Redis streams with lifecycle coordination.
package streams

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/rxflow/pkg/lifecycle"
)

// System manages the Redis client used for stream publishing.
type System interface {
	// Client returns the underlying Redis client.
	Client() *redis.Client
	// Start registers a ping on startup and client close on shutdown.
	Start(lc *lifecycle.Coordinator) error
	// Publish appends every entry to stream in one pipelined round trip.
	Publish(ctx context.Context, stream string, entries []map[string]any) error
}

type streams struct {
	client      *redis.Client
	logger      *slog.Logger
	maxLen      int64
	pingTimeout time.Duration
}

// New creates the Redis client. No connection is made until Start pings.
func New(cfg *Config, logger *slog.Logger) System {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeoutDuration(),
	})

	return &streams{
		client:      client,
		logger:      logger.With("system", "streams"),
		maxLen:      cfg.MaxLen,
		pingTimeout: cfg.PingTimeoutDuration(),
	}
}

func (s *streams) Client() *redis.Client {
	return s.client
}

func (s *streams) Start(lc *lifecycle.Coordinator) error {
	s.logger.Info("starting stream client")

	lc.OnStartup("streams", func() error {
		ctx, cancel := context.WithTimeout(lc.Context(), s.pingTimeout)
		defer cancel()

		if err := s.client.Ping(ctx).Err(); err != nil {
			s.logger.Error("redis ping failed", "error", err)
			return fmt.Errorf("redis ping: %w", err)
		}

		s.logger.Info("stream client connected")
		return nil
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		s.logger.Info("closing stream client")

		if err := s.client.Close(); err != nil {
			s.logger.Error("stream client close failed", "error", err)
		}
	})

	return nil
}

func (s *streams) Publish(ctx context.Context, stream string, entries []map[string]any) error {
	if len(entries) == 0 {
		return nil
	}

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, values := range entries {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: stream,
				MaxLen: s.maxLen,
				Approx: s.maxLen > 0,
				Values: values,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %d entries to %s: %w", len(entries), stream, err)
	}

	return nil
}
