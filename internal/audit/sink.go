package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

var auditColumns = []string{"id", "category", "resource", "outcome", "origin", "timestamp"}

// PostgresSink inserts events into audit_logs.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink returns a sink writing to db.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	q, args := buildInsert(events)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert %d audit events: %w", len(events), err)
	}
	return nil
}

func buildInsert(events []Event) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO audit_logs (")
	b.WriteString(strings.Join(auditColumns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(events)*len(auditColumns))
	for i, e := range events {
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, e.ID, string(e.Category), e.Resource, string(e.Outcome), e.Origin, e.Timestamp)
	}
	b.WriteString(" ON CONFLICT (id) DO NOTHING")

	return b.String(), args
}

// Publisher appends entries to a named stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, entries []map[string]any) error
}

// StreamSink publishes events to a Redis stream.
type StreamSink struct {
	publisher Publisher
	stream    string
}

// NewStreamSink returns a sink publishing to stream.
func NewStreamSink(publisher Publisher, stream string) *StreamSink {
	return &StreamSink{publisher: publisher, stream: stream}
}

func (s *StreamSink) Write(ctx context.Context, events []Event) error {
	entries := make([]map[string]any, len(events))
	for i, e := range events {
		entries[i] = map[string]any{
			"id":        e.ID,
			"category":  string(e.Category),
			"resource":  e.Resource,
			"outcome":   string(e.Outcome),
			"origin":    e.Origin,
			"timestamp": e.Timestamp.Format(time.RFC3339Nano),
		}
	}
	return s.publisher.Publish(ctx, s.stream, entries)
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("sink", "log")}
}

func (s *LogSink) Write(ctx context.Context, events []Event) error {
	for _, e := range events {
		s.logger.InfoContext(ctx, "audit",
			"id", e.ID,
			"category", e.Category,
			"resource", e.Resource,
			"outcome", e.Outcome,
			"origin", e.Origin,
			"timestamp", e.Timestamp,
		)
	}
	return nil
}

// Fanout writes every batch to all sinks concurrently.
func Fanout(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return fanout(sinks)
}

type fanout []Sink

func (f fanout) Write(ctx context.Context, events []Event) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range f {
		g.Go(func() error { return s.Write(gctx, events) })
	}
	return g.Wait()
}
