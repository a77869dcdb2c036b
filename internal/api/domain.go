package api

import (
	"fmt"

	"github.com/JaimeStill/rxflow/internal/audit"
	"github.com/JaimeStill/rxflow/internal/config"
	"github.com/JaimeStill/rxflow/internal/ingest"
	"github.com/JaimeStill/rxflow/internal/prescriptions"
	"github.com/JaimeStill/rxflow/internal/uploads"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Uploads    uploads.System
	Dispatcher *ingest.Dispatcher
	Audit      *audit.Batcher
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(runtime *Runtime) (*Domain, error) {
	db := runtime.Database.Connection()

	sink, err := auditSink(runtime)
	if err != nil {
		return nil, err
	}
	batcher := audit.NewBatcher(sink, audit.Options{
		BatchSize:  runtime.Audit.BatchSize,
		MaxLatency: runtime.Audit.MaxLatencyDuration(),
	}, runtime.Logger)

	aggregator := uploads.NewAggregator(
		uploads.NewPostgresStore(db),
		runtime.Logger,
		uploads.Options{
			MergeAttempts:  runtime.Ingest.MergeAttempts,
			InitialBackoff: runtime.Ingest.InitialBackoffDuration(),
			MaxBackoff:     runtime.Ingest.MaxBackoffDuration(),
			ErrorPageSize:  runtime.Ingest.ErrorPageSize,
			Pagination:     runtime.Pagination,
		},
	)

	pipeline := ingest.NewPipeline(
		runtime.Storage,
		prescriptions.NewRepository(db),
		aggregator,
		nil,
		runtime.Logger,
	)

	dispatcher := ingest.NewDispatcher(pipeline, batcher, ingest.Options{
		MaxWorkers:    runtime.Ingest.MaxWorkers,
		BatchSize:     runtime.Ingest.BatchSize,
		WorkerTimeout: runtime.Ingest.WorkerTimeoutDuration(),
	}, runtime.Logger)

	return &Domain{
		Uploads:    aggregator,
		Dispatcher: dispatcher,
		Audit:      batcher,
	}, nil
}

// Start registers drain hooks. The dispatcher drains first so its job
// events reach the audit batcher before the final flush.
func (d *Domain) Start(runtime *Runtime) error {
	if err := d.Dispatcher.Start(runtime.Lifecycle); err != nil {
		return fmt.Errorf("dispatcher start failed: %w", err)
	}
	if err := d.Audit.Start(runtime.Lifecycle); err != nil {
		return fmt.Errorf("audit start failed: %w", err)
	}
	return nil
}

func auditSink(runtime *Runtime) (audit.Sink, error) {
	var sinks []audit.Sink
	for _, name := range runtime.Audit.Sinks {
		switch name {
		case config.SinkPostgres:
			sinks = append(sinks, audit.NewPostgresSink(runtime.Database.Connection()))
		case config.SinkRedis:
			if runtime.Streams == nil {
				return nil, fmt.Errorf("audit sink %q requires a redis client", name)
			}
			sinks = append(sinks, audit.NewStreamSink(runtime.Streams, runtime.Audit.Stream))
		case config.SinkLog:
			sinks = append(sinks, audit.NewLogSink(runtime.Logger))
		default:
			return nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no audit sink configured")
	}
	return audit.Fanout(sinks...), nil
}
