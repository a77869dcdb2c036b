package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/JaimeStill/rxflow/internal/prescriptions"
	"github.com/JaimeStill/rxflow/internal/uploads"
)

// Source opens a stored upload for reading.
type Source interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// Statuses is the subset of the status aggregator a pipeline writes through.
type Statuses interface {
	MergeBatch(ctx context.Context, id string, b uploads.Batch) error
	Finalize(ctx context.Context, id string, outcome uploads.State) error
}

// Pipeline runs one upload through validation, persistence and status
// merging, one batch at a time.
type Pipeline struct {
	source    Source
	records   prescriptions.Repository
	statuses  Statuses
	validator *prescriptions.Validator
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline. A nil validator uses the wall clock.
func NewPipeline(
	source Source,
	records prescriptions.Repository,
	statuses Statuses,
	validator *prescriptions.Validator,
	logger *slog.Logger,
) *Pipeline {
	if validator == nil {
		validator = prescriptions.NewValidator(nil)
	}
	return &Pipeline{
		source:    source,
		records:   records,
		statuses:  statuses,
		validator: validator,
		logger:    logger.With("system", "ingest"),
	}
}

// Run streams job's file to completion. Any read, persistence or merge
// failure finalizes the upload as failed and is returned.
func (p *Pipeline) Run(ctx context.Context, job Job) (err error) {
	if err := job.Validate(); err != nil {
		return err
	}

	logger := p.logger.With("upload_id", job.UploadID)
	defer func() {
		if r := recover(); r != nil {
			err = p.fail(ctx, logger, job.UploadID, fmt.Errorf("%w: %v", ErrWorkerPanic, r))
		}
	}()

	rc, err := p.source.Download(ctx, job.FilePath)
	if err != nil {
		return p.fail(ctx, logger, job.UploadID, fmt.Errorf("open %s: %w", job.FilePath, err))
	}
	defer rc.Close()

	reader := NewBatchReader(rc, job.BatchSize)
	var processed, valid int

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, logger, job.UploadID, fmt.Errorf("batch %d: %w", n, context.Cause(ctx)))
		}

		rows, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.fail(ctx, logger, job.UploadID, fmt.Errorf("batch %d: %w", n, err))
		}

		batch, err := p.process(ctx, job.UploadID, rows)
		if err != nil {
			return p.fail(ctx, logger, job.UploadID, fmt.Errorf("batch %d: %w", n, err))
		}

		processed += batch.Processed
		valid += batch.Valid
		logger.InfoContext(ctx, "batch merged",
			"batch", n,
			"processed", batch.Processed,
			"valid", batch.Valid,
			"errors", len(batch.Errors),
		)
	}

	if err := p.statuses.Finalize(ctx, job.UploadID, uploads.StateCompleted); err != nil {
		return p.fail(ctx, logger, job.UploadID, fmt.Errorf("finalize: %w", err))
	}

	logger.InfoContext(ctx, "upload completed", "processed", processed, "valid", valid)
	return nil
}

func (p *Pipeline) process(ctx context.Context, uploadID string, rows []Row) (uploads.Batch, error) {
	batch := uploads.Batch{Processed: len(rows), Errors: []uploads.RecordError{}}
	accepted := make([]prescriptions.Record, 0, len(rows))

	for _, row := range rows {
		rec := prescriptions.FromRow(row.Values)
		errs := p.validator.Validate(rec)
		if len(errs) == 0 {
			accepted = append(accepted, rec)
			continue
		}
		for _, fe := range errs {
			batch.Errors = append(batch.Errors, uploads.RecordError{
				Message: fe.Message,
				Field:   fe.Field,
				Line:    row.Line,
				Value:   fe.Value,
			})
		}
	}
	batch.Valid = len(accepted)

	if err := p.records.SaveMany(ctx, uploadID, accepted); err != nil {
		return batch, err
	}
	if err := p.statuses.MergeBatch(ctx, uploadID, batch); err != nil {
		return batch, err
	}
	return batch, nil
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, uploadID string, cause error) error {
	logger.ErrorContext(ctx, "upload failed", "error", cause)

	err := p.statuses.Finalize(context.WithoutCancel(ctx), uploadID, uploads.StateFailed)
	if err != nil && !errors.Is(err, uploads.ErrFinalized) {
		logger.ErrorContext(ctx, "finalize failed upload", "error", err)
	}
	return cause
}
