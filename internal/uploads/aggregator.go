package uploads

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/JaimeStill/rxflow/pkg/pagination"
)

// Options tunes the aggregator's retry loop and error paging.
type Options struct {
	// MergeAttempts bounds read-modify-write attempts per call.
	MergeAttempts int
	// InitialBackoff is the wait after the first conflict. It doubles per
	// attempt up to MaxBackoff, with ±25% jitter.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// ErrorPageSize is the cursor page size used by Get.
	ErrorPageSize int
	Pagination    pagination.Config
}

func (o *Options) withDefaults() {
	if o.MergeAttempts <= 0 {
		o.MergeAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 10 * time.Millisecond
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = max(200*time.Millisecond, o.InitialBackoff)
	}
	if o.ErrorPageSize <= 0 {
		o.ErrorPageSize = 1000
	}
	if o.Pagination.DefaultPageSize <= 0 || o.Pagination.MaxPageSize <= 0 {
		o.Pagination = pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}
	}
}

// Aggregator is the only writer of upload statuses. Every mutation is a
// versioned read-modify-write retried on conflict.
type Aggregator struct {
	store  Store
	logger *slog.Logger
	opts   Options
}

// NewAggregator returns an Aggregator over store.
func NewAggregator(store Store, logger *slog.Logger, opts Options) *Aggregator {
	opts.withDefaults()
	return &Aggregator{
		store:  store,
		logger: logger.With("system", "uploads"),
		opts:   opts,
	}
}

// Register creates a pending status with zero counters.
func (a *Aggregator) Register(ctx context.Context, id string) (*Status, error) {
	if err := a.store.Create(ctx, Status{UploadID: id, Status: StatePending}); err != nil {
		return nil, fmt.Errorf("register %s: %w", id, err)
	}

	snap, err := a.store.Find(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", id, err)
	}

	a.logger.InfoContext(ctx, "upload registered", "upload_id", id)
	s := snap.Status
	s.Errors = []RecordError{}
	return &s, nil
}

// MergeBatch folds one batch into the status and moves pending uploads to
// processing.
func (a *Aggregator) MergeBatch(ctx context.Context, id string, b Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}

	return a.update(ctx, id, "merge", b.Errors, func(s Status) (Status, error) {
		if s.Status.Terminal() {
			return s, ErrFinalized
		}
		return s.apply(b), nil
	})
}

// Finalize sets the terminal outcome, which must be completed or failed.
// Counters are left as they are.
func (a *Aggregator) Finalize(ctx context.Context, id string, outcome State) error {
	if !outcome.Terminal() {
		return fmt.Errorf("%w: cannot finalize as %q", ErrInvalidState, outcome)
	}

	err := a.update(ctx, id, "finalize", nil, func(s Status) (Status, error) {
		if !s.Status.CanTransition(outcome) {
			return s, ErrFinalized
		}
		s.Status = outcome
		return s, nil
	})
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "upload finalized", "upload_id", id, "status", outcome)
	return nil
}

// Get returns the current snapshot. Errors are always an empty list unless
// includeErrors is set, in which case they are read page by page from a
// store cursor that is closed before returning.
func (a *Aggregator) Get(ctx context.Context, id string, includeErrors bool) (*Status, error) {
	snap, err := a.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	s := snap.Status
	s.Errors = []RecordError{}
	if !includeErrors {
		return &s, nil
	}

	cursor, err := a.store.OpenErrors(ctx, id, a.opts.ErrorPageSize)
	if err != nil {
		return nil, fmt.Errorf("open errors %s: %w", id, err)
	}
	defer func() {
		if err := cursor.Close(); err != nil {
			a.logger.Error("close error cursor failed", "upload_id", id, "error", err)
		}
	}()

	for {
		page, err := cursor.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("read errors %s: %w", id, err)
		}
		if len(page) == 0 {
			break
		}
		s.Errors = append(s.Errors, page...)
	}

	return &s, nil
}

// Errors returns one page of an upload's errors.
func (a *Aggregator) Errors(ctx context.Context, id string, page pagination.PageRequest) (*pagination.PageResult[RecordError], error) {
	page.Normalize(a.opts.Pagination)

	errs, total, err := a.store.ListErrors(ctx, id, page)
	if err != nil {
		return nil, err
	}

	result := pagination.NewPageResult(errs, total, page.Page, page.PageSize)
	return &result, nil
}

func (a *Aggregator) update(
	ctx context.Context,
	id, op string,
	errs []RecordError,
	mutate func(Status) (Status, error),
) error {
	for attempt := 1; attempt <= a.opts.MergeAttempts; attempt++ {
		snap, err := a.store.Find(ctx, id)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, id, err)
		}

		next, err := mutate(snap.Status)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, id, err)
		}

		result, err := a.store.Update(ctx, next, snap.Version, errs)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, id, err)
		}
		if result == Written {
			return nil
		}

		if attempt == a.opts.MergeAttempts {
			break
		}

		delay := a.backoff(attempt)
		a.logger.DebugContext(ctx, "status write conflict",
			"upload_id", id, "op", op, "attempt", attempt, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s %s: %w", op, id, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s %s after %d attempts: %w", op, id, a.opts.MergeAttempts, ErrConflict)
}

func (a *Aggregator) backoff(attempt int) time.Duration {
	d := a.opts.InitialBackoff << (attempt - 1)
	if d > a.opts.MaxBackoff || d <= 0 {
		d = a.opts.MaxBackoff
	}
	jitter := float64(d) * 0.25 * (rand.Float64()*2 - 1)
	return d + time.Duration(jitter)
}
