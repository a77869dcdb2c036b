package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JaimeStill/rxflow/internal/audit"
	"github.com/JaimeStill/rxflow/pkg/lifecycle"
)

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// Options configures a Dispatcher.
type Options struct {
	// MaxWorkers is the number of jobs allowed to run at once.
	MaxWorkers int
	// BatchSize is applied to jobs created through Schedule.
	BatchSize int
	// WorkerTimeout cancels a worker that has not signalled in time.
	// Zero disables it.
	WorkerTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 20
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 4000
	}
}

type worker struct {
	job     Job
	cancel  context.CancelCauseFunc
	started time.Time
}

// Dispatcher admits jobs under a fixed worker ceiling and supervises each
// worker until it signals done or failed.
type Dispatcher struct {
	runner   Runner
	recorder audit.Recorder
	sem      *semaphore.Weighted
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. recorder may be nil.
func NewDispatcher(runner Runner, recorder audit.Recorder, opts Options, logger *slog.Logger) *Dispatcher {
	opts.withDefaults()
	return &Dispatcher{
		runner:   runner,
		recorder: recorder,
		sem:      semaphore.NewWeighted(int64(opts.MaxWorkers)),
		opts:     opts,
		logger:   logger.With("system", "dispatcher"),
		workers:  make(map[string]*worker),
	}
}

// Start registers a drain hook that stops admission and waits for live
// workers before the database closes.
func (d *Dispatcher) Start(lc *lifecycle.Coordinator) error {
	lc.OnDrain("dispatcher", func(ctx context.Context) error {
		if err := d.Close(ctx); err != nil {
			d.logger.Warn("dispatcher drain incomplete", "error", err)
			return err
		}
		d.logger.Info("dispatcher drained")
		return nil
	})
	return nil
}

// Schedule submits a job for uploadID using the configured batch size.
func (d *Dispatcher) Schedule(ctx context.Context, uploadID, path string) error {
	return d.Submit(ctx, Job{UploadID: uploadID, FilePath: path, BatchSize: d.opts.BatchSize})
}

// Submit blocks until a worker slot frees or ctx ends, then starts job on
// its own worker. The worker outlives ctx.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if d.isClosed() {
		return ErrDispatcherClosed
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker slot for %s: %w", job.UploadID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.sem.Release(1)
		return ErrDispatcherClosed
	}
	if _, ok := d.workers[job.UploadID]; ok {
		d.sem.Release(1)
		return fmt.Errorf("%w: upload %s is already running", ErrInvalidJob, job.UploadID)
	}

	wctx, cancel := context.WithCancelCause(context.Background())
	w := &worker{job: job, cancel: cancel, started: time.Now()}
	d.workers[job.UploadID] = w

	d.wg.Go(func() { d.supervise(wctx, w) })
	return nil
}

// Active returns the upload ids of live workers in sorted order, including
// timed out workers whose runner has not yet returned.
func (d *Dispatcher) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.workers))
	for id := range d.workers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close stops admission and waits for live workers. If ctx ends first the
// remaining workers are cancelled and ctx's error is returned once they
// have unwound.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		for _, w := range d.workers {
			w.cancel(ErrDispatcherClosed)
		}
		d.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) supervise(ctx context.Context, w *worker) {
	logger := d.logger.With("upload_id", w.job.UploadID)
	defer d.teardown(logger, w)

	signals := make(chan Signal, 1)
	d.wg.Go(func() { d.work(ctx, w.job, signals) })

	logger.Info("worker started")
	d.record(w.job, audit.OutcomeProcessing)

	var timeout <-chan time.Time
	if d.opts.WorkerTimeout > 0 {
		t := time.NewTimer(d.opts.WorkerTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case sig := <-signals:
		if sig.Type == SignalFailed {
			logger.Warn("worker failed", "error", sig.Err, "elapsed", time.Since(w.started))
			d.record(w.job, audit.OutcomeError)
			return
		}
		logger.Info("worker done", "elapsed", time.Since(w.started))
		d.record(w.job, audit.OutcomeSuccess)
	case <-timeout:
		w.cancel(ErrWorkerTimeout)
		logger.Error("worker timed out", "timeout", d.opts.WorkerTimeout)
		logger.Warn("worker slot held until runner returns")
		d.record(w.job, audit.OutcomeError)
	}
}

func (d *Dispatcher) work(ctx context.Context, job Job, signals chan<- Signal) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
		d.release(job)
		if err != nil {
			signals <- Signal{Type: SignalFailed, Err: err}
			return
		}
		signals <- Signal{Type: SignalDone}
	}()

	err = d.runner.Run(ctx, job)
}

// release frees the worker's slot once its runner has returned. A timed
// out worker stays registered and counted until then.
func (d *Dispatcher) release(job Job) {
	d.mu.Lock()
	delete(d.workers, job.UploadID)
	d.mu.Unlock()

	d.sem.Release(1)
}

func (d *Dispatcher) teardown(logger *slog.Logger, w *worker) {
	w.cancel(context.Canceled)
	d.record(w.job, audit.OutcomeClosed)
	logger.Debug("worker closed")
}

func (d *Dispatcher) record(job Job, outcome audit.Outcome) {
	if d.recorder == nil {
		return
	}
	d.recorder.Submit(audit.NewEvent(audit.CategoryJob, "job - "+job.UploadID, outcome, "dispatcher"))
}
