package ingest_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JaimeStill/rxflow/internal/audit"
	"github.com/JaimeStill/rxflow/internal/ingest"
)

type runFunc func(ctx context.Context, job ingest.Job) error

func (f runFunc) Run(ctx context.Context, job ingest.Job) error { return f(ctx, job) }

type eventLog struct {
	mu     sync.Mutex
	events []audit.Event
	closed chan string
}

func newEventLog() *eventLog {
	return &eventLog{closed: make(chan string, 16)}
}

func (l *eventLog) Submit(e audit.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	if e.Outcome == audit.OutcomeClosed {
		l.closed <- e.Resource
	}
}

func (l *eventLog) outcomes(resource string) []audit.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []audit.Outcome
	for _, e := range l.events {
		if e.Resource == resource {
			out = append(out, e.Outcome)
		}
	}
	return out
}

func (l *eventLog) waitClosed(t *testing.T) string {
	t.Helper()
	select {
	case r := <-l.closed:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker teardown")
		return ""
	}
}

func newDispatcher(runner ingest.Runner, events audit.Recorder, opts ingest.Options) *ingest.Dispatcher {
	return ingest.NewDispatcher(runner, events, opts, slog.New(slog.DiscardHandler))
}

func job(id string) ingest.Job {
	return ingest.Job{UploadID: id, FilePath: "uploads/" + id + ".csv", BatchSize: 10}
}

func TestDispatcherSignals(t *testing.T) {
	tests := []struct {
		name string
		run  runFunc
		want audit.Outcome
	}{
		{"done", func(context.Context, ingest.Job) error { return nil }, audit.OutcomeSuccess},
		{"failed", func(context.Context, ingest.Job) error { return errors.New("boom") }, audit.OutcomeError},
		{"panic", func(context.Context, ingest.Job) error { panic("bad row") }, audit.OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := newEventLog()
			d := newDispatcher(tt.run, events, ingest.Options{MaxWorkers: 1})

			if err := d.Submit(context.Background(), job("u1")); err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			events.waitClosed(t)

			got := events.outcomes("job - u1")
			want := []audit.Outcome{audit.OutcomeProcessing, tt.want, audit.OutcomeClosed}
			if len(got) != len(want) {
				t.Fatalf("outcomes = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("outcomes = %v, want %v", got, want)
					break
				}
			}
			if len(d.Active()) != 0 {
				t.Errorf("Active() = %v, want empty", d.Active())
			}
		})
	}
}

func TestDispatcherCeiling(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 3)
	runner := runFunc(func(ctx context.Context, j ingest.Job) error {
		started <- j.UploadID
		<-release
		return nil
	})

	events := newEventLog()
	d := newDispatcher(runner, events, ingest.Options{MaxWorkers: 2})

	for _, id := range []string{"a", "b"} {
		if err := d.Submit(context.Background(), job(id)); err != nil {
			t.Fatalf("Submit(%s) error = %v", id, err)
		}
	}
	<-started
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := d.Submit(ctx, job("c")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit() beyond ceiling error = %v, want deadline exceeded", err)
	}

	admitted := make(chan error, 1)
	go func() { admitted <- d.Submit(context.Background(), job("c")) }()

	select {
	case <-admitted:
		t.Fatal("third job admitted while the ceiling is reached")
	case <-time.After(30 * time.Millisecond):
	}

	if got := d.Active(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Active() = %v, want [a b]", got)
	}

	close(release)
	if err := <-admitted; err != nil {
		t.Fatalf("delayed Submit() error = %v", err)
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(d.Active()) != 0 {
		t.Errorf("Active() after Close = %v, want empty", d.Active())
	}
}

func TestDispatcherWorkerTimeout(t *testing.T) {
	causes := make(chan error, 1)
	runner := runFunc(func(ctx context.Context, j ingest.Job) error {
		<-ctx.Done()
		causes <- context.Cause(ctx)
		return context.Cause(ctx)
	})

	events := newEventLog()
	d := newDispatcher(runner, events, ingest.Options{MaxWorkers: 1, WorkerTimeout: 20 * time.Millisecond})

	if err := d.Submit(context.Background(), job("slow")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	events.waitClosed(t)

	if cause := <-causes; !errors.Is(cause, ingest.ErrWorkerTimeout) {
		t.Errorf("worker cause = %v, want ErrWorkerTimeout", cause)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Submit(ctx, job("next")); err != nil {
		t.Errorf("slot not reclaimed after timeout: %v", err)
	}
	d.Close(context.Background())
}

func TestDispatcherTimeoutKeepsCeiling(t *testing.T) {
	var running, peak atomic.Int32
	runner := runFunc(func(context.Context, ingest.Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	d := newDispatcher(runner, nil, ingest.Options{MaxWorkers: 1, WorkerTimeout: 20 * time.Millisecond})

	for _, id := range []string{"a", "b", "c"} {
		if err := d.Submit(context.Background(), job(id)); err != nil {
			t.Fatalf("Submit(%s) error = %v", id, err)
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := peak.Load(); got != 1 {
		t.Errorf("peak running workers = %d, want 1", got)
	}
}

func TestDispatcherTimedOutWorkerHoldsSlot(t *testing.T) {
	release := make(chan struct{})
	runner := runFunc(func(context.Context, ingest.Job) error {
		<-release
		return nil
	})

	events := newEventLog()
	d := newDispatcher(runner, events, ingest.Options{MaxWorkers: 1, WorkerTimeout: 20 * time.Millisecond})

	if err := d.Submit(context.Background(), job("stuck")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	events.waitClosed(t)

	got := events.outcomes("job - stuck")
	want := []audit.Outcome{audit.OutcomeProcessing, audit.OutcomeError, audit.OutcomeClosed}
	if len(got) != len(want) || got[1] != audit.OutcomeError {
		t.Errorf("outcomes = %v, want %v", got, want)
	}
	if active := d.Active(); len(active) != 1 || active[0] != "stuck" {
		t.Errorf("Active() = %v, want [stuck]", active)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := d.Submit(ctx, job("next")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() while runner is stuck error = %v, want deadline exceeded", err)
	}

	close(release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(d.Active()) != 0 {
		t.Errorf("Active() after Close = %v, want empty", d.Active())
	}
}

func TestDispatcherRejects(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	runner := runFunc(func(context.Context, ingest.Job) error { <-block; return nil })

	d := newDispatcher(runner, nil, ingest.Options{MaxWorkers: 4})

	if err := d.Submit(context.Background(), ingest.Job{UploadID: "x"}); !errors.Is(err, ingest.ErrInvalidJob) {
		t.Errorf("Submit(invalid) error = %v, want ErrInvalidJob", err)
	}

	if err := d.Submit(context.Background(), job("dup")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.Submit(context.Background(), job("dup")); !errors.Is(err, ingest.ErrInvalidJob) {
		t.Errorf("Submit(duplicate) error = %v, want ErrInvalidJob", err)
	}
}

func TestDispatcherCloseStopsAdmission(t *testing.T) {
	d := newDispatcher(runFunc(func(context.Context, ingest.Job) error { return nil }), nil, ingest.Options{})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Schedule(context.Background(), "u1", "uploads/u1.csv"); !errors.Is(err, ingest.ErrDispatcherClosed) {
		t.Errorf("Schedule() after Close error = %v, want ErrDispatcherClosed", err)
	}
}

func TestDispatcherCloseCancelsOnDeadline(t *testing.T) {
	runner := runFunc(func(ctx context.Context, j ingest.Job) error {
		<-ctx.Done()
		return context.Cause(ctx)
	})
	d := newDispatcher(runner, nil, ingest.Options{MaxWorkers: 1})

	if err := d.Schedule(context.Background(), "u1", "uploads/u1.csv"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want deadline exceeded", err)
	}
	if len(d.Active()) != 0 {
		t.Errorf("Active() = %v, want empty", d.Active())
	}
}
