package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/JaimeStill/rxflow/pkg/lifecycle"
)

// Options configures a Batcher.
type Options struct {
	// BatchSize flushes the buffer as soon as it holds this many events.
	BatchSize int
	// MaxLatency flushes a non-empty buffer this long after its first event.
	MaxLatency time.Duration
	// WriteTimeout bounds each sink write.
	WriteTimeout time.Duration
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

func (o *Options) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxLatency <= 0 {
		o.MaxLatency = 200 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
}

// Batcher buffers events and hands them to a Sink in batches of at most
// BatchSize, or after MaxLatency, whichever comes first. Every flush retires
// the current timer generation so a late timer never flushes twice.
type Batcher struct {
	sink   Sink
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	buffer []Event
	gen    uint64
	timer  clock.Timer
	stop   chan struct{}
	closed bool

	writes sync.WaitGroup
}

// NewBatcher creates a Batcher writing to sink.
func NewBatcher(sink Sink, opts Options, logger *slog.Logger) *Batcher {
	opts.withDefaults()
	return &Batcher{
		sink:   sink,
		opts:   opts,
		logger: logger.With("system", "audit"),
		buffer: make([]Event, 0, opts.BatchSize),
	}
}

// Start registers a drain hook that flushes buffered events while the
// sinks are still open.
func (b *Batcher) Start(lc *lifecycle.Coordinator) error {
	lc.OnDrain("audit", func(ctx context.Context) error {
		if err := b.Close(ctx); err != nil {
			b.logger.Warn("audit drain incomplete", "error", err)
			return err
		}
		return nil
	})
	return nil
}

// Submit buffers e and returns without waiting for any write.
func (b *Batcher) Submit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.opts.Clock.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.Warn("audit event dropped after close", "id", e.ID, "resource", e.Resource)
		return
	}

	b.buffer = append(b.buffer, e)
	if len(b.buffer) >= b.opts.BatchSize {
		b.flushLocked()
		return
	}
	if len(b.buffer) == 1 {
		b.armLocked()
	}
}

// Close flushes the buffer and waits for in-flight writes or ctx.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.flushLocked()
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.writes.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) armLocked() {
	b.gen++
	gen := b.gen
	timer := b.opts.Clock.NewTimer(b.opts.MaxLatency)
	stop := make(chan struct{})
	b.timer, b.stop = timer, stop

	go func() {
		select {
		case <-timer.C():
			b.expire(gen)
		case <-stop:
		}
	}()
}

func (b *Batcher) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return
	}
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		close(b.stop)
		b.timer, b.stop = nil, nil
	}
	b.gen++

	if len(b.buffer) == 0 {
		return
	}

	batch := b.buffer
	b.buffer = make([]Event, 0, b.opts.BatchSize)
	b.writes.Go(func() { b.write(batch) })
}

func (b *Batcher) write(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.WriteTimeout)
	defer cancel()

	if err := b.sink.Write(ctx, batch); err != nil {
		b.logger.Error("audit write failed", "events", len(batch), "error", err)
		return
	}
	b.logger.Debug("audit batch written", "events", len(batch))
}

var _ Recorder = (*Batcher)(nil)
