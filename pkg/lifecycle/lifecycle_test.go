package lifecycle_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JaimeStill/rxflow/pkg/lifecycle"
)

func TestStartupSuccessMarksReady(t *testing.T) {
	lc := lifecycle.New()

	var ran atomic.Int32
	lc.OnStartup("one", func() error { ran.Add(1); return nil })
	lc.OnStartup("two", func() error { ran.Add(1); return nil })

	if lc.Ready() {
		t.Fatal("Ready() = true before WaitForStartup")
	}
	if err := lc.WaitForStartup(); err != nil {
		t.Fatalf("WaitForStartup() error = %v", err)
	}
	if ran.Load() != 2 {
		t.Errorf("ran %d hooks, want 2", ran.Load())
	}
	if !lc.Ready() {
		t.Error("Ready() = false after successful startup")
	}
}

func TestStartupFailureBlocksReadiness(t *testing.T) {
	lc := lifecycle.New()
	boom := errors.New("boom")

	lc.OnStartup("database", func() error { return boom })
	lc.OnStartup("storage", func() error { return nil })

	err := lc.WaitForStartup()
	if !errors.Is(err, boom) {
		t.Fatalf("WaitForStartup() error = %v, want %v", err, boom)
	}
	if lc.Ready() {
		t.Error("Ready() = true with failed startup hook")
	}
}

func TestShutdownRunsHooks(t *testing.T) {
	lc := lifecycle.New()

	var closed atomic.Bool
	lc.OnShutdown(func() {
		<-lc.Context().Done()
		closed.Store(true)
	})

	if err := lc.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !closed.Load() {
		t.Error("shutdown hook did not run")
	}
}

func TestShutdownTimeout(t *testing.T) {
	lc := lifecycle.New()
	release := make(chan struct{})
	defer close(release)

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		<-release
	})

	if err := lc.Shutdown(20 * time.Millisecond); err == nil {
		t.Fatal("Shutdown() error = nil, want timeout")
	}
}

func TestDrainRunsBeforeShutdownInOrder(t *testing.T) {
	lc := lifecycle.New()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		record("shutdown")
	})
	lc.OnDrain("dispatcher", func(ctx context.Context) error {
		if lc.Context().Err() != nil {
			t.Error("root context cancelled before drain")
		}
		record("dispatcher")
		return nil
	})
	lc.OnDrain("audit", func(ctx context.Context) error {
		record("audit")
		return nil
	})

	if err := lc.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	want := []string{"dispatcher", "audit", "shutdown"}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestDrainFailureReported(t *testing.T) {
	lc := lifecycle.New()
	boom := errors.New("boom")

	lc.OnDrain("dispatcher", func(context.Context) error { return boom })

	if err := lc.Shutdown(time.Second); !errors.Is(err, boom) {
		t.Errorf("Shutdown() error = %v, want %v", err, boom)
	}
	if lc.Context().Err() == nil {
		t.Error("root context not cancelled after failed drain")
	}
}
