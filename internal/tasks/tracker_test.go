package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSpawn_CompletesAndDeregisters(t *testing.T) {
	tr := NewTracker()

	ran := make(chan struct{})
	h := tr.Spawn("persist", func(ctx context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task never completed")
	}

	if n := tr.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount() = %d after completion, want 0", n)
	}
}

func TestSpawn_FailureDoesNotPropagate(t *testing.T) {
	tr := NewTracker()

	h := tr.Spawn("persist", func(ctx context.Context) error {
		return errors.New("disk full")
	})
	<-h.Done()

	if n := tr.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount() = %d after failed task, want 0", n)
	}
}

func TestSpawn_PanicIsContained(t *testing.T) {
	tr := NewTracker()

	h := tr.Spawn("persist", func(ctx context.Context) error {
		panic("boom")
	})
	<-h.Done()

	if n := tr.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount() = %d after panicked task, want 0", n)
	}
}

func TestActiveCount_WhileRunning(t *testing.T) {
	tr := NewTracker()

	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		tr.Spawn("work", func(ctx context.Context) error {
			<-release
			return nil
		})
	}

	// Tasks register synchronously in Spawn.
	if n := tr.ActiveCount(); n != 3 {
		t.Errorf("ActiveCount() = %d, want 3", n)
	}
	close(release)
}

func TestCancelAll_StopsTasks(t *testing.T) {
	tr := NewTracker()

	var cancelled atomic.Bool
	tr.Spawn("long", func(ctx context.Context) error {
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.CancelAll(ctx); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if !cancelled.Load() {
		t.Error("task did not observe cancellation")
	}
	if n := tr.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount() = %d after CancelAll, want 0", n)
	}
}

func TestCancelAll_TimesOutOnStuckTask(t *testing.T) {
	tr := NewTracker()

	stuck := make(chan struct{})
	defer close(stuck)
	tr.Spawn("stuck", func(ctx context.Context) error {
		<-stuck // ignores ctx
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := tr.CancelAll(ctx); err == nil {
		t.Fatal("expected timeout error for stuck task")
	}
}

func TestSpawn_AfterCancelAllIsRejected(t *testing.T) {
	tr := NewTracker()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.CancelAll(ctx); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}

	ran := false
	h := tr.Spawn("late", func(ctx context.Context) error {
		ran = true
		return nil
	})
	<-h.Done()
	if ran {
		t.Error("task must not run after shutdown")
	}
}
