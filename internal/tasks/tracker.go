// Package tasks tracks fire-and-forget background work so it is observable
// and cancellable instead of running as untracked goroutines. Typical use
// is a persistence write triggered by a routed message that the request
// path does not wait on.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is one unit of background work. It must honor ctx cancellation.
type Task func(ctx context.Context) error

// Handle identifies a spawned task and lets callers (mostly tests) wait
// for its completion.
type Handle struct {
	ID        string
	Name      string
	StartedAt time.Time
	done      chan struct{}
}

// Done returns a channel closed when the task finishes.
func (h Handle) Done() <-chan struct{} { return h.done }

// Tracker is the process-wide registry of background tasks.
// Safe for concurrent use from multiple conversation pipelines.
type Tracker struct {
	mu      sync.Mutex
	active  map[string]Handle
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	closed  bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		active:  make(map[string]Handle),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Spawn starts fn in the background and registers it until completion.
// Errors and panics inside fn are logged, never propagated to the caller.
func (t *Tracker) Spawn(name string, fn Task) Handle {
	h := Handle{
		ID:        uuid.NewString(),
		Name:      name,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		// Shutdown in progress: refuse new work, report as already done.
		slog.Warn("task rejected: tracker closed", "name", name)
		close(h.done)
		return h
	}
	t.active[h.ID] = h
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background task panicked", "name", name, "task_id", h.ID, "panic", r)
			}
			t.mu.Lock()
			delete(t.active, h.ID)
			t.mu.Unlock()
			close(h.done)
			t.wg.Done()
		}()

		if err := fn(t.baseCtx); err != nil && t.baseCtx.Err() == nil {
			slog.Error("background task failed", "name", name, "task_id", h.ID, "error", err)
		}
	}()

	return h
}

// ActiveCount returns the number of tasks currently running.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// CancelAll signals every running task to stop and waits for them to finish,
// bounded by ctx. Returns an error naming the stragglers when the wait
// times out.
func (t *Tracker) CancelAll(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()

	waited := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		var names []string
		for _, h := range t.active {
			names = append(names, h.Name)
		}
		t.mu.Unlock()
		return fmt.Errorf("tasks still running after shutdown deadline: %v", names)
	}
}
