// Package assets owns the temporary-file lifecycle for downloaded media.
// Every download is tracked by a Scope whose Close removes all tracked
// paths, so a handler cannot leak a file on any exit path. Call sites must
// not reimplement cleanup by hand.
package assets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/nextlevelbuilder/inlet/internal/bus"
	"github.com/nextlevelbuilder/inlet/internal/metrics"
)

// Downloader resolves a media reference to a local temp file.
// Implementations must remove any partially written file before returning
// an error; on success the caller's Scope owns the returned path.
type Downloader interface {
	Download(ctx context.Context, ref bus.MediaRef) (string, error)
}

// Manager creates scopes bound to a downloader.
type Manager struct {
	dl Downloader
}

// NewManager creates an asset manager over the given downloader.
func NewManager(dl Downloader) *Manager {
	return &Manager{dl: dl}
}

// Scope tracks every asset acquired within one handler invocation.
// Close releases all of them; it is idempotent and safe to defer.
type Scope struct {
	m      *Manager
	mu     sync.Mutex
	paths  []string
	closed bool
}

// NewScope starts an empty scope.
func (m *Manager) NewScope() *Scope {
	return &Scope{m: m}
}

// Acquire downloads ref and registers the resulting path with the scope.
func (s *Scope) Acquire(ctx context.Context, ref bus.MediaRef) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("acquire on closed asset scope")
	}
	s.mu.Unlock()

	path, err := s.m.dl.Download(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("download media %s: %w", ref.FileID, err)
	}

	s.track(path)
	return path, nil
}

// Adopt registers an externally created file (e.g. an extraction output)
// so it is released together with the scope's downloads.
func (s *Scope) Adopt(path string) {
	if path == "" {
		return
	}
	s.track(path)
}

func (s *Scope) track(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Scope already released; remove immediately rather than leak.
		removeAsset(path)
		return
	}
	s.paths = append(s.paths, path)
}

// Close removes every tracked path. Removal failures are logged and counted
// but never returned: a cleanup failure must not fail the request, and
// cleanup is not cancellable.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	for _, p := range paths {
		removeAsset(p)
	}
}

// Active returns how many paths the scope currently tracks.
func (s *Scope) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

func removeAsset(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("asset cleanup failed", "path", path, "error", err)
		metrics.CleanupFailures.Inc()
	}
}

// WithAsset downloads ref, invokes fn with the local path, and guarantees
// the path is removed after fn returns or panics.
func (m *Manager) WithAsset(ctx context.Context, ref bus.MediaRef, fn func(path string) error) error {
	scope := m.NewScope()
	defer scope.Close()

	path, err := scope.Acquire(ctx, ref)
	if err != nil {
		return err
	}
	return fn(path)
}
