// ABOUTME: Lazily initialized, shared handle to the SQLite store
// ABOUTME: The first Get opens and migrates the database; later calls reuse it

package store

import (
	"context"
	"sync"
)

// Handle owns the single store of a process. Construct it once at startup and
// pass it to every component that needs storage. Get is safe for concurrent use.
type Handle struct {
	opts Options

	mu    sync.Mutex
	store *SQLiteStore
}

// NewHandle returns a handle that opens the store described by opts on first use.
func NewHandle(opts Options) *Handle {
	return &Handle{opts: opts}
}

// Get returns the store, opening it on the first call. Concurrent first
// callers wait for the one initialization. A failed open is not remembered,
// so the next call tries again.
func (h *Handle) Get(ctx context.Context) (*SQLiteStore, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store != nil {
		return h.store, nil
	}

	s, err := Open(ctx, h.opts)
	if err != nil {
		return nil, err
	}
	h.store = s
	return s, nil
}

// Close closes the store if it was opened. The handle can be reused afterwards.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store == nil {
		return nil
	}
	err := h.store.Close()
	h.store = nil
	return err
}
