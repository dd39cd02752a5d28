package storage

import (
	"context"
	"sync"
	"sync/atomic"
)

// LazyInit runs an initialization function once it succeeds.
// A failed attempt is retried by the next caller.
type LazyInit struct {
	mu   sync.Mutex
	done atomic.Bool
}

// Do calls fn unless a previous call already succeeded
func (l *LazyInit) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.done.Load() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done.Load() {
		return nil
	}
	if err := fn(ctx); err != nil {
		return err
	}
	l.done.Store(true)
	return nil
}

// Done reports whether initialization has completed
func (l *LazyInit) Done() bool {
	return l.done.Load()
}

// Close runs fn under the init lock if initialization completed.
// It waits for an initialization in progress, so fn sees the handle it created.
func (l *LazyInit) Close(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.done.Load() {
		return nil
	}
	return fn()
}
