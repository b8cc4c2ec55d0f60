// Package worker gives long-running loops a two-step shutdown contract:
// RequestStop flips the stop flag without blocking, AwaitTermination
// blocks until the loop has returned.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrAlreadyStarted = errors.New("worker already started")

type Worker struct {
	name     string
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool
}

func New(name string) *Worker {
	return &Worker{name: name, stop: make(chan struct{}), done: make(chan struct{})}
}

// Go runs fn on its own goroutine. fn must return once stop is closed.
func (w *Worker) Go(fn func(stop <-chan struct{})) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", w.name, ErrAlreadyStarted)
	}
	go func() {
		defer close(w.done)
		fn(w.stop)
	}()
	return nil
}

// RequestStop asks the loop to exit. Safe to call more than once.
func (w *Worker) RequestStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) StopRequested() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// AwaitTermination waits for the loop to return or ctx to expire.
// A worker that was never started terminates immediately.
func (w *Worker) AwaitTermination(ctx context.Context) error {
	if !w.started.Load() {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
