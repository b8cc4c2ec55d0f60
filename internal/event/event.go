package event

import (
	"context"
	"errors"
	"time"
)

// MetricRSSI is the only metric produced by the scanner today.
const MetricRSSI = "RSSI"

// DefaultQueueSize is used when the configured size is not positive.
const DefaultQueueSize = 256

// ErrQueueClosed is returned by Put after Close.
var ErrQueueClosed = errors.New("event queue closed")

// ScanEvent is a single reading for one device taken during one sweep.
type ScanEvent struct {
	Address string
	Metric  string
	Value   int
	At      time.Time
}

// Queue is the FIFO hand-off between the scanner and the publisher.
// Put blocks while the queue is full, it never drops.
type Queue struct {
	ch     chan ScanEvent
	closed chan struct{}
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan ScanEvent, size), closed: make(chan struct{})}
}

// Put enqueues ev, waiting for room. It only gives up when ctx is done
// or the queue was closed.
func (q *Queue) Put(ctx context.Context, ev ScanEvent) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- ev:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop waits up to timeout for the next event. ok is false on timeout.
func (q *Queue) Pop(timeout time.Duration) (ScanEvent, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ev := <-q.ch:
		return ev, true
	case <-t.C:
		return ScanEvent{}, false
	}
}

// Len reports the number of buffered events.
func (q *Queue) Len() int { return len(q.ch) }

// Cap reports the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Close makes further Put calls fail. Buffered events can still be popped.
func (q *Queue) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}
