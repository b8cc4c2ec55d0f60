package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := NewQueue(8)
	in := []ScanEvent{
		{Address: "AA:AA:AA:AA:AA:AA", Metric: MetricRSSI, Value: -40},
		{Address: "BB:BB:BB:BB:BB:BB", Metric: MetricRSSI, Value: -50},
		{Address: "CC:CC:CC:CC:CC:CC", Metric: MetricRSSI, Value: -100},
	}
	for _, ev := range in {
		if err := q.Put(context.Background(), ev); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	for i, want := range in {
		got, ok := q.Pop(10 * time.Millisecond)
		if !ok {
			t.Fatalf("pop %d: timed out", i)
		}
		if got != want {
			t.Fatalf("pop %d: expected %+v, got %+v", i, want, got)
		}
	}
}

func TestQueuePopTimesOut(t *testing.T) {
	q := NewQueue(1)
	start := time.Now()
	if _, ok := q.Pop(20 * time.Millisecond); ok {
		t.Fatalf("expected timeout on empty queue")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("pop returned too early: %s", elapsed)
	}
}

func TestQueuePutBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	if err := q.Put(context.Background(), ScanEvent{Value: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Put(ctx, ScanEvent{Value: 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded on full queue, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Put(context.Background(), ScanEvent{Value: 3}) }()
	if ev, ok := q.Pop(time.Second); !ok || ev.Value != 1 {
		t.Fatalf("expected first event, got %+v ok=%v", ev, ok)
	}
	if err := <-done; err != nil {
		t.Fatalf("blocked put failed: %v", err)
	}
	if ev, ok := q.Pop(time.Second); !ok || ev.Value != 3 {
		t.Fatalf("expected unblocked event, got %+v ok=%v", ev, ok)
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue(4)
	const producers, perProducer = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Put(context.Background(), ScanEvent{Value: p*1000 + i})
			}
		}(p)
	}

	last := map[int]int{}
	for n := 0; n < producers*perProducer; n++ {
		ev, ok := q.Pop(time.Second)
		if !ok {
			t.Fatalf("timed out after %d events", n)
		}
		p, i := ev.Value/1000, ev.Value%1000
		if prev, seen := last[p]; seen && i <= prev {
			t.Fatalf("producer %d out of order: %d after %d", p, i, prev)
		}
		last[p] = i
	}
	wg.Wait()
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(2)
	_ = q.Put(context.Background(), ScanEvent{Value: 7})
	q.Close()
	q.Close()
	if err := q.Put(context.Background(), ScanEvent{Value: 8}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if ev, ok := q.Pop(10 * time.Millisecond); !ok || ev.Value != 7 {
		t.Fatalf("buffered event lost after close: %+v ok=%v", ev, ok)
	}
}

func TestNewQueueDefaultSize(t *testing.T) {
	if got := NewQueue(0).Cap(); got != DefaultQueueSize {
		t.Fatalf("expected default capacity %d, got %d", DefaultQueueSize, got)
	}
}
