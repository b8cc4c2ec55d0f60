package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisReadings) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisReadings(rdb)
}

func TestRedisReadingsSaveGet(t *testing.T) {
	ctx := context.Background()
	mr, c := newTestRedis(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := c.Save(ctx, Reading{Address: "AA:BB:CC:DD:EE:FF", Metric: "RSSI", Value: -100, At: at}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := c.Save(ctx, Reading{Address: "AA:BB:CC:DD:EE:FF", Metric: "RSSI", Value: -61, At: at.Add(time.Minute), Published: true}); err != nil {
		t.Fatalf("save: %v", err)
	}

	r, ok, err := c.Get(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil || !ok {
		t.Fatalf("expected reading, got ok=%v err=%v", ok, err)
	}
	if r.Value != -61 || !r.Published || !r.At.Equal(at.Add(time.Minute)) {
		t.Fatalf("expected latest reading, got %+v", r)
	}
	if ttl := mr.TTL("ble:reading:AA:BB:CC:DD:EE:FF"); ttl != readingTTL {
		t.Fatalf("expected ttl %v, got %v", readingTTL, ttl)
	}

	if _, ok, err := c.Get(ctx, "00:11:22:33:44:55"); err != nil || ok {
		t.Fatalf("expected unknown device to be absent, got ok=%v err=%v", ok, err)
	}
}

func TestRedisReadingsExpire(t *testing.T) {
	ctx := context.Background()
	mr, c := newTestRedis(t)
	if err := c.Save(ctx, Reading{Address: "AA:BB:CC:DD:EE:FF", Metric: "RSSI", Value: -70, At: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(readingTTL + time.Second)
	if _, ok, err := c.Get(ctx, "AA:BB:CC:DD:EE:FF"); err != nil || ok {
		t.Fatalf("expected reading to expire, got ok=%v err=%v", ok, err)
	}
}

func TestRedisReadingsListSorted(t *testing.T) {
	ctx := context.Background()
	mr, c := newTestRedis(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, addr := range []string{"CC:00:00:00:00:00", "AA:00:00:00:00:00", "BB:00:00:00:00:00"} {
		if err := c.Save(ctx, Reading{Address: addr, Metric: "RSSI", Value: -80, At: at}); err != nil {
			t.Fatalf("save %s: %v", addr, err)
		}
	}
	// keys outside the prefix belong to someone else
	if err := mr.Set("other:key", "x"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(got))
	}
	for i, want := range []string{"AA:00:00:00:00:00", "BB:00:00:00:00:00", "CC:00:00:00:00:00"} {
		if got[i].Address != want {
			t.Fatalf("expected %s at %d, got %s", want, i, got[i].Address)
		}
	}
}

func TestRedisReadingsRemoveAllExcept(t *testing.T) {
	ctx := context.Background()
	mr, c := newTestRedis(t)
	for _, addr := range []string{"AA:00:00:00:00:00", "BB:00:00:00:00:00", "CC:00:00:00:00:00"} {
		if err := c.Save(ctx, Reading{Address: addr, Metric: "RSSI", Value: -80, At: time.Now()}); err != nil {
			t.Fatalf("save %s: %v", addr, err)
		}
	}
	if err := mr.Set("other:key", "x"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	removed, err := c.RemoveAllExcept(ctx, []string{"BB:00:00:00:00:00"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %v", removed)
	}
	if !mr.Exists("ble:reading:BB:00:00:00:00:00") {
		t.Fatalf("expected kept device to survive")
	}
	if mr.Exists("ble:reading:AA:00:00:00:00:00") || mr.Exists("ble:reading:CC:00:00:00:00:00") {
		t.Fatalf("expected unconfigured devices to be removed")
	}
	if !mr.Exists("other:key") {
		t.Fatalf("expected foreign keys to be left alone")
	}
}
