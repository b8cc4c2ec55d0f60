// Package scanner owns the BLE sweep schedule. A single goroutine arms the
// discovery and sweep timers for each wall-clock slot, reads the RSSI of
// every configured device and hands one event per device to the queue.
package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ldotlopez/blemqtt/internal/bluez"
	"github.com/ldotlopez/blemqtt/internal/event"
	"github.com/ldotlopez/blemqtt/internal/observability"
	"github.com/ldotlopez/blemqtt/internal/worker"
)

const callTimeout = 5 * time.Second

// Adapter is the part of a Bluetooth controller the scanner needs.
// *bluez.Adapter satisfies it.
type Adapter interface {
	Discovering(ctx context.Context) (bool, error)
	StartDiscovery(ctx context.Context) error
	StopDiscovery(ctx context.Context) error
	DeviceProperty(ctx context.Context, address, name string) (any, bool)
}

type Config struct {
	AdapterName   string
	Devices       []string
	Interval      time.Duration
	DiscoveryWait time.Duration
	// SlotMargin is the minimum lead time before a slot is used.
	// Zero means DiscoveryWait plus one second.
	SlotMargin time.Duration
	// Sentinel is reported for devices that were not seen. Nil skips them.
	Sentinel      *int
	StopAfterScan bool
	Tracer        oteltrace.Tracer
	// Timings is optional.
	Timings *observability.Timings
}

// Status is a snapshot for the HTTP API.
type Status struct {
	Adapter     string    `json:"adapter"`
	Devices     []string  `json:"devices"`
	IntervalSec int       `json:"scan_interval_sec"`
	LastSweep   time.Time `json:"last_sweep"`
	NextScan    time.Time `json:"next_scan"`
	Sweeps      int       `json:"sweeps"`
}

type Scanner struct {
	adapter Adapter
	queue   *event.Queue
	cfg     Config
	logger  *slog.Logger
	tracer  oteltrace.Tracer
	worker  *worker.Worker
	now     func() time.Time

	mu        sync.RWMutex
	lastSweep time.Time
	nextScan  time.Time
	sweeps    int
}

func New(adapter Adapter, queue *event.Queue, cfg Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("blemqtt/scanner")
	}
	if cfg.DiscoveryWait < 0 {
		cfg.DiscoveryWait = 0
	}
	devices := make([]string, len(cfg.Devices))
	copy(devices, cfg.Devices)
	cfg.Devices = devices
	return &Scanner{
		adapter: adapter,
		queue:   queue,
		cfg:     cfg,
		logger:  logger.With("component", "scanner", "adapter", cfg.AdapterName),
		tracer:  cfg.Tracer,
		worker:  worker.New("scanner"),
		now:     time.Now,
	}
}

// Start launches the scheduling loop. ctx bounds adapter calls and the
// loop itself; RequestStop is the normal way to end it.
func (s *Scanner) Start(ctx context.Context) error {
	return s.worker.Go(func(stop <-chan struct{}) {
		s.run(ctx, stop)
	})
}

func (s *Scanner) RequestStop() { s.worker.RequestStop() }

func (s *Scanner) AwaitTermination(ctx context.Context) error {
	return s.worker.AwaitTermination(ctx)
}

func (s *Scanner) margin() time.Duration {
	if s.cfg.SlotMargin > 0 {
		return s.cfg.SlotMargin
	}
	return s.cfg.DiscoveryWait + time.Second
}

func (s *Scanner) run(parent context.Context, stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("scanner started", "devices", len(s.cfg.Devices), "interval", s.cfg.Interval, "discovery_wait", s.cfg.DiscoveryWait)
	defer s.logger.Info("scanner stopped")

	for {
		// Every pass is derived from the current time, so a missed slot
		// (suspend, slow adapter) is skipped rather than replayed.
		wait, slot := NextSlot(s.now(), s.cfg.Interval, s.margin())
		s.mu.Lock()
		s.nextScan = slot
		s.mu.Unlock()
		s.logger.Debug("next scan scheduled", "at", slot, "in", wait)

		discoveryTimer := time.NewTimer(clampDelay(wait - s.cfg.DiscoveryWait))
		slotTimer := time.NewTimer(wait)
		discoveryC := discoveryTimer.C

	arm:
		for {
			select {
			case <-ctx.Done():
				discoveryTimer.Stop()
				slotTimer.Stop()
				return
			case <-discoveryC:
				discoveryC = nil
				s.startIfIdle(ctx)
			case <-slotTimer.C:
				break arm
			}
		}
		discoveryTimer.Stop()
		s.sweep(ctx, slot)
	}
}

func (s *Scanner) sweep(ctx context.Context, slot time.Time) {
	ctx, span := s.tracer.Start(ctx, "ble.sweep", oteltrace.WithAttributes(
		attribute.String("ble.adapter", s.cfg.AdapterName),
		attribute.Int("ble.devices", len(s.cfg.Devices)),
	))
	defer span.End()
	start := time.Now()

	if err := s.EnsureDiscovery(ctx); err != nil {
		s.cfg.Timings.RecordSweep(ctx, time.Since(start), "interrupted")
		return
	}
	n := s.ScanDevices(ctx)
	span.SetAttributes(attribute.Int("ble.events", n))
	s.cfg.Timings.RecordSweep(ctx, time.Since(start), "ok")

	s.mu.Lock()
	s.lastSweep = slot
	s.sweeps++
	s.mu.Unlock()
	observability.ObserveSweep()
	observability.SetQueueDepth(s.queue.Len())
}

// startIfIdle starts discovery unless the adapter is already discovering.
// It reports whether this call started it.
func (s *Scanner) startIfIdle(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	on, err := s.adapter.Discovering(cctx)
	if err != nil {
		s.logger.Debug("read discovering failed", "error", err)
	}
	if on {
		return false
	}
	if err := s.adapter.StartDiscovery(cctx); err != nil {
		s.logger.Error("start discovery failed", "error", err)
		observability.ObserveDiscoveryError("start")
		return false
	}
	s.logger.Debug("discovery started")
	return true
}

// EnsureDiscovery makes sure the adapter is discovering. When it had to
// start discovery it waits DiscoveryWait so BlueZ can populate its device
// objects. Calling it while discovery is on does nothing. The only error
// returned is ctx's, when the wait was interrupted.
func (s *Scanner) EnsureDiscovery(ctx context.Context) error {
	if !s.startIfIdle(ctx) || s.cfg.DiscoveryWait <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.DiscoveryWait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScanDevices reads RSSI for every configured device, in configuration
// order, and enqueues one event per device. Devices BlueZ does not know
// about get the sentinel. It returns the number of events enqueued.
func (s *Scanner) ScanDevices(ctx context.Context) int {
	at := s.now()
	n := 0
	for _, addr := range s.cfg.Devices {
		value, seen := s.readRSSI(ctx, addr)
		if !seen {
			if s.cfg.Sentinel == nil {
				s.logger.Debug("device not seen, skipped", "device", addr)
				continue
			}
			value = *s.cfg.Sentinel
		}
		observability.ObserveReading(addr, seen, value)
		ev := event.ScanEvent{Address: addr, Metric: event.MetricRSSI, Value: value, At: at}
		if err := s.queue.Put(ctx, ev); err != nil {
			s.logger.Warn("enqueue failed, sweep aborted", "device", addr, "error", err)
			return n
		}
		s.logger.Debug("reading queued", "device", addr, "rssi", value, "seen", seen)
		n++
	}

	if s.cfg.StopAfterScan {
		s.stopIfDiscovering(ctx)
	}
	return n
}

func (s *Scanner) stopIfDiscovering(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	on, err := s.adapter.Discovering(cctx)
	if err != nil {
		s.logger.Debug("read discovering failed", "error", err)
		return
	}
	if !on {
		return
	}
	// Fails when another client owns the discovery session; harmless.
	if err := s.adapter.StopDiscovery(cctx); err != nil {
		s.logger.Error("stop discovery failed", "error", err)
		observability.ObserveDiscoveryError("stop")
	}
}

func (s *Scanner) readRSSI(ctx context.Context, addr string) (int, bool) {
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	raw, found := s.adapter.DeviceProperty(cctx, addr, bluez.PropertyRSSI)
	if !found {
		return 0, false
	}
	v, ok := bluez.IntValue(raw)
	if !ok {
		s.logger.Debug("unexpected RSSI value", "device", addr, "value", raw)
		return 0, false
	}
	return v, true
}

func (s *Scanner) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	devices := make([]string, len(s.cfg.Devices))
	copy(devices, s.cfg.Devices)
	return Status{
		Adapter:     s.cfg.AdapterName,
		Devices:     devices,
		IntervalSec: int(s.cfg.Interval / time.Second),
		LastSweep:   s.lastSweep,
		NextScan:    s.nextScan,
		Sweeps:      s.sweeps,
	}
}
