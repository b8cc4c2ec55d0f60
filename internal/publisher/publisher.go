// Package publisher drains the event queue into the MQTT broker.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ldotlopez/blemqtt/internal/event"
	"github.com/ldotlopez/blemqtt/internal/mqtt"
	"github.com/ldotlopez/blemqtt/internal/observability"
	"github.com/ldotlopez/blemqtt/internal/store"
	"github.com/ldotlopez/blemqtt/internal/worker"
)

const DefaultPollInterval = time.Second

// Broker is the message broker capability. *mqtt.Client satisfies it.
type Broker interface {
	Connect(host string) error
	IsConnected() bool
	Publish(topic, payload string) error
}

type Config struct {
	Host        string
	TopicPrefix string
	// NodeName adds a segment after the prefix when set.
	NodeName     string
	PollInterval time.Duration
	Tracer       oteltrace.Tracer
	// Timings is optional.
	Timings *observability.Timings
}

type Publisher struct {
	broker   Broker
	queue    *event.Queue
	readings store.Readings
	cfg      Config
	logger   *slog.Logger
	tracer   oteltrace.Tracer
	worker   *worker.Worker
}

// New builds a publisher. readings may be nil.
func New(broker Broker, queue *event.Queue, readings store.Readings, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("blemqtt/publisher")
	}
	return &Publisher{
		broker:   broker,
		queue:    queue,
		readings: readings,
		cfg:      cfg,
		logger:   logger.With("component", "publisher", "broker", cfg.Host),
		tracer:   cfg.Tracer,
		worker:   worker.New("publisher"),
	}
}

func (p *Publisher) Start() error { return p.worker.Go(p.run) }

func (p *Publisher) RequestStop() { p.worker.RequestStop() }

func (p *Publisher) AwaitTermination(ctx context.Context) error {
	return p.worker.AwaitTermination(ctx)
}

// Connected reports the broker state as last observed. It does not probe.
func (p *Publisher) Connected() bool { return p.broker.IsConnected() }

// run keeps draining while events arrive, so a stop request only takes
// effect once the queue has been idle for one poll interval.
func (p *Publisher) run(stop <-chan struct{}) {
	p.logger.Info("publisher started", "topic_prefix", p.topicBase())
	defer p.logger.Info("publisher stopped")
	for {
		ev, ok := p.queue.Pop(p.cfg.PollInterval)
		if !ok {
			select {
			case <-stop:
				return
			default:
				continue
			}
		}
		p.handle(ev)
	}
}

func (p *Publisher) topicBase() string {
	if p.cfg.NodeName != "" {
		return p.cfg.TopicPrefix + "/" + p.cfg.NodeName
	}
	return p.cfg.TopicPrefix
}

// Topic renders <prefix>[/<node>]/<address>/<metric>.
func (p *Publisher) Topic(ev event.ScanEvent) string {
	return strings.Join([]string{p.topicBase(), ev.Address, ev.Metric}, "/")
}

func (p *Publisher) handle(ev event.ScanEvent) {
	topic := p.Topic(ev)
	payload := strconv.Itoa(ev.Value)
	spanCtx, span := p.tracer.Start(context.Background(), "mqtt.publish", oteltrace.WithAttributes(
		attribute.String("mqtt.topic", topic),
		attribute.String("ble.device", ev.Address),
	))
	defer span.End()

	published := false
	start := time.Now()
	err := p.publish(spanCtx, topic, payload)
	result := "ok"
	var cerr *mqtt.ConnectError
	switch {
	case errors.As(err, &cerr):
		result = "dropped"
		p.logger.Error("mqtt connect failed, event dropped", "kind", cerr.Kind.String(), "topic", topic, "error", cerr.Err)
		observability.ObserveConnectFailure(cerr.Kind.String())
		span.SetStatus(codes.Error, "connect failed")
	case err != nil:
		result = "error"
		p.logger.Error("mqtt publish failed, event dropped", "topic", topic, "error", err)
		span.SetStatus(codes.Error, err.Error())
	default:
		published = true
		p.logger.Debug("published", "topic", topic, "payload", payload)
	}
	observability.ObservePublish(result)
	p.cfg.Timings.RecordPublish(spanCtx, time.Since(start), result)
	observability.SetQueueDepth(p.queue.Len())

	if p.readings == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r := store.Reading{Address: ev.Address, Metric: ev.Metric, Value: ev.Value, At: ev.At, Published: published}
	if err := p.readings.Save(ctx, r); err != nil {
		p.logger.Warn("save reading failed", "device", ev.Address, "error", err)
	}
}

// Publish sends payload to topic, connecting first when the broker is not
// connected. A failed connect is returned as *mqtt.ConnectError and nothing
// is published.
func (p *Publisher) Publish(topic, payload string) error {
	return p.publish(context.Background(), topic, payload)
}

func (p *Publisher) publish(ctx context.Context, topic, payload string) error {
	if !p.broker.IsConnected() {
		if err := p.connect(ctx); err != nil {
			return err
		}
	}
	return p.broker.Publish(topic, payload)
}

func (p *Publisher) connect(ctx context.Context) error {
	start := time.Now()
	err := p.broker.Connect(p.cfg.Host)
	if err == nil {
		p.cfg.Timings.RecordConnect(ctx, time.Since(start), "ok")
		return nil
	}
	var cerr *mqtt.ConnectError
	if !errors.As(err, &cerr) {
		cerr = &mqtt.ConnectError{Host: p.cfg.Host, Kind: mqtt.KindOther, Err: err}
	}
	p.cfg.Timings.RecordConnect(ctx, time.Since(start), cerr.Kind.String())
	return cerr
}
