package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ldotlopez/blemqtt/internal/bluez"
	"github.com/ldotlopez/blemqtt/internal/config"
	"github.com/ldotlopez/blemqtt/internal/event"
	"github.com/ldotlopez/blemqtt/internal/httpapi"
	"github.com/ldotlopez/blemqtt/internal/mqtt"
	"github.com/ldotlopez/blemqtt/internal/observability"
	"github.com/ldotlopez/blemqtt/internal/publisher"
	"github.com/ldotlopez/blemqtt/internal/scanner"
	"github.com/ldotlopez/blemqtt/internal/store"
)

const serviceName = "blemqtt"

func main() {
	os.Exit(run())
}

type options struct {
	configPath  string
	printSample bool
}

func parseFlags(args []string, stderr io.Writer) (options, *flag.FlagSet, error) {
	var opts options
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	defaultConfig := os.Getenv("BLEMQTT_CONFIG")
	fs.StringVar(&opts.configPath, "config", defaultConfig, "path to the YAML config file")
	fs.StringVar(&opts.configPath, "c", defaultConfig, "shorthand for -config")
	fs.BoolVar(&opts.printSample, "print-config-sample", false, "print a sample config and exit")
	err := fs.Parse(args)
	return opts, fs, err
}

func run() int {
	opts, fs, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 255
	}

	if opts.printSample {
		fmt.Print(config.Sample)
		return 0
	}
	if opts.configPath == "" {
		fmt.Fprintln(os.Stderr, "blemqtt: a config file is required")
		fs.Usage()
		return 255
	}

	cfg, err := config.Load(opts.configPath, config.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "blemqtt: %v\n", err)
		return 1
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	tel, err := observability.Setup(context.Background(), serviceName, logger)
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	readings, closeReadings := openReadings(cfg, logger)
	defer closeReadings()

	adapter, err := bluez.Open(cfg.Adapter, logger)
	if err != nil {
		logger.Error("bluetooth init failed", "adapter", cfg.Adapter, "error", err)
		return 1
	}

	broker := mqtt.New(mqtt.Options{
		ClientID:       cfg.MQTT.ClientID,
		ConnectTimeout: cfg.ConnectTimeoutDuration(),
		PublishTimeout: cfg.PublishTimeoutDuration(),
	}, logger)
	defer broker.Disconnect()

	queue := event.NewQueue(cfg.QueueSize)

	sc := scanner.New(adapter, queue, scanner.Config{
		AdapterName:   cfg.Adapter,
		Devices:       cfg.Devices,
		Interval:      cfg.ScanIntervalDuration(),
		DiscoveryWait: cfg.DiscoveryWaitDuration(),
		Sentinel:      cfg.RSSIOnMissing,
		StopAfterScan: cfg.StopDiscovery,
		Tracer:        tel.Tracer,
		Timings:       tel.Timings,
	}, logger)

	pub := publisher.New(broker, queue, readings, publisher.Config{
		Host:        cfg.MQTT.Host,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		NodeName:    cfg.NodeName,
		Tracer:      tel.Tracer,
		Timings:     tel.Timings,
	}, logger)

	var srv *http.Server
	if cfg.HTTP.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", tel.Metrics)
		httpapi.NewServer(sc, readings, pub).Register(mux)
		srv = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
			Handler:           observability.WrapHandler(tel.Tracer, serviceName, mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pub.Start(); err != nil {
		logger.Error("publisher start failed", "error", err)
		return 1
	}
	if err := sc.Start(context.Background()); err != nil {
		logger.Error("scanner start failed", "error", err)
		return 1
	}
	logger.Info("blemqtt started", "adapter", cfg.Adapter, "devices", len(cfg.Devices), "broker", cfg.MQTT.Host, "http_port", cfg.HTTP.Port)

	<-ctx.Done()
	logger.Info("shutdown requested")

	sc.RequestStop()
	pub.RequestStop()

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sc.AwaitTermination(waitCtx); err != nil {
		logger.Warn("scanner did not stop in time", "error", err)
	}
	if err := pub.AwaitTermination(waitCtx); err != nil {
		logger.Warn("publisher did not stop in time", "error", err)
	}
	queue.Close()

	if srv != nil {
		if err := srv.Shutdown(waitCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
		}
	}
	logger.Info("blemqtt stopped")
	return 0
}

// openReadings prefers redis when configured and reachable and falls back
// to memory otherwise. Readings of devices no longer configured are pruned.
func openReadings(cfg *config.Config, logger *slog.Logger) (store.Readings, func()) {
	var readings store.Readings = store.NewMemoryReadings()
	closeFn := func() {}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, keeping readings in memory", "addr", cfg.Redis.Addr, "error", err)
			_ = rdb.Close()
		} else {
			readings = store.NewRedisReadings(rdb)
			closeFn = func() { _ = rdb.Close() }
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	removed, err := readings.RemoveAllExcept(ctx, cfg.Devices)
	if err != nil {
		logger.Warn("prune readings failed", "error", err)
	} else if len(removed) > 0 {
		logger.Info("pruned readings of unconfigured devices", "devices", removed)
	}
	return readings, closeFn
}
