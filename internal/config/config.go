// Package config loads and validates the bridge configuration file.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const (
	MinScanInterval      = 15
	DefaultScanInterval  = 60
	DefaultDiscoveryWait = 5
	DefaultRSSIOnMissing = -100
	DefaultQueueSize     = 256
	DefaultHTTPPort      = 8093
	DefaultMQTTHost      = "localhost"
	DefaultTopicPrefix   = "blemqtt"
)

//go:embed config.schema.json
var schemaJSON []byte

// ValidationError reports a configuration that must not be used.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid config: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

type Config struct {
	NodeName      string      `yaml:"nodename"`
	Adapter       string      `yaml:"adapter"`
	Devices       []string    `yaml:"devices"`
	ScanInterval  int         `yaml:"scan_interval"`
	RSSIOnMissing *int        `yaml:"rssi_value_on_missing"` // nil: absent devices are not reported
	DiscoveryWait int         `yaml:"discovery_wait"`
	StopDiscovery bool        `yaml:"stop_discovery"`
	QueueSize     int         `yaml:"queue_size"`
	LogLevel      string      `yaml:"log_level"`
	MQTT          MQTTConfig  `yaml:"mqtt"`
	HTTP          HTTPConfig  `yaml:"http"`
	Redis         RedisConfig `yaml:"redis"`
}

type MQTTConfig struct {
	Host           string `yaml:"host"`
	TopicPrefix    string `yaml:"topic_prefix"`
	ClientID       string `yaml:"client_id"`
	ConnectTimeout int    `yaml:"connect_timeout"`
	PublishTimeout int    `yaml:"publish_timeout"`
}

type HTTPConfig struct {
	Port int `yaml:"port"` // 0 disables the HTTP server
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

// Default returns a configuration with every optional key at its default.
func Default() *Config {
	sentinel := DefaultRSSIOnMissing
	return &Config{
		ScanInterval:  DefaultScanInterval,
		RSSIOnMissing: &sentinel,
		DiscoveryWait: DefaultDiscoveryWait,
		QueueSize:     DefaultQueueSize,
		LogLevel:      "info",
		MQTT: MQTTConfig{
			Host:           DefaultMQTTHost,
			TopicPrefix:    DefaultTopicPrefix,
			ConnectTimeout: 10,
			PublishTimeout: 5,
		},
		HTTP: HTTPConfig{Port: DefaultHTTPPort},
	}
}

// Load reads path, validates it against the embedded schema, applies
// environment overrides and normalises the result.
func Load(path string, logger *slog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("blemqtt config loaded", "path", path, "adapter", cfg.Adapter, "devices", len(cfg.Devices), "mqtt", cfg.MQTT.Host, "scan_interval", cfg.ScanInterval)
	return cfg, nil
}

// Parse is Load without the file read.
func Parse(data []byte, logger *slog.Logger) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ValidationError{Err: err}
	}
	cfg.applyEnv()
	if err := cfg.Normalize(logger); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.MQTT.Host = getEnv("MQTT_BROKER_URL", c.MQTT.Host)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if v := os.Getenv("BLE_ADAPTER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
}

// Normalize fills defaults, canonicalises addresses and clamps the scan
// interval. It rejects configurations the schema cannot catch.
func (c *Config) Normalize(logger *slog.Logger) error {
	if strings.TrimSpace(c.Adapter) == "" {
		return &ValidationError{Err: errors.New("adapter is required")}
	}
	seen := make(map[string]struct{}, len(c.Devices))
	for i, addr := range c.Devices {
		addr = strings.ToUpper(strings.TrimSpace(addr))
		if _, dup := seen[addr]; dup {
			return &ValidationError{Err: fmt.Errorf("device %s listed twice", addr)}
		}
		seen[addr] = struct{}{}
		c.Devices[i] = addr
	}
	if c.ScanInterval < MinScanInterval {
		if logger != nil {
			logger.Warn("scan interval must be at least 15s", "current", c.ScanInterval, "using", MinScanInterval)
		}
		c.ScanInterval = MinScanInterval
	}
	if c.DiscoveryWait < 0 {
		c.DiscoveryWait = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if strings.TrimSpace(c.MQTT.Host) == "" {
		c.MQTT.Host = DefaultMQTTHost
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if c.MQTT.ConnectTimeout <= 0 {
		c.MQTT.ConnectTimeout = 10
	}
	if c.MQTT.PublishTimeout <= 0 {
		c.MQTT.PublishTimeout = 5
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func (c *Config) ScanIntervalDuration() time.Duration {
	return time.Duration(c.ScanInterval) * time.Second
}

func (c *Config) DiscoveryWaitDuration() time.Duration {
	return time.Duration(c.DiscoveryWait) * time.Second
}

func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.MQTT.ConnectTimeout) * time.Second
}

func (c *Config) PublishTimeoutDuration() time.Duration {
	return time.Duration(c.MQTT.PublishTimeout) * time.Second
}

func validateSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &ValidationError{Err: err}
	}
	// Round-trip through JSON so the validator only sees JSON types.
	b, err := json.Marshal(raw)
	if err != nil {
		return &ValidationError{Err: err}
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return &ValidationError{Err: err}
	}
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("config.schema.json")
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
