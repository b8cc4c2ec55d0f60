// Package mqtt wraps the paho client with the lazy connection model the
// publisher relies on: nothing reconnects in the background, the caller
// decides when to connect again.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

var ErrNotConnected = errors.New("mqtt: not connected")

type Options struct {
	ClientID       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

type Client struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	cli  paho.Client
	host string
}

func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = "blemqtt-" + uuid.NewString()[:8]
	}
	return &Client{opts: opts, logger: logger.With("component", "mqtt")}
}

func (c *Client) ClientID() string { return c.opts.ClientID }

// Connect opens a new session with host, replacing any previous one.
// Failures are returned as *ConnectError.
func (c *Client) Connect(host string) error {
	broker, err := ParseBroker(host)
	if err != nil {
		return &ConnectError{Host: host, Kind: KindOther, Err: err}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker.Server)
	opts.SetClientID(c.opts.ClientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(c.opts.ConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	if broker.Username != "" {
		opts.SetUsername(broker.Username)
		opts.SetPassword(broker.Password)
	}
	if broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.OnConnect = func(paho.Client) {
		c.logger.Info("mqtt connected", "broker", broker.Server)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.logger.Warn("mqtt connection lost", "broker", broker.Server, "error", err)
	}

	cli := paho.NewClient(opts)
	tok := cli.Connect()
	if !tok.WaitTimeout(c.opts.ConnectTimeout + time.Second) {
		cli.Disconnect(0)
		return &ConnectError{Host: host, Kind: KindOther, Err: fmt.Errorf("timed out after %s", c.opts.ConnectTimeout)}
	}
	if err := tok.Error(); err != nil {
		return &ConnectError{Host: host, Kind: classify(err), Err: err}
	}

	c.mu.Lock()
	old := c.cli
	c.cli = cli
	c.host = host
	c.mu.Unlock()
	if old != nil {
		old.Disconnect(250)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cli != nil && c.cli.IsConnected()
}

// Publish sends payload at QoS 0 without the retain flag.
func (c *Client) Publish(topic, payload string) error {
	c.mu.Lock()
	cli := c.cli
	c.mu.Unlock()
	if cli == nil || !cli.IsConnected() {
		return ErrNotConnected
	}
	tok := cli.Publish(topic, 0, false, payload)
	if !tok.WaitTimeout(c.opts.PublishTimeout) {
		return fmt.Errorf("publish %s: timed out after %s", topic, c.opts.PublishTimeout)
	}
	return tok.Error()
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	cli := c.cli
	c.cli = nil
	c.mu.Unlock()
	if cli != nil {
		cli.Disconnect(250)
	}
}
