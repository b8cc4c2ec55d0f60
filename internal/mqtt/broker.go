package mqtt

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	defaultPort    = "1883"
	defaultTLSPort = "8883"
)

// Broker is a parsed broker address ready for paho.
type Broker struct {
	Server   string
	Username string
	Password string
	TLS      bool
}

// ParseBroker accepts a bare host ("mqtt.local"), host:port, or a URL with
// one of the mqtt, tcp, ssl, tls, mqtts, ws or wss schemes. Credentials
// may be given as URL userinfo.
func ParseBroker(host string) (Broker, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Broker{}, fmt.Errorf("empty broker host")
	}
	if !strings.Contains(host, "://") {
		return Broker{Server: "tcp://" + withPort(host, defaultPort)}, nil
	}
	u, err := url.Parse(host)
	if err != nil {
		return Broker{}, fmt.Errorf("parse broker url %q: %w", host, err)
	}
	if u.Host == "" {
		return Broker{}, fmt.Errorf("broker url %q has no host", host)
	}
	var b Broker
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp":
		b.Server = "tcp://" + withPort(u.Host, defaultPort)
	case "ssl", "tls", "mqtts":
		b.Server = "ssl://" + withPort(u.Host, defaultTLSPort)
		b.TLS = true
	case "ws", "wss":
		b.Server = strings.ToLower(u.Scheme) + "://" + u.Host + u.Path
		b.TLS = strings.EqualFold(u.Scheme, "wss")
	default:
		return Broker{}, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if u.User != nil {
		b.Username = u.User.Username()
		b.Password, _ = u.User.Password()
	}
	return b, nil
}

func withPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), port)
}
