package mqtt

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// ConnectErrorKind says why a broker connection could not be made.
// It only drives logging and metrics; every kind is handled the same way.
type ConnectErrorKind int

const (
	KindOther ConnectErrorKind = iota
	KindRefused
	KindNameResolution
)

func (k ConnectErrorKind) String() string {
	switch k {
	case KindRefused:
		return "refused"
	case KindNameResolution:
		return "name_resolution"
	default:
		return "other"
	}
}

type ConnectError struct {
	Host string
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	switch e.Kind {
	case KindRefused:
		return "connection refused by " + e.Host + ": " + e.Err.Error()
	case KindNameResolution:
		return "cannot resolve " + e.Host + ": " + e.Err.Error()
	default:
		return "connect to " + e.Host + ": " + e.Err.Error()
	}
}

func (e *ConnectError) Unwrap() error { return e.Err }

var brokerRefusals = []error{
	packets.ErrorRefusedBadProtocolVersion,
	packets.ErrorRefusedIDRejected,
	packets.ErrorRefusedServerUnavailable,
	packets.ErrorRefusedBadUsernameOrPassword,
	packets.ErrorRefusedNotAuthorised,
}

func classify(err error) ConnectErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNameResolution
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindRefused
	}
	for _, r := range brokerRefusals {
		if errors.Is(err, r) {
			return KindRefused
		}
	}
	// paho does not always wrap the dial error
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return KindRefused
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "server misbehaving"), strings.Contains(msg, "name resolution"):
		return KindNameResolution
	}
	return KindOther
}
