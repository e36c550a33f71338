package sender

import (
	"time"

	"mesh-udp-sender/message"
	"mesh-udp-sender/readiness"
	"mesh-udp-sender/transport"

	"github.com/pkg/errors"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultPayload  = "Hello from esp_ot_udp_sender"
)

var ErrInvalidDestination = errors.New("invalid destination")

// DestinationError matches both ErrInvalidDestination and its cause
// with errors.Is.
type DestinationError struct {
	Err error
}

func (e *DestinationError) Error() string {
	return ErrInvalidDestination.Error() + ": " + e.Err.Error()
}

func (e *DestinationError) Unwrap() []error { return []error{ErrInvalidDestination, e.Err} }

// Destination is resolved once per cycle.
type Destination interface {
	Resolve() (transport.Endpoint, error)
}

// StaticDestination is validated once, up front, and never fails to resolve.
type StaticDestination transport.Endpoint

func (d StaticDestination) Resolve() (transport.Endpoint, error) {
	return transport.Endpoint(d), nil
}

func ParseDestination(addr string, port uint16) (StaticDestination, error) {
	ep, err := transport.ParseEndpoint(addr, port)
	if err != nil {
		return StaticDestination{}, &DestinationError{Err: err}
	}
	return StaticDestination(ep), nil
}

// DestinationFunc resolves the destination at send time, for destinations
// that can change while running. A failure to resolve stops the sender.
type DestinationFunc func() (transport.Endpoint, error)

func (f DestinationFunc) Resolve() (transport.Endpoint, error) { return f() }

// PayloadFunc builds the bytes sent in one cycle.
type PayloadFunc func() []byte

func FixedPayload(p []byte) PayloadFunc {
	return func() []byte { return p }
}

type Options struct {
	Interval  time.Duration
	Payload   PayloadFunc
	Readiness readiness.Options

	// Settings for every allocated buffer. Nil means link security on at
	// normal priority.
	Settings *message.Settings

	// OnReceive, if set, gets every inbound datagram after it is logged.
	OnReceive transport.ReceiveFunc
}

func DefaultOptions() Options {
	return Options{
		Interval:  DefaultInterval,
		Payload:   FixedPayload([]byte(DefaultPayload)),
		Readiness: readiness.DefaultOptions(),
	}
}
