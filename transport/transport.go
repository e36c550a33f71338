// Package transport owns the sender's single UDP socket on a mesh stack.
package transport

import (
	"mesh-udp-sender/mesh"
	ipv6 "mesh-udp-sender/network/ip/v6"

	"github.com/pkg/errors"
)

var (
	ErrOpen            = errors.New("failed to open socket")
	ErrSend            = errors.New("failed to send datagram")
	ErrSocketClosed    = errors.New("socket is closed")
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Endpoint is a remote UDP destination.
type Endpoint = mesh.SockAddr

// ParseEndpoint validates a configured IPv6 literal and port.
func ParseEndpoint(addr string, port uint16) (Endpoint, error) {
	a, err := ipv6.ParseAddr(addr)
	if err != nil {
		return Endpoint{}, &OpError{Op: "parse", Kind: ErrInvalidEndpoint, Err: errors.Wrapf(err, "address %q", addr)}
	}
	if a.IsUnspecified() {
		return Endpoint{}, &OpError{Op: "parse", Kind: ErrInvalidEndpoint, Err: errors.New("unspecified address")}
	}
	if port == 0 {
		return Endpoint{}, &OpError{Op: "parse", Kind: ErrInvalidEndpoint, Err: errors.New("port must not be zero")}
	}

	return Endpoint{Addr: a, Port: port}, nil
}

// OpError reports a failed socket operation. It matches both its Kind
// sentinel and the underlying stack error with errors.Is.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() []error { return []error{e.Kind, e.Err} }
