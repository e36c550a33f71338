// Package mesh defines what the sender needs from a low-power mesh network
// stack. Stack bring-up, addressing and key management happen elsewhere;
// implementations live in the sim and hostudp subpackages.
package mesh

import (
	"net"
	"strconv"

	"mesh-udp-sender/message"
	ipv6 "mesh-udp-sender/network/ip/v6"
)

// SockAddr is an IPv6 address and UDP port pair.
type SockAddr struct {
	Addr ipv6.Addr
	Port uint16
}

func (a SockAddr) String() string {
	return net.JoinHostPort(a.Addr.String(), strconv.Itoa(int(a.Port)))
}

// ReceiveFunc is invoked by the stack, on its own goroutine, for every
// datagram delivered to a socket. payload is only valid during the call.
type ReceiveFunc func(payload []byte, peer SockAddr)

// Instance is a running stack. It is borrowed, never owned, by its users.
type Instance interface {
	Role() Role
	// NewMessage allocates a transmit buffer from the stack's pool.
	NewMessage(settings message.Settings) (*message.Buffer, error)
	// OpenUDP binds a socket to an ephemeral port.
	OpenUDP(handler ReceiveFunc) (UDPSocket, error)
}

type UDPSocket interface {
	LocalPort() uint16
	// Send submits buf for transmission. On success the stack owns buf;
	// on failure the caller still does.
	Send(buf *message.Buffer, dst SockAddr) error
	Close() error
}

// InstanceProvider returns nil until the stack has been brought up.
type InstanceProvider interface {
	Instance() Instance
}

type ProviderFunc func() Instance

func (f ProviderFunc) Instance() Instance { return f() }

// Static returns a provider that is ready from the start.
func Static(inst Instance) InstanceProvider {
	return ProviderFunc(func() Instance { return inst })
}
