package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"mesh-udp-sender/mesh"
	"mesh-udp-sender/message"
)

type State uint8

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// ReceiveFunc forwards inbound datagrams after they have been logged.
// It runs on the stack's goroutine.
type ReceiveFunc func(d Datagram)

type Socket struct {
	udp mesh.UDPSocket

	mu    sync.Mutex
	state State

	forward ReceiveFunc
	logger  *slog.Logger
}

// Open binds a socket on inst and registers the receive path. A failed
// open is terminal: there is no socket to retry with.
func Open(inst mesh.Instance, logger *slog.Logger, forward ReceiveFunc) (*Socket, error) {
	s := &Socket{
		forward: forward,
		logger:  logger,
	}

	udp, err := inst.OpenUDP(s.deliver)
	if err != nil {
		return nil, &OpError{Op: "open", Kind: ErrOpen, Err: err}
	}

	s.udp = udp
	s.state = StateOpen

	return s, nil
}

func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) LocalPort() uint16 { return s.udp.LocalPort() }

// Send submits buf to dst. On success buf belongs to the stack and must not
// be touched again. On failure the caller still owns buf and must release it.
func (s *Socket) Send(buf *message.Buffer, dst Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return &OpError{Op: "send", Kind: ErrSend, Err: ErrSocketClosed}
	}

	if err := s.udp.Send(buf, dst); err != nil {
		return &OpError{Op: "send", Kind: ErrSend, Err: err}
	}

	return nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return nil
	}
	s.state = StateClosed

	return s.udp.Close()
}

// deliver is the stack-facing receive callback. It shares nothing with
// the sending side except the logger.
func (s *Socket) deliver(payload []byte, peer mesh.SockAddr) {
	d := Decode(payload)
	if d.Empty {
		s.logger.Info("UDP recv but no payload", "peer", peer.Addr.String(), "port", peer.Port)
	} else {
		s.logger.Info("UDP recv",
			"bytes", d.Len,
			"total", d.Total,
			"truncated", d.Truncated,
			"peer", peer.Addr.String(),
			"peer_tail", fmt.Sprintf("%x", peer.Addr.Group(7)),
			"port", peer.Port,
			"payload", d.Text,
		)
	}

	if s.forward != nil {
		s.forward(Datagram{Payload: payload, Peer: peer})
	}
}
