package sim

import (
	"log/slog"
	"sync"

	"mesh-udp-sender/mesh"
	"mesh-udp-sender/message"
)

// Echo binds port on node and sends every datagram it receives back to
// its sender.
func Echo(node *Node, port uint16, logger *slog.Logger) (mesh.UDPSocket, error) {
	e := &echo{node: node, logger: logger}

	sock, err := node.Listen(port, e.receive)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.sock = sock
	e.mu.Unlock()

	return sock, nil
}

type echo struct {
	node   *Node
	logger *slog.Logger

	mu   sync.Mutex
	sock mesh.UDPSocket
}

func (e *echo) receive(payload []byte, peer mesh.SockAddr) {
	e.mu.Lock()
	sock := e.sock
	e.mu.Unlock()

	if sock == nil {
		return
	}

	buf, err := e.node.NewMessage(message.DefaultSettings())
	if err != nil {
		e.logger.Error("echo: allocating reply", "error", err)
		return
	}

	if err := buf.Append(payload); err != nil {
		e.logger.Error("echo: filling reply", "error", err)
		e.release(buf)
		return
	}

	if err := sock.Send(buf, peer); err != nil {
		e.logger.Error("echo: sending reply", "error", err, "peer", peer.String())
		e.release(buf)
	}
}

func (e *echo) release(buf *message.Buffer) {
	if err := buf.Release(); err != nil {
		e.logger.Error("echo: releasing reply", "error", err, "message", buf.ID().String())
	}
}
