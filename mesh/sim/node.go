package sim

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"mesh-udp-sender/mesh"
	"mesh-udp-sender/message"
	ipv6 "mesh-udp-sender/network/ip/v6"

	"github.com/pkg/errors"
)

type NodeOptions struct {
	Pool  message.PoolOptions
	Ports PortOptions

	// InboxLen bounds datagrams waiting for delivery. Overflow is dropped.
	InboxLen uint
	// RequireLinkSecurity drops inbound datagrams sent without link security.
	RequireLinkSecurity bool
}

func DefaultNodeOptions() NodeOptions {
	return NodeOptions{
		Pool:     message.DefaultPoolOptions(),
		Ports:    DefaultPortOptions(),
		InboxLen: 64,
	}
}

// SendFault lets tests reject sends at the stack level.
type SendFault func(dst mesh.SockAddr) error

type datagram struct {
	src     mesh.SockAddr
	dstPort uint16
	secure  bool
	payload []byte
}

type Node struct {
	network *Network
	addr    ipv6.Addr
	pool    *message.Pool
	ports   *portTable
	opts    NodeOptions
	logger  *slog.Logger

	mu      sync.Mutex
	up      bool
	role    mesh.Role
	sockets map[uint16]*socket
	fault   SendFault

	inbox     chan datagram
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var (
	_ mesh.Instance         = (*Node)(nil)
	_ mesh.InstanceProvider = (*Node)(nil)
)

func newNode(network *Network, addr ipv6.Addr, opts NodeOptions) (*Node, error) {
	ports, err := newPortTable(opts.Ports)
	if err != nil {
		return nil, errors.Wrap(err, "invalid port options")
	}

	return &Node{
		network: network,
		addr:    addr,
		pool:    message.NewPool(opts.Pool),
		ports:   ports,
		opts:    opts,
		logger:  network.logger.With("node", addr.String()),
		role:    mesh.RoleDisabled,
		sockets: make(map[uint16]*socket),
		inbox:   make(chan datagram, opts.InboxLen),
		quit:    make(chan struct{}),
	}, nil
}

func (n *Node) Addr() ipv6.Addr { return n.addr }

func (n *Node) Pool() *message.Pool { return n.pool }

// Instance returns nil until the node has been started.
func (n *Node) Instance() mesh.Instance {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.up {
		return nil
	}
	return n
}

// Start makes the instance available. The role is left untouched.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.up {
		return
	}
	n.up = true
	if n.role == mesh.RoleDisabled {
		n.role = mesh.RoleDetached
	}
	n.logger.Info("instance started", "role", n.role)
}

// StartAfter starts the node after d on the network clock.
func (n *Node) StartAfter(d time.Duration) {
	n.network.clock.AfterFunc(d, n.Start)
}

func (n *Node) Role() mesh.Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

func (n *Node) SetRole(role mesh.Role) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != role {
		n.logger.Info("role changed", "from", n.role, "to", role)
	}
	n.role = role
}

// AttachAfter moves the node to role after d on the network clock.
func (n *Node) AttachAfter(d time.Duration, role mesh.Role) {
	n.network.clock.AfterFunc(d, func() { n.SetRole(role) })
}

func (n *Node) SetSendFault(fault SendFault) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fault = fault
}

func (n *Node) NewMessage(settings message.Settings) (*message.Buffer, error) {
	return n.pool.Allocate(settings)
}

func (n *Node) OpenUDP(handler mesh.ReceiveFunc) (mesh.UDPSocket, error) {
	return n.Listen(0, handler)
}

// Listen binds port, or an ephemeral port if it is zero.
func (n *Node) Listen(port uint16, handler mesh.ReceiveFunc) (mesh.UDPSocket, error) {
	if n.isClosed() {
		return nil, ErrNodeClosed
	}

	bound, release, ok := n.ports.occupy(port)
	if !ok {
		return nil, errors.Wrapf(ErrPortUnavailable, "binding port %d", port)
	}

	s := &socket{node: n, port: bound, handler: handler, release: release}

	n.mu.Lock()
	n.sockets[bound] = s
	n.mu.Unlock()

	n.logger.Debug("socket bound", "port", bound)

	return s, nil
}

// Close stops delivery and detaches the node from the network.
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		n.network.remove(n)
		close(n.quit)
	})
	n.wg.Wait()
}

func (n *Node) isClosed() bool {
	select {
	case <-n.quit:
		return true
	default:
		return false
	}
}

func (n *Node) send(s *socket, buf *message.Buffer, dst mesh.SockAddr) error {
	if n.isClosed() {
		return ErrNodeClosed
	}

	n.mu.Lock()
	bound := n.sockets[s.port] == s
	role := n.role
	fault := n.fault
	n.mu.Unlock()

	if !bound {
		return ErrSocketClosed
	}
	if !role.Attached() {
		return errors.Wrapf(ErrDetached, "role %s", role)
	}
	if fault != nil {
		if err := fault(dst); err != nil {
			return err
		}
	}

	secure := buf.Settings().LinkSecurity
	return buf.Handoff(func(data []byte) error {
		peer, ok := n.network.route(dst.Addr)
		if !ok {
			// Fire-and-forget: an unreachable destination is not a send error.
			n.logger.Debug("no route to destination, dropping", "dst", dst)
			return nil
		}

		peer.enqueue(datagram{
			src:     mesh.SockAddr{Addr: n.addr, Port: s.port},
			dstPort: dst.Port,
			secure:  secure,
			payload: bytes.Clone(data),
		})
		return nil
	})
}

func (n *Node) enqueue(d datagram) {
	select {
	case n.inbox <- d:
	case <-n.quit:
	default:
		n.logger.Debug("inbox full, dropping datagram", "src", d.src)
	}
}

func (n *Node) run() {
	for {
		select {
		case <-n.quit:
			return
		case d := <-n.inbox:
			n.dispatch(d)
		}
	}
}

func (n *Node) dispatch(d datagram) {
	if n.opts.RequireLinkSecurity && !d.secure {
		n.logger.Debug("dropping datagram without link security", "src", d.src)
		return
	}

	n.mu.Lock()
	s, ok := n.sockets[d.dstPort]
	n.mu.Unlock()

	if !ok {
		n.logger.Debug("no socket on port, dropping", "port", d.dstPort, "src", d.src)
		return
	}

	s.handler(d.payload, d.src)
}

type socket struct {
	node    *Node
	port    uint16
	handler mesh.ReceiveFunc
	release func()
}

func (s *socket) LocalPort() uint16 { return s.port }

func (s *socket) Send(buf *message.Buffer, dst mesh.SockAddr) error {
	return s.node.send(s, buf, dst)
}

func (s *socket) Close() error {
	n := s.node

	n.mu.Lock()
	if n.sockets[s.port] != s {
		n.mu.Unlock()
		return ErrSocketClosed
	}
	delete(n.sockets, s.port)
	n.mu.Unlock()

	s.release()
	n.logger.Debug("socket closed", "port", s.port)

	return nil
}
