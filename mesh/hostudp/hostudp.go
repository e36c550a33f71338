// Package hostudp runs the mesh contract on the host's own IPv6 UDP stack,
// for hosts that reach the mesh through a border router.
package hostudp

import (
	"context"
	"log/slog"
	"net"

	"mesh-udp-sender/mesh"
	"mesh-udp-sender/message"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv6"
)

type Options struct {
	// ListenAddr is where sockets are bound. The port is normally 0.
	ListenAddr string
	// HopLimit for outgoing datagrams. Zero keeps the system default.
	HopLimit int
	// ReadBufferSize bounds a single inbound datagram.
	ReadBufferSize int

	Pool message.PoolOptions

	// Addrs lists addresses of interfaces that are up and not loopback.
	Addrs func() ([]net.Addr, error)
}

func DefaultOptions() Options {
	return Options{
		ListenAddr:     "[::]:0",
		ReadBufferSize: 64 * 1024,
		Pool:           message.DefaultPoolOptions(),
		Addrs:          interfaceAddrs,
	}
}

type Stack struct {
	pool   *message.Pool
	opts   Options
	logger *slog.Logger
}

var (
	_ mesh.Instance         = (*Stack)(nil)
	_ mesh.InstanceProvider = (*Stack)(nil)
)

func New(logger *slog.Logger, opts Options) *Stack {
	if opts.Addrs == nil {
		opts.Addrs = interfaceAddrs
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 64 * 1024
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = "[::]:0"
	}

	return &Stack{
		pool:   message.NewPool(opts.Pool),
		opts:   opts,
		logger: logger,
	}
}

// Instance is always available; the host stack is up before we are.
func (s *Stack) Instance() mesh.Instance { return s }

func (s *Stack) Pool() *message.Pool { return s.pool }

// Role reports attached once some interface carries a routable IPv6
// address (global or unique local).
func (s *Stack) Role() mesh.Role {
	addrs, err := s.opts.Addrs()
	if err != nil {
		s.logger.Debug("listing interface addresses", "error", err)
		return mesh.RoleDetached
	}

	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if routable(ipnet.IP) {
			return mesh.RoleChild
		}
	}
	return mesh.RoleDetached
}

func routable(ip net.IP) bool {
	return ip.To4() == nil && ip.To16() != nil &&
		!ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsUnspecified()
}

func (s *Stack) NewMessage(settings message.Settings) (*message.Buffer, error) {
	return s.pool.Allocate(settings)
}

func (s *Stack) OpenUDP(handler mesh.ReceiveFunc) (mesh.UDPSocket, error) {
	lc := net.ListenConfig{Control: control}

	conn, err := lc.ListenPacket(context.Background(), "udp6", s.opts.ListenAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", s.opts.ListenAddr)
	}

	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv6.FlagInterface, true); err != nil {
		// Not supported everywhere. Inbound datagrams just lose the interface index.
		s.logger.Debug("interface control messages unavailable", "error", err)
	}

	sock := &socket{
		conn:     conn,
		pc:       pc,
		port:     uint16(conn.LocalAddr().(*net.UDPAddr).Port),
		handler:  handler,
		hopLimit: s.opts.HopLimit,
		readBuf:  s.opts.ReadBufferSize,
	}
	sock.logger = s.logger.With("port", sock.port)

	sock.wg.Add(1)
	go func() {
		defer sock.wg.Done()
		sock.readLoop()
	}()

	return sock, nil
}

func interfaceAddrs() ([]net.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "listing interfaces")
	}

	var out []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, addrs...)
	}

	return out, nil
}
