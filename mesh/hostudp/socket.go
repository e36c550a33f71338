package hostudp

import (
	"log/slog"
	"net"
	"sync"

	"mesh-udp-sender/mesh"
	"mesh-udp-sender/message"
	ip6 "mesh-udp-sender/network/ip/v6"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv6"
)

type socket struct {
	conn net.PacketConn
	pc   *ipv6.PacketConn
	port uint16

	handler  mesh.ReceiveFunc
	hopLimit int
	readBuf  int
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func (s *socket) LocalPort() uint16 { return s.port }

// trafficClass maps message priority onto DSCP class selectors.
func trafficClass(p message.Priority) int {
	switch p {
	case message.PriorityLow:
		return 0x20 // CS1
	case message.PriorityHigh:
		return 0xa0 // CS5
	case message.PriorityNet:
		return 0xc0 // CS6
	}
	return 0
}

func (s *socket) Send(buf *message.Buffer, dst mesh.SockAddr) error {
	var cm *ipv6.ControlMessage
	if tc := trafficClass(buf.Settings().Priority); tc != 0 || s.hopLimit > 0 {
		cm = &ipv6.ControlMessage{TrafficClass: tc, HopLimit: s.hopLimit}
	}

	to := &net.UDPAddr{IP: net.IP(dst.Addr.Raw()), Port: int(dst.Port)}

	return buf.Handoff(func(data []byte) error {
		n, err := s.pc.WriteTo(data, cm, to)
		if err != nil {
			return errors.Wrapf(err, "writing to %s", dst)
		}
		if n != len(data) {
			return errors.Errorf("partial write: %d/%d bytes", n, len(data))
		}
		return nil
	})
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *socket) readLoop() {
	b := make([]byte, s.readBuf)
	for {
		n, cm, src, err := s.pc.ReadFrom(b)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("unexpected error when reading datagram", "error", err)
			}
			return
		}

		udpSrc, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		addr, ok := ip6.AddrFromSlice(udpSrc.IP.To16())
		if !ok {
			continue
		}
		if cm != nil {
			s.logger.Debug("datagram received", "bytes", n, "ifindex", cm.IfIndex)
		}

		s.handler(b[:n], mesh.SockAddr{Addr: addr, Port: uint16(udpSrc.Port)})
	}
}
