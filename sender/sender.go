// Package sender sends one datagram per interval to a fixed destination
// once the mesh stack is ready.
//
// Every recoverable failure (no buffers, append rejected, send rejected) is
// logged and the next cycle starts on schedule. Run only returns when the
// socket cannot be opened, the destination cannot be resolved, or the
// context is done.
package sender

import (
	"context"
	"log/slog"
	"sync/atomic"

	"mesh-udp-sender/mesh"
	"mesh-udp-sender/message"
	"mesh-udp-sender/readiness"
	"mesh-udp-sender/transport"

	"github.com/benbjohnson/clock"
)

type Stats struct {
	Cycles       uint64
	Sent         uint64
	AllocFailed  uint64
	AppendFailed uint64
	SendFailed   uint64
}

type Sender struct {
	provider mesh.InstanceProvider
	dest     Destination
	gate     *readiness.Gate

	clock    clock.Clock
	logger   *slog.Logger
	opts     Options
	settings message.Settings

	cycles, sent                          atomic.Uint64
	allocFailed, appendFailed, sendFailed atomic.Uint64
}

func New(
	provider mesh.InstanceProvider,
	dest Destination,
	logger *slog.Logger,
	clock clock.Clock,
	opts Options,
) *Sender {
	if provider == nil || dest == nil {
		panic("sender: provider and destination must be provided")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Payload == nil {
		opts.Payload = FixedPayload([]byte(DefaultPayload))
	}
	settings := message.DefaultSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}

	return &Sender{
		provider: provider,
		dest:     dest,
		gate:     readiness.New(logger, clock, opts.Readiness),
		clock:    clock,
		logger:   logger,
		opts:     opts,
		settings: settings,
	}
}

func (s *Sender) Stats() Stats {
	return Stats{
		Cycles:       s.cycles.Load(),
		Sent:         s.sent.Load(),
		AllocFailed:  s.allocFailed.Load(),
		AppendFailed: s.appendFailed.Load(),
		SendFailed:   s.sendFailed.Load(),
	}
}

func (s *Sender) Run(ctx context.Context) error {
	inst, _, err := s.gate.Await(ctx, s.provider)
	if err != nil {
		return err
	}

	sock, err := transport.Open(inst, s.logger, s.opts.OnReceive)
	if err != nil {
		s.logger.Error("failed to open UDP socket", "error", err)
		return err
	}
	defer func() {
		if err := sock.Close(); err != nil {
			s.logger.Error("error when closing socket", "error", err)
		}
	}()
	s.logger.Info("UDP socket opened", "port", sock.LocalPort())

	// Cycle starts stay on the ticker's grid no matter how a cycle ends.
	ticker := s.clock.Ticker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if err := s.cycle(inst, sock); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycle returns an error only when the sender has to stop.
func (s *Sender) cycle(inst mesh.Instance, sock *transport.Socket) error {
	s.cycles.Add(1)
	payload := s.opts.Payload()

	buf, err := inst.NewMessage(s.settings)
	if err != nil {
		s.allocFailed.Add(1)
		s.logger.Error("failed to allocate message", "error", err)
		return nil
	}
	logger := s.logger.With("message", buf.ID().String())

	if err := buf.Append(payload); err != nil {
		s.appendFailed.Add(1)
		logger.Error("failed to append payload", "error", err, "bytes", len(payload))
		s.release(logger, buf)
		return nil
	}

	dst, err := s.dest.Resolve()
	if err != nil {
		logger.Error("invalid destination, stopping", "error", err)
		s.release(logger, buf)
		return &DestinationError{Err: err}
	}
	logger.Info("resolved destination", "addr", dst.Addr.String())

	logger.Info("sending UDP", "dst", dst.String(), "bytes", len(payload))
	if err := sock.Send(buf, dst); err != nil {
		s.sendFailed.Add(1)
		logger.Error("UDP send failed", "error", err)
		s.release(logger, buf)
		return nil
	}
	// buf belongs to the stack now.
	s.sent.Add(1)
	logger.Info("message enqueued for sending")

	return nil
}

func (s *Sender) release(logger *slog.Logger, buf *message.Buffer) {
	if err := buf.Release(); err != nil {
		logger.Error("failed to release message", "error", err)
	}
}
