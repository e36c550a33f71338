// Package readiness blocks until a mesh stack is usable.
//
// Neither the stack bring-up nor the mesh join pushes notifications, so the
// gate polls: tightly while waiting for the instance to appear, more
// loosely while waiting for the node to attach.
package readiness

import (
	"context"
	"log/slog"
	"time"

	"mesh-udp-sender/mesh"

	"github.com/benbjohnson/clock"
)

const (
	DefaultInstanceInterval = 100 * time.Millisecond
	DefaultAttachInterval   = 500 * time.Millisecond
)

type Options struct {
	InstanceInterval time.Duration
	AttachInterval   time.Duration
}

func DefaultOptions() Options {
	return Options{
		InstanceInterval: DefaultInstanceInterval,
		AttachInterval:   DefaultAttachInterval,
	}
}

type Gate struct {
	clock  clock.Clock
	logger *slog.Logger
	opts   Options
}

func New(logger *slog.Logger, clock clock.Clock, opts Options) *Gate {
	if opts.InstanceInterval <= 0 {
		opts.InstanceInterval = DefaultInstanceInterval
	}
	if opts.AttachInterval <= 0 {
		opts.AttachInterval = DefaultAttachInterval
	}

	return &Gate{clock: clock, logger: logger, opts: opts}
}

// AwaitInstance returns once provider exposes an instance. It never gives
// up on its own; the only error is the context's.
func (g *Gate) AwaitInstance(ctx context.Context, provider mesh.InstanceProvider) (mesh.Instance, error) {
	for {
		if inst := provider.Instance(); inst != nil {
			g.logger.Info("got mesh instance")
			return inst, nil
		}

		if err := g.sleep(ctx, g.opts.InstanceInterval); err != nil {
			return nil, err
		}
		g.logger.Debug("waiting for mesh instance")
	}
}

// AwaitAttachment returns the first role that counts as attached.
func (g *Gate) AwaitAttachment(ctx context.Context, inst mesh.Instance) (mesh.Role, error) {
	last := inst.Role()
	for !last.Attached() {
		if err := g.sleep(ctx, g.opts.AttachInterval); err != nil {
			return last, err
		}
		g.logger.Debug("waiting to attach to mesh network", "role", last)

		role := inst.Role()
		if role != last {
			g.logger.Info("role changed", "from", last, "to", role)
		}
		last = role
	}

	g.logger.Info("attached to mesh network", "role", last)
	return last, nil
}

// Await runs both stages in order.
func (g *Gate) Await(ctx context.Context, provider mesh.InstanceProvider) (mesh.Instance, mesh.Role, error) {
	inst, err := g.AwaitInstance(ctx, provider)
	if err != nil {
		return nil, mesh.RoleDisabled, err
	}

	role, err := g.AwaitAttachment(ctx, inst)
	if err != nil {
		return nil, role, err
	}

	return inst, role, nil
}

func (g *Gate) sleep(ctx context.Context, d time.Duration) error {
	t := g.clock.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
