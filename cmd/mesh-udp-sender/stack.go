package main

import (
	"log/slog"
	"time"

	"mesh-udp-sender/config"
	"mesh-udp-sender/mesh"
	"mesh-udp-sender/mesh/hostudp"
	"mesh-udp-sender/mesh/sim"
	ipv6 "mesh-udp-sender/network/ip/v6"
	"mesh-udp-sender/sender"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// Bring-up of the simulated local node.
var (
	simLocalAddr   = ipv6.MustParseAddr("fdde:ad00:beef::1")
	simAltAddr     = ipv6.MustParseAddr("fdde:ad00:beef::3")
	simStartDelay  = 300 * time.Millisecond
	simAttachDelay = 2 * time.Second
)

func newStack(
	cfg *config.Config,
	dest sender.StaticDestination,
	logger *slog.Logger,
	clk clock.Clock,
) (mesh.InstanceProvider, func(), error) {
	if cfg.Stack == config.StackSim {
		return newSimStack(cfg, dest, logger, clk)
	}

	opts := hostudp.DefaultOptions()
	opts.Pool = cfg.PoolOptions()
	return hostudp.New(logger.With("stack", config.StackHost), opts), func() {}, nil
}

// newSimStack builds a two-node mesh: the local node comes up and attaches
// after a delay, and a peer at the destination echoes every datagram.
func newSimStack(
	cfg *config.Config,
	dest sender.StaticDestination,
	logger *slog.Logger,
	clk clock.Clock,
) (mesh.InstanceProvider, func(), error) {
	ep, err := dest.Resolve()
	if err != nil {
		return nil, nil, err
	}

	network := sim.NewNetwork(logger.With("stack", config.StackSim), clk)
	cleanup := func() { _ = network.Close() }

	localAddr := simLocalAddr
	if localAddr == ep.Addr {
		localAddr = simAltAddr
	}

	opts := sim.DefaultNodeOptions()
	opts.Pool = cfg.PoolOptions()
	local, err := network.AddNode(localAddr, opts)
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "adding local node")
	}

	peer, err := network.AddNode(ep.Addr, sim.DefaultNodeOptions())
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "adding peer node")
	}
	peer.Start()
	peer.SetRole(mesh.RoleRouter)

	if _, err := sim.Echo(peer, ep.Port, logger.With("peer", ep.Addr.String())); err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "starting echo peer")
	}

	local.StartAfter(simStartDelay)
	local.AttachAfter(simAttachDelay, mesh.RoleChild)

	return local, cleanup, nil
}
