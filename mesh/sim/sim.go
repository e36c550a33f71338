// Package sim is an in-memory mesh stack. Nodes share a Network, bind UDP
// ports from their own port table and deliver datagrams on a per-node
// goroutine, so receive handlers run concurrently with senders the way
// they do on a real stack.
package sim

import (
	"log/slog"
	"sync"

	ipv6 "mesh-udp-sender/network/ip/v6"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var (
	ErrNodeExists      = errors.New("node address already in use")
	ErrNodeClosed      = errors.New("node is closed")
	ErrDetached        = errors.New("node is not attached")
	ErrPortUnavailable = errors.New("no port available")
	ErrSocketClosed    = errors.New("socket is closed")
)

type Network struct {
	mu    sync.RWMutex
	nodes map[ipv6.Addr]*Node

	clock  clock.Clock
	logger *slog.Logger
}

func NewNetwork(logger *slog.Logger, clock clock.Clock) *Network {
	return &Network{
		nodes:  make(map[ipv6.Addr]*Node),
		clock:  clock,
		logger: logger,
	}
}

// AddNode creates a node and starts its delivery goroutine. The node's
// instance stays unavailable until Start.
func (n *Network) AddNode(addr ipv6.Addr, opts NodeOptions) (*Node, error) {
	node, err := newNode(n, addr, opts)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if _, found := n.nodes[addr]; found {
		n.mu.Unlock()
		return nil, errors.Wrapf(ErrNodeExists, "%s", addr)
	}
	n.nodes[addr] = node
	n.mu.Unlock()

	node.wg.Add(1)
	go func() {
		defer node.wg.Done()
		node.run()
	}()

	return node, nil
}

func (n *Network) route(dst ipv6.Addr) (*Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[dst]
	return node, ok
}

func (n *Network) remove(node *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nodes[node.addr] == node {
		delete(n.nodes, node.addr)
	}
}

// Close closes every node.
func (n *Network) Close() error {
	n.mu.RLock()
	nodes := make([]*Node, 0, len(n.nodes))
	for _, node := range n.nodes {
		nodes = append(nodes, node)
	}
	n.mu.RUnlock()

	for _, node := range nodes {
		node.Close()
	}
	return nil
}
