package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mesh-udp-sender",
		Short: "Send a UDP datagram across an IPv6 mesh at a fixed interval",
		Long: `mesh-udp-sender waits for the mesh stack to come up and join the
network, then sends one datagram per interval to a fixed IPv6 destination
and logs whatever comes back on its socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())

	return root
}
