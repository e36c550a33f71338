//go:build unix

package hostudp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// control lets a restarted sender rebind while the old socket lingers.
func control(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
