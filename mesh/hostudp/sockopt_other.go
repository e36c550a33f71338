//go:build !unix

package hostudp

import "syscall"

func control(network, address string, c syscall.RawConn) error { return nil }
