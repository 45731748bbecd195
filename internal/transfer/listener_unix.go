//go:build !windows

package transfer

import "syscall"

// controlReuseAddr sets SO_REUSEADDR on the listening socket before bind,
// used only when the caller requested a specific nonzero port.
func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
