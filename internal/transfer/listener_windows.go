//go:build windows

package transfer

import "syscall"

// controlReuseAddr sets SO_REUSEADDR on Windows. Semantics differ from
// POSIX here: Windows permits rebinding an address still in TIME_WAIT, and
// in some configurations a second concurrent bind. A resulting collision
// surfaces as a transfer-level protocol error, not a silent success.
func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
