//go:build windows

package discovery

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// setSocketOptions enables address reuse and broadcast before bind.
// Windows has no SO_REUSEPORT; SO_REUSEADDR alone allows the shared bind.
func setSocketOptions(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		h := windows.Handle(fd)
		if opErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); opErr != nil {
			return
		}
		opErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
