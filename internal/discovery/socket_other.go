//go:build !unix && !windows

package discovery

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"
)

// setSocketOptions fails on platforms without SO_REUSEADDR and SO_BROADCAST,
// so every interface reports why it was skipped.
func setSocketOptions(network, address string, c syscall.RawConn) error {
	return fmt.Errorf("SO_REUSEADDR and SO_BROADCAST on %s: %w", runtime.GOOS, errors.ErrUnsupported)
}
