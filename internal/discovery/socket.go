package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// openSockets counts sockets opened by this package and not yet closed.
var openSockets atomic.Int64

// OpenSockets returns the number of discovery sockets currently open in the
// process. It is zero whenever no scan is running.
func OpenSockets() int64 {
	return openSockets.Load()
}

// socket is an interface-scoped UDP socket with SO_REUSEADDR and SO_BROADCAST set.
type socket struct {
	conn      *net.UDPConn
	closeOnce sync.Once
	closeErr  error
}

// listenUDP binds a broadcast-capable IPv4 UDP socket to laddr.
func listenUDP(ctx context.Context, laddr *net.UDPAddr) (*socket, error) {
	lc := net.ListenConfig{Control: setSocketOptions}

	pc, err := lc.ListenPacket(ctx, "udp4", laddr.String())
	if err != nil {
		return nil, err
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}

	openSockets.Add(1)
	return &socket{conn: conn}, nil
}

// localAddr returns the bound address, including an OS-assigned port.
func (s *socket) localAddr() *net.UDPAddr {
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// close is idempotent; only the first call closes the descriptor.
func (s *socket) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		openSockets.Add(-1)
	})
	return s.closeErr
}
