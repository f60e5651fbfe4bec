package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/muurk/udpdiscovery/internal/logging"
)

const (
	// maxDatagramSize is the largest UDP payload over IPv4
	maxDatagramSize = 65535

	// receiverBacklog is how many datagrams may wait for the consumer
	receiverBacklog = 32
)

// Receiver owns one bound UDP socket and turns inbound datagrams into a
// channel of Datagram values.
//
// Run must be called exactly once, on its own goroutine. The loop ends when
// the socket is closed through Close (or cancellation of the context given
// to RunContext) or when the socket reports an unexpected error. Closing is
// the normal way to stop and is not reported as a failure.
type Receiver struct {
	logger *zap.Logger
	sock   *socket
	pc     *ipv4.PacketConn

	out     chan Datagram
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewReceiver binds a receive socket to laddr with address reuse and
// broadcast reception enabled. A failed bind returns a *ScanError of type
// ErrTypeBind.
func NewReceiver(ctx context.Context, laddr *net.UDPAddr, logger *zap.Logger) (*Receiver, error) {
	sock, err := listenUDP(ctx, laddr)
	if err != nil {
		return nil, newBindError(laddr, err)
	}

	logger.Debug("Receive socket bound", zap.Stringer("local_addr", sock.localAddr()))
	return newReceiver(sock, logger), nil
}

// newReceiver wraps an already bound socket. The Receiver takes ownership:
// closing it closes the socket.
func newReceiver(sock *socket, logger *zap.Logger) *Receiver {
	pc := ipv4.NewPacketConn(sock.conn)

	// Best effort: without control messages Destination and IfIndex stay empty
	if err := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		logger.Debug("IPv4 control messages unavailable", zap.Error(err))
	}

	return &Receiver{
		logger:  logger,
		sock:    sock,
		pc:      pc,
		out:     make(chan Datagram, receiverBacklog),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// LocalAddr returns the address the socket is bound to
func (r *Receiver) LocalAddr() *net.UDPAddr {
	return r.sock.localAddr()
}

// Datagrams returns the channel datagrams are delivered on, in arrival
// order. It is closed when the receive loop exits.
func (r *Receiver) Datagrams() <-chan Datagram {
	return r.out
}

// Done is closed once the receive loop has exited
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// RunContext runs the receive loop and closes the socket when ctx is done.
func (r *Receiver) RunContext(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		_ = r.Close()
	})
	defer stop()

	r.Run()
}

// Run blocks reading datagrams until the socket is closed or fails.
func (r *Receiver) Run() {
	defer close(r.done)
	defer close(r.out)

	local := r.LocalAddr()
	r.logger.Debug("Receive loop started", zap.Stringer("local_addr", local))
	defer r.logger.Debug("Receive loop stopped", zap.Stringer("local_addr", local))

	buf := make([]byte, maxDatagramSize)
	for {
		n, cm, src, err := r.pc.ReadFrom(buf)
		if err != nil {
			if r.isClosing() || errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Error("Receive loop failed",
				zap.Stringer("local_addr", local),
				zap.Error(newTransportError("receive", local, err)),
			)
			return
		}

		dg := Datagram{
			Payload:    append([]byte(nil), buf[:n]...),
			ReceivedAt: time.Now(),
		}
		if from, ok := src.(*net.UDPAddr); ok {
			dg.From = from
		}
		if cm != nil {
			dg.Destination = cm.Dst
			dg.IfIndex = cm.IfIndex
		}

		fields := append([]zap.Field{
			zap.Stringer("local_addr", local),
			zap.Stringer("from", src),
		}, logging.PayloadFields(dg.Payload)...)
		r.logger.Info("Datagram received", fields...)

		select {
		case r.out <- dg:
		case <-r.closing:
			return
		}
	}
}

// Close closes the socket, which unblocks and ends the receive loop. It is
// safe to call more than once and from any goroutine.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		close(r.closing)
		r.closeErr = r.sock.close()
	})
	return r.closeErr
}

func (r *Receiver) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}
