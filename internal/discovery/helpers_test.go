package discovery

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/muurk/udpdiscovery/internal/netif"
)

// requireLoopbackAddr skips the test when ip cannot be bound (e.g. 127.0.0.2
// on macOS, where only 127.0.0.1 is configured by default).
func requireLoopbackAddr(t *testing.T, ip string) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(ip), Port: 0})
	if err != nil {
		t.Skipf("loopback address %s not available: %v", ip, err)
	}
	_ = conn.Close()
}

// freePort returns a UDP port that was unused on every address when checked.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_ = conn.Close()
	return port
}

// responder simulates a device: it answers every hello with a fixed reply.
type responder struct {
	addr   *net.UDPAddr
	hellos chan []byte
}

// startResponder binds ip:port and answers each hello with reply, sent to
// target(sender). A nil target answers the sender.
func startResponder(t *testing.T, ip string, port int, reply []byte, target func(src *net.UDPAddr) *net.UDPAddr) *responder {
	t.Helper()

	sock, err := listenUDP(context.Background(), &net.UDPAddr{IP: net.ParseIP(ip), Port: port})
	if err != nil {
		t.Fatalf("failed to start responder on %s:%d: %v", ip, port, err)
	}

	r := &responder{
		addr:   sock.localAddr(),
		hellos: make(chan []byte, 16),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 2048)
		for {
			n, src, err := sock.conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			select {
			case r.hellos <- append([]byte(nil), buf[:n]...):
			default:
			}

			dst := src
			if target != nil {
				dst = target(src)
			}
			_, _ = sock.conn.WriteToUDP(reply, dst)
		}
	}()

	t.Cleanup(func() {
		_ = sock.close()
		wg.Wait()
	})
	return r
}

// waitHello fails the test if the responder saw no hello within a second.
func (r *responder) waitHello(t *testing.T) []byte {
	t.Helper()
	select {
	case hello := <-r.hellos:
		return hello
	case <-time.After(time.Second):
		t.Fatal("responder received no hello")
		return nil
	}
}

// countingSource wraps a Source and counts calls.
type countingSource struct {
	netif.Source
	mu    sync.Mutex
	calls int
}

func (c *countingSource) NetworkInterfaces() ([]netif.Descriptor, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Source.NetworkInterfaces()
}

// listSource returns a fixed list of descriptors.
type listSource []netif.Descriptor

func (l listSource) NetworkInterfaces() ([]netif.Descriptor, error) {
	return l, nil
}

// observedLogger returns a logger that records entries for assertions.
func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// loopbackRequest builds a short request aimed at a loopback responder.
func loopbackRequest(port int, hello []byte, dst string) ScanRequest {
	req := NewScanRequest(port, hello)
	req.ReceiveTimeout = 300 * time.Millisecond
	req.Destination = net.ParseIP(dst)
	return req
}
