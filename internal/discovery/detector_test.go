package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/udpdiscovery/internal/netif"
)

func TestNew_PanicsOnNilSource(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New() did not panic")
		}
	}()
	New(nil, zap.NewNop())
}

func TestNew_NilLoggerIsSilent(t *testing.T) {
	resp := startResponder(t, "127.0.0.1", 0, []byte("reply"), nil)
	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), nil)

	pkgs, err := d.DeviceInfoPackages(context.Background(), loopbackRequest(resp.addr.Port, []byte("hello"), "127.0.0.1"))
	if err != nil {
		t.Fatalf("DeviceInfoPackages() error = %v", err)
	}
	if len(pkgs) == 0 {
		t.Error("no reply received with a nil logger")
	}
}

func TestDetector_ConfigurationErrorsOpenNoSockets(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ScanRequest)
		wantErr error
	}{
		{"empty payload", func(r *ScanRequest) { r.HelloPayload = []byte{} }, ErrEmptyPayload},
		{"unsupported response port", func(r *ScanRequest) { r.ResponsePort = ResponsePort(7) }, ErrUnsupportedResponsePort},
		{"zero timeout", func(r *ScanRequest) { r.ReceiveTimeout = 0 }, ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &countingSource{Source: netif.NewStatic("127.0.0.1", "255.0.0.0")}
			d := New(src, zap.NewNop())
			before := OpenSockets()

			req := loopbackRequest(freePort(t), []byte("hello"), "127.0.0.1")
			tt.modify(&req)

			pkgs, err := d.DeviceInfoPackages(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DeviceInfoPackages() error = %v, want %v", err, tt.wantErr)
			}
			if pkgs != nil {
				t.Errorf("packages = %v, want nil on error", pkgs)
			}

			if err := d.Scan(context.Background(), req); !IsConfigurationError(err) {
				t.Errorf("Scan() error = %v, want configuration error", err)
			}
			if _, err := d.Start(context.Background(), req); !IsConfigurationError(err) {
				t.Errorf("Start() error = %v, want configuration error", err)
			}

			if src.calls != 0 {
				t.Errorf("interface source called %d times", src.calls)
			}
			if OpenSockets() != before {
				t.Errorf("OpenSockets() = %d, want %d", OpenSockets(), before)
			}
		})
	}
}

type failingSource struct{}

func (failingSource) NetworkInterfaces() ([]netif.Descriptor, error) {
	return nil, errors.New("enumeration failed")
}

func TestDetector_SourceError(t *testing.T) {
	d := New(failingSource{}, zap.NewNop())

	_, err := d.DeviceInfoPackages(context.Background(), loopbackRequest(12000, []byte("x"), "127.0.0.1"))

	var scanErr *ScanError
	if !errors.As(err, &scanErr) || scanErr.Type != ErrTypeSource {
		t.Fatalf("error = %v, want source error", err)
	}
}

func TestDetector_NoInterfacesIsIdempotent(t *testing.T) {
	d := New(listSource{}, zap.NewNop())
	req := loopbackRequest(12000, []byte("x"), "127.0.0.1")

	for i := 0; i < 2; i++ {
		pkgs, err := d.DeviceInfoPackages(context.Background(), req)
		if err != nil {
			t.Fatalf("run %d: error = %v", i, err)
		}
		if pkgs == nil || len(pkgs) != 0 {
			t.Fatalf("run %d: packages = %v, want empty non-nil slice", i, pkgs)
		}
	}
}

func TestDetector_SilentNetworkReturnsEmpty(t *testing.T) {
	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())
	before := OpenSockets()

	// nothing listens on the destination port
	req := loopbackRequest(freePort(t), []byte("hello"), "127.0.0.1")
	req.ReceiveTimeout = 200 * time.Millisecond

	for i := 0; i < 2; i++ {
		start := time.Now()
		pkgs, err := d.DeviceInfoPackages(context.Background(), req)
		elapsed := time.Since(start)

		if err != nil {
			t.Fatalf("run %d: error = %v", i, err)
		}
		if len(pkgs) != 0 {
			t.Errorf("run %d: got %d packages, want 0", i, len(pkgs))
		}
		if elapsed < req.ReceiveTimeout {
			t.Errorf("run %d: returned after %v, before the %v timeout", i, elapsed, req.ReceiveTimeout)
		}
		if elapsed > req.ReceiveTimeout+2*time.Second {
			t.Errorf("run %d: took %v", i, elapsed)
		}
		if OpenSockets() != before {
			t.Errorf("run %d: OpenSockets() = %d, want %d", i, OpenSockets(), before)
		}
	}
}

func TestDetector_SendPortReply(t *testing.T) {
	reply := []byte("device-42")
	hello := []byte{0x02, 0x35, 0x38, 0x2E, 0x30, 0x03, 0x10}
	resp := startResponder(t, "127.0.0.1", 0, reply, nil)

	iface := netif.Descriptor{IPAddress: "127.0.0.1", SubnetMask: "255.0.0.0"}
	d := New(listSource{iface}, zap.NewNop())
	before := OpenSockets()

	pkgs, err := d.DeviceInfoPackages(context.Background(), loopbackRequest(resp.addr.Port, hello, "127.0.0.1"))
	if err != nil {
		t.Fatalf("DeviceInfoPackages() error = %v", err)
	}

	if got := resp.waitHello(t); !bytes.Equal(got, hello) {
		t.Errorf("responder got hello % x, want % x", got, hello)
	}
	if len(pkgs) == 0 {
		t.Fatal("no reply received on the send port")
	}
	for _, pkg := range pkgs {
		if !bytes.Equal(pkg.ReceivedData, reply) {
			t.Errorf("ReceivedData = %q, want %q", pkg.ReceivedData, reply)
		}
		if pkg.DeviceIPAddress != "127.0.0.1" || pkg.DevicePort != resp.addr.Port {
			t.Errorf("device = %s, want 127.0.0.1:%d", pkg.Address(), resp.addr.Port)
		}
		if pkg.Interface != iface {
			t.Errorf("Interface = %v, want %v", pkg.Interface, iface)
		}
		if pkg.ScanID == "" {
			t.Error("ScanID empty")
		}
	}
	if OpenSockets() != before {
		t.Errorf("OpenSockets() = %d after scan, want %d", OpenSockets(), before)
	}
}

func TestDetector_SendPortIgnoresOtherPorts(t *testing.T) {
	elsewhere := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: freePort(t)}
	resp := startResponder(t, "127.0.0.1", 0, []byte("reply"), func(*net.UDPAddr) *net.UDPAddr {
		return elsewhere
	})

	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())
	pkgs, err := d.DeviceInfoPackages(context.Background(), loopbackRequest(resp.addr.Port, []byte("hello"), "127.0.0.1"))
	if err != nil {
		t.Fatalf("DeviceInfoPackages() error = %v", err)
	}

	resp.waitHello(t)
	if len(pkgs) != 0 {
		t.Errorf("got %d packages for a reply to another port", len(pkgs))
	}
}

func TestDetector_ListeningPortReply(t *testing.T) {
	requireLoopbackAddr(t, "127.0.0.2")

	port := freePort(t)
	reply := []byte("$BRD,OK#")
	resp := startResponder(t, "127.0.0.2", port, reply, func(src *net.UDPAddr) *net.UDPAddr {
		return &net.UDPAddr{IP: src.IP, Port: port}
	})

	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())
	req := loopbackRequest(port, []byte("$BRD,#"), "127.0.0.2")
	req.ResponsePort = ListeningPort

	pkgs, err := d.DeviceInfoPackages(context.Background(), req)
	if err != nil {
		t.Fatalf("DeviceInfoPackages() error = %v", err)
	}

	resp.waitHello(t)
	if len(pkgs) != 1 {
		t.Fatalf("got %d packages, want 1", len(pkgs))
	}
	pkg := pkgs[0]
	if !bytes.Equal(pkg.ReceivedData, reply) {
		t.Errorf("ReceivedData = %q, want %q", pkg.ReceivedData, reply)
	}
	if pkg.DeviceIPAddress != "127.0.0.2" || pkg.DevicePort != port {
		t.Errorf("device = %s, want 127.0.0.2:%d", pkg.Address(), port)
	}
	if pkg.Interface.IPAddress != "127.0.0.1" {
		t.Errorf("Interface = %s, want 127.0.0.1", pkg.Interface.IPAddress)
	}
}

func TestDetector_RequireSameInterface(t *testing.T) {
	requireLoopbackAddr(t, "127.0.0.2")
	requireLoopbackAddr(t, "127.0.0.3")

	tests := []struct {
		name      string
		sameIface bool
		want      int
	}{
		{"same interface drops foreign reply", true, 0},
		{"any interface accepts foreign reply", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := freePort(t)
			// the reply goes to an address the scanning interface does not own
			resp := startResponder(t, "127.0.0.2", port, []byte("reply"), func(*net.UDPAddr) *net.UDPAddr {
				return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 3), Port: port}
			})

			d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())
			req := loopbackRequest(port, []byte("hello"), "127.0.0.2")
			req.ResponsePort = ListeningPort
			req.RequireSameInterface = tt.sameIface

			pkgs, err := d.DeviceInfoPackages(context.Background(), req)
			if err != nil {
				t.Fatalf("DeviceInfoPackages() error = %v", err)
			}

			resp.waitHello(t)
			if len(pkgs) != tt.want {
				t.Errorf("got %d packages, want %d", len(pkgs), tt.want)
			}
		})
	}
}

func TestDetector_CancellationStopsEarly(t *testing.T) {
	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())
	before := OpenSockets()

	req := loopbackRequest(freePort(t), []byte("hello"), "127.0.0.1")
	req.ReceiveTimeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	pkgs, err := d.DeviceInfoPackages(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("DeviceInfoPackages() error = %v", err)
	}
	if len(pkgs) != 0 {
		t.Errorf("got %d packages", len(pkgs))
	}
	if elapsed > 3*time.Second {
		t.Errorf("cancelled scan took %v", elapsed)
	}
	if OpenSockets() != before {
		t.Errorf("OpenSockets() = %d after cancel, want %d", OpenSockets(), before)
	}
}

func TestDetector_CancelledBeforeStartStillSends(t *testing.T) {
	resp := startResponder(t, "127.0.0.1", 0, []byte("reply"), nil)
	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Scan(ctx, loopbackRequest(resp.addr.Port, []byte("hello"), "127.0.0.1")); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	resp.waitHello(t)
}

func TestDetector_PartialFailure(t *testing.T) {
	reply := []byte("reply")
	resp := startResponder(t, "127.0.0.1", 0, reply, nil)

	src := listSource{
		{IPAddress: "127.0.0.1", SubnetMask: "255.0.0.0"},
		{IPAddress: "192.0.2.1", SubnetMask: "255.255.255.0"},
		{IPAddress: "not-an-ip", SubnetMask: "255.255.255.0"},
	}
	logger, logs := observedLogger()
	d := New(src, logger)
	before := OpenSockets()

	s, err := d.Start(context.Background(), loopbackRequest(resp.addr.Port, []byte("hello"), "127.0.0.1"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(s.Interfaces()) != 3 {
		t.Errorf("Interfaces() = %d, want 3", len(s.Interfaces()))
	}

	var pkgs []DeviceInfoPackage
	for pkg := range s.Events() {
		pkgs = append(pkgs, pkg)
	}

	failures := multierr.Errors(s.Wait())
	if len(failures) != 2 {
		t.Fatalf("got %d interface failures, want 2: %v", len(failures), s.Wait())
	}
	seen := map[string]bool{}
	for _, f := range failures {
		if !IsBindError(f) {
			t.Errorf("failure %v is not a bind error", f)
		}
		var scanErr *ScanError
		if errors.As(f, &scanErr) {
			seen[scanErr.Interface] = true
		}
	}
	if !seen["192.0.2.1"] || !seen["not-an-ip"] {
		t.Errorf("failures not tagged with their interfaces: %v", seen)
	}

	if len(pkgs) == 0 {
		t.Fatal("working interface produced no packages")
	}
	for _, pkg := range pkgs {
		if pkg.Interface.IPAddress != "127.0.0.1" {
			t.Errorf("package tagged with %s", pkg.Interface.IPAddress)
		}
		if pkg.ScanID != s.ID() {
			t.Errorf("ScanID = %q, want %q", pkg.ScanID, s.ID())
		}
	}

	if n := logs.FilterMessage("Interface skipped").Len(); n != 2 {
		t.Errorf("logged %d skipped interfaces, want 2", n)
	}
	if OpenSockets() != before {
		t.Errorf("OpenSockets() = %d, want %d", OpenSockets(), before)
	}
}

func TestDetector_ConcurrentScansKeepInterfaces(t *testing.T) {
	requireLoopbackAddr(t, "127.0.0.2")

	addrs := []string{"127.0.0.1", "127.0.0.2"}
	results := make([][]DeviceInfoPackage, len(addrs))
	errs := make([]error, len(addrs))

	var wg sync.WaitGroup
	for i, ip := range addrs {
		resp := startResponder(t, ip, 0, []byte("reply-"+ip), nil)
		d := New(netif.NewStatic(ip, "255.0.0.0"), zap.NewNop())
		req := loopbackRequest(resp.addr.Port, []byte("hello"), ip)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.DeviceInfoPackages(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i, ip := range addrs {
		if errs[i] != nil {
			t.Fatalf("scan on %s: %v", ip, errs[i])
		}
		if len(results[i]) == 0 {
			t.Errorf("scan on %s received nothing", ip)
		}
		for _, pkg := range results[i] {
			if pkg.Interface.IPAddress != ip {
				t.Errorf("scan on %s returned package tagged %s", ip, pkg.Interface.IPAddress)
			}
			if string(pkg.ReceivedData) != "reply-"+ip {
				t.Errorf("scan on %s got %q", ip, pkg.ReceivedData)
			}
		}
	}
}

func TestDetector_Subscribe(t *testing.T) {
	resp := startResponder(t, "127.0.0.1", 0, []byte("reply"), nil)
	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())
	req := loopbackRequest(resp.addr.Port, []byte("hello"), "127.0.0.1")

	var mu sync.Mutex
	var first, second int
	unsubFirst := d.Subscribe(func(DeviceInfoPackage) {
		mu.Lock()
		first++
		mu.Unlock()
	})
	unsubSecond := d.Subscribe(func(DeviceInfoPackage) {
		mu.Lock()
		second++
		mu.Unlock()
	})
	defer unsubSecond()

	if err := d.Scan(context.Background(), req); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	mu.Lock()
	if first == 0 || second == 0 {
		t.Fatalf("subscribers saw first=%d second=%d events", first, second)
	}
	firstAfterScan := first
	mu.Unlock()

	unsubFirst()
	unsubFirst()

	pkgs, err := d.DeviceInfoPackages(context.Background(), req)
	if err != nil {
		t.Fatalf("DeviceInfoPackages() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if first != firstAfterScan {
		t.Errorf("unsubscribed handler still called (%d -> %d)", firstAfterScan, first)
	}
	if len(pkgs) == 0 {
		t.Fatal("second scan received nothing")
	}
}

func TestDetector_FixedSendPort(t *testing.T) {
	sendPort := freePort(t)
	sources := make(chan int, 4)
	resp := startResponder(t, "127.0.0.1", 0, []byte("reply"), func(src *net.UDPAddr) *net.UDPAddr {
		sources <- src.Port
		return src
	})

	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())
	req := loopbackRequest(resp.addr.Port, []byte("hello"), "127.0.0.1")
	req.HostSendPort = sendPort

	pkgs, err := d.DeviceInfoPackages(context.Background(), req)
	if err != nil {
		t.Fatalf("DeviceInfoPackages() error = %v", err)
	}

	select {
	case port := <-sources:
		if port != sendPort {
			t.Errorf("hello sent from port %d, want %d", port, sendPort)
		}
	case <-time.After(time.Second):
		t.Fatal("responder saw no hello")
	}
	if len(pkgs) == 0 {
		t.Fatal("no reply received on the fixed send port")
	}
}

// startBurstResponder answers each hello with count datagrams numbered
// "000", "001", ... sent back to the sender.
func startBurstResponder(t *testing.T, count int) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to start responder: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 2048)
		for {
			_, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			for i := 0; i < count; i++ {
				_, _ = conn.WriteToUDP([]byte(fmt.Sprintf("%03d", i)), src)
			}
		}
	}()

	t.Cleanup(func() {
		_ = conn.Close()
		<-done
	})
	return conn.LocalAddr().(*net.UDPAddr)
}

func TestDetector_CancelledUndrainedSessionCompletes(t *testing.T) {
	addr := startBurstResponder(t, 300)
	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())
	before := OpenSockets()

	req := loopbackRequest(addr.Port, []byte("hello"), "127.0.0.1")
	req.ReceiveTimeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := d.Start(ctx, req)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Let the replies pile up past every buffer without reading Events
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case <-session.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session still running 3s after cancel; OpenSockets=%d", OpenSockets())
	}

	if err := session.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if OpenSockets() != before {
		t.Errorf("OpenSockets() = %d, want %d", OpenSockets(), before)
	}
	for range session.Events() {
	}
}

func TestDetector_RepliesKeepArrivalOrder(t *testing.T) {
	const count = 20
	addr := startBurstResponder(t, count)
	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())

	tests := []struct {
		name   string
		policy ResponsePort
	}{
		{"send port", SendPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := loopbackRequest(addr.Port, []byte("hello"), "127.0.0.1")
			req.ResponsePort = tt.policy

			pkgs, err := d.DeviceInfoPackages(context.Background(), req)
			if err != nil {
				t.Fatalf("DeviceInfoPackages() error = %v", err)
			}
			if len(pkgs) != count {
				t.Fatalf("got %d packages, want %d", len(pkgs), count)
			}
			for i, pkg := range pkgs {
				if want := fmt.Sprintf("%03d", i); string(pkg.ReceivedData) != want {
					t.Fatalf("package %d = %q, want %q", i, pkg.ReceivedData, want)
				}
			}
		})
	}
}

func TestDetector_SubscribersGetOwnPayload(t *testing.T) {
	resp := startResponder(t, "127.0.0.1", 0, []byte("reply"), nil)
	d := New(netif.NewStatic("127.0.0.1", "255.0.0.0"), zap.NewNop())

	var mu sync.Mutex
	var seen []string
	unsubMutate := d.Subscribe(func(pkg DeviceInfoPackage) {
		for i := range pkg.ReceivedData {
			pkg.ReceivedData[i] = 'X'
		}
	})
	defer unsubMutate()
	unsubRecord := d.Subscribe(func(pkg DeviceInfoPackage) {
		mu.Lock()
		seen = append(seen, string(pkg.ReceivedData))
		mu.Unlock()
	})
	defer unsubRecord()

	pkgs, err := d.DeviceInfoPackages(context.Background(), loopbackRequest(resp.addr.Port, []byte("hello"), "127.0.0.1"))
	if err != nil {
		t.Fatalf("DeviceInfoPackages() error = %v", err)
	}
	if len(pkgs) == 0 {
		t.Fatal("no reply received")
	}
	for _, pkg := range pkgs {
		if string(pkg.ReceivedData) != "reply" {
			t.Errorf("result payload = %q, want %q", pkg.ReceivedData, "reply")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, got := range seen {
		if got != "reply" {
			t.Errorf("second subscriber saw %q, want %q", got, "reply")
		}
	}
}
