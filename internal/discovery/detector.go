package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/udpdiscovery/internal/logging"
	"github.com/muurk/udpdiscovery/internal/netif"
)

// eventBacklog is the buffer of a session's merged event channel
const eventBacklog = 64

// Detector broadcasts a hello on every interface of its Source and
// collects the replies.
type Detector struct {
	source netif.Source
	logger *zap.Logger
	hub    hub
}

// New creates a Detector over source. A nil logger makes the detector silent.
func New(source netif.Source, logger *zap.Logger) *Detector {
	if source == nil {
		panic("discovery: nil interface source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		source: source,
		logger: logger,
	}
}

// Subscribe registers a handler for live discovery events from Scan and
// DeviceInfoPackages. The returned function detaches it; calling it more
// than once is harmless. Detaching never stops a running scan.
func (d *Detector) Subscribe(handler Handler) (unsubscribe func()) {
	return d.hub.subscribe(handler)
}

// Session is one running scan
type Session struct {
	id         string
	interfaces []netif.Descriptor
	events     chan DeviceInfoPackage
	done       chan struct{}

	mu  sync.Mutex
	err error
}

// ID returns the unique scan identifier carried by every package of this scan
func (s *Session) ID() string {
	return s.id
}

// Interfaces returns the interfaces this scan runs on
func (s *Session) Interfaces() []netif.Descriptor {
	return s.interfaces
}

// Events returns the merged event stream of all interfaces. It is closed
// after every interface task has finished. Until the scan context is done
// callers must drain it; once it is done, events that do not fit the
// buffer are dropped so an abandoned stream never holds the tasks open.
func (s *Session) Events() <-chan DeviceInfoPackage {
	return s.events
}

// Done is closed once every interface task has finished
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the scan completes and returns the combined
// per-interface failures, or nil if every interface was scanned. These
// failures never abort sibling interfaces.
func (s *Session) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	s.err = multierr.Append(s.err, err)
	s.mu.Unlock()
}

// Start validates req and starts one broadcast task per interface. It
// returns before any reply is received; read Events to consume them.
// Configuration errors are returned before any socket is opened.
func (d *Detector) Start(ctx context.Context, req ScanRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ifaces, err := d.source.NetworkInterfaces()
	if err != nil {
		return nil, &ScanError{
			Type:    ErrTypeSource,
			Message: "failed to get network interfaces",
			Err:     err,
		}
	}

	req = req.clone()
	s := &Session{
		id:         xid.New().String(),
		interfaces: ifaces,
		events:     make(chan DeviceInfoPackage, eventBacklog),
		done:       make(chan struct{}),
	}

	logger := d.logger.With(zap.String("scan_id", s.id))
	logger.Debug("Scan started",
		zap.Int("interfaces", len(ifaces)),
		zap.Int("device_port", req.DeviceListeningPort),
		zap.Stringer("response_port", req.ResponsePort),
		zap.Bool("same_interface", req.RequireSameInterface),
		zap.Duration("timeout", req.ReceiveTimeout),
	)

	var wg sync.WaitGroup
	for _, iface := range ifaces {
		wg.Add(1)
		go func(iface netif.Descriptor) {
			defer wg.Done()
			if err := d.scanInterface(ctx, logger, s, iface, &req); err != nil {
				err = withInterface(err, iface.IPAddress)
				logger.Warn("Interface skipped",
					zap.String("interface", iface.IPAddress),
					zap.Error(err),
				)
				s.recordError(err)
			}
		}(iface)
	}

	go func() {
		wg.Wait()
		close(s.events)
		close(s.done)
		logger.Debug("Scan finished")
	}()

	return s, nil
}

// Scan runs one scan and delivers every reply to the subscribers. It returns
// once all interface tasks have completed. Only configuration and interface
// source errors are returned; per-interface failures are logged.
func (d *Detector) Scan(ctx context.Context, req ScanRequest) error {
	return d.run(ctx, req, nil)
}

// DeviceInfoPackages runs one scan and returns every reply received. A scan
// without replies returns an empty slice and no error. Subscribers see the
// same events while the scan runs.
func (d *Detector) DeviceInfoPackages(ctx context.Context, req ScanRequest) ([]DeviceInfoPackage, error) {
	packages := make([]DeviceInfoPackage, 0)
	err := d.run(ctx, req, func(pkg DeviceInfoPackage) {
		packages = append(packages, pkg)
	})
	if err != nil {
		return nil, err
	}
	return packages, nil
}

func (d *Detector) run(ctx context.Context, req ScanRequest, collect Handler) error {
	s, err := d.Start(ctx, req)
	if err != nil {
		return err
	}

	for pkg := range s.Events() {
		d.hub.publish(pkg)
		if collect != nil {
			collect(pkg)
		}
	}

	if err := s.Wait(); err != nil {
		d.logger.Debug("Scan completed with interface failures",
			zap.String("scan_id", s.ID()),
			zap.Int("failures", len(multierr.Errors(err))),
		)
	}
	return nil
}

// scanInterface runs the full socket lifecycle for one interface: bind the
// send socket, bind and start the receiver, send the hello, wait, tear down.
// Both sockets are closed and all loops have exited when it returns.
func (d *Detector) scanInterface(ctx context.Context, logger *zap.Logger, s *Session, iface netif.Descriptor, req *ScanRequest) error {
	logger = logger.With(zap.String("interface", iface.IPAddress))

	ip := iface.IP()
	if ip == nil {
		return &ScanError{
			Type:    ErrTypeBind,
			Message: fmt.Sprintf("invalid interface address %q", iface.IPAddress),
		}
	}

	// Cancellation only shortens the wait below; binding and cleanup always run
	bindCtx := context.WithoutCancel(ctx)

	sendAddr := &net.UDPAddr{IP: ip, Port: req.HostSendPort}
	sender, err := listenUDP(bindCtx, sendAddr)
	if err != nil {
		return newBindError(sendAddr, err)
	}

	bound := sender.localAddr()
	logger.Debug("Send socket bound", zap.Stringer("local_addr", bound))

	recvAddr := req.receiveEndpoint(ip, bound.Port)
	receiver, err := NewReceiver(bindCtx, recvAddr, logger)
	if err != nil {
		_ = sender.close()
		return err
	}

	loops := []*Receiver{receiver}
	if req.ResponsePort == SendPort {
		// The send socket shares the reply port, and the kernel may hand a
		// unicast reply to either socket
		loops = append(loops, newReceiver(sender, logger.With(zap.String("socket", "send"))))
	}

	// Sockets close when loopCtx ends, which only the teardown below does
	loopCtx, stopLoops := context.WithCancel(bindCtx)
	for _, r := range loops {
		go r.RunContext(loopCtx)
	}

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		forward(ctx, s, iface, loops)
	}()

	defer func() {
		stopLoops()
		for _, r := range loops {
			<-r.Done()
		}
		_ = sender.close()
		<-forwarded
		logger.Debug("Broadcast finished")
	}()

	dst := req.destination(iface)
	if err := sendHello(logger, sender, req.HelloPayload, dst); err != nil {
		return err
	}

	timer := time.NewTimer(req.ReceiveTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		logger.Debug("Scan cancelled, stopping early")
	}
	return nil
}

// forward relabels the datagrams of one interface and feeds them to the
// session. A single forwarder serves both sockets of the interface, so
// packages keep the order in which they were read. A given device's replies
// always reach the same socket, which keeps them in arrival order.
func forward(ctx context.Context, s *Session, iface netif.Descriptor, loops []*Receiver) {
	primary := loops[0].Datagrams()
	var secondary <-chan Datagram
	if len(loops) > 1 {
		secondary = loops[1].Datagrams()
	}

	for primary != nil || secondary != nil {
		var (
			dg Datagram
			ok bool
		)
		select {
		case dg, ok = <-primary:
			if !ok {
				primary = nil
				continue
			}
		case dg, ok = <-secondary:
			if !ok {
				secondary = nil
				continue
			}
		}
		s.emit(ctx, newDeviceInfoPackage(s.id, iface, dg))
	}
}

// emit queues pkg on the event stream. It blocks while the consumer is
// behind, unless ctx is done, in which case a full stream drops pkg.
func (s *Session) emit(ctx context.Context, pkg DeviceInfoPackage) {
	select {
	case s.events <- pkg:
		return
	default:
	}

	select {
	case s.events <- pkg:
	case <-ctx.Done():
	}
}

// sendHello transmits the payload once to dst.
func sendHello(logger *zap.Logger, sender *socket, payload []byte, dst *net.UDPAddr) error {
	fields := append([]zap.Field{zap.Stringer("destination", dst)}, logging.PayloadFields(payload)...)
	logger.Debug("Send hello package", fields...)

	n, err := sender.conn.WriteToUDP(payload, dst)
	if err != nil {
		return newTransportError("send hello", dst, err)
	}
	if n != len(payload) {
		return newTransportError("send hello", dst, fmt.Errorf("partial write: %d/%d bytes", n, len(payload)))
	}
	return nil
}
