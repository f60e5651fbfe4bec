package discovery

import (
	"fmt"
	"net"
	"time"

	"github.com/muurk/udpdiscovery/internal/netif"
)

const (
	// DefaultReceiveTimeout is how long each interface listens after sending the hello
	DefaultReceiveTimeout = 1000 * time.Millisecond

	// maxPort is the largest valid UDP port
	maxPort = 65535
)

// ResponsePort selects the local port replies are expected on
type ResponsePort int

const (
	// SendPort expects replies on the port the hello was sent from (default)
	SendPort ResponsePort = iota
	// ListeningPort expects replies on the device's well-known listening port
	ListeningPort
)

// String returns the policy name used in config files and flags
func (p ResponsePort) String() string {
	switch p {
	case SendPort:
		return "send"
	case ListeningPort:
		return "listen"
	default:
		return fmt.Sprintf("ResponsePort(%d)", int(p))
	}
}

// ParseResponsePort parses "send" or "listen".
func ParseResponsePort(s string) (ResponsePort, error) {
	switch s {
	case "send", "":
		return SendPort, nil
	case "listen":
		return ListeningPort, nil
	default:
		return 0, &ScanError{
			Type:    ErrTypeNotSupported,
			Message: fmt.Sprintf("response port policy %q (want send or listen)", s),
			Err:     ErrUnsupportedResponsePort,
		}
	}
}

// ScanRequest holds the parameters of one broadcast-and-listen cycle
type ScanRequest struct {
	// DeviceListeningPort is the UDP port devices listen for the hello on
	DeviceListeningPort int

	// HelloPayload is the opaque byte sequence devices answer to; must not be empty
	HelloPayload []byte

	// HostSendPort is the local port to send from; 0 lets the OS pick one
	HostSendPort int

	// ResponsePort selects where replies are expected
	ResponsePort ResponsePort

	// RequireSameInterface binds the receive socket to the interface address
	// instead of the wildcard address. Inside containers the host sees the
	// replies, so this usually has to be false there.
	RequireSameInterface bool

	// ReceiveTimeout is the listening window after the hello is sent
	ReceiveTimeout time.Duration

	// Destination overrides the hello destination address. Nil sends to the
	// limited broadcast address 255.255.255.255.
	Destination net.IP

	// DirectedBroadcast sends the hello to each interface's subnet broadcast
	// address instead of 255.255.255.255. Ignored when Destination is set.
	DirectedBroadcast bool
}

// NewScanRequest returns a request with the default options: ephemeral send
// port, replies on the send port, same-interface replies only, 1s timeout.
func NewScanRequest(deviceListeningPort int, hello []byte) ScanRequest {
	return ScanRequest{
		DeviceListeningPort:  deviceListeningPort,
		HelloPayload:         hello,
		HostSendPort:         0,
		ResponsePort:         SendPort,
		RequireSameInterface: true,
		ReceiveTimeout:       DefaultReceiveTimeout,
	}
}

// Validate checks the request before any socket is opened.
func (r ScanRequest) Validate() error {
	if len(r.HelloPayload) == 0 {
		return newConfigError(ErrEmptyPayload, "hello payload must not be empty")
	}
	if r.DeviceListeningPort < 0 || r.DeviceListeningPort > maxPort {
		return newConfigError(ErrInvalidPort, "device listening port %d not in [0,%d]", r.DeviceListeningPort, maxPort)
	}
	if r.HostSendPort < 0 || r.HostSendPort > maxPort {
		return newConfigError(ErrInvalidPort, "host send port %d not in [0,%d]", r.HostSendPort, maxPort)
	}
	if r.ReceiveTimeout <= 0 {
		return newConfigError(ErrInvalidTimeout, "receive timeout %v must be greater than zero", r.ReceiveTimeout)
	}

	switch r.ResponsePort {
	case SendPort, ListeningPort:
	default:
		return &ScanError{
			Type:    ErrTypeNotSupported,
			Message: fmt.Sprintf("response port policy %d", int(r.ResponsePort)),
			Err:     ErrUnsupportedResponsePort,
		}
	}

	if r.Destination != nil && r.Destination.To4() == nil {
		return newConfigError(ErrInvalidDestination, "destination %s", r.Destination)
	}
	return nil
}

// clone returns a copy that does not share the payload or destination with the caller.
func (r ScanRequest) clone() ScanRequest {
	c := r
	c.HelloPayload = append([]byte(nil), r.HelloPayload...)
	if r.Destination != nil {
		c.Destination = append(net.IP(nil), r.Destination.To4()...)
	}
	return c
}

// receiveEndpoint computes where the Receiver binds for one interface.
// boundSendPort is the port the send socket actually got from the OS.
func (r ScanRequest) receiveEndpoint(ifaceIP net.IP, boundSendPort int) *net.UDPAddr {
	ip := net.IPv4zero
	if r.RequireSameInterface {
		ip = ifaceIP
	}

	port := boundSendPort
	if r.ResponsePort == ListeningPort {
		port = r.DeviceListeningPort
	}

	return &net.UDPAddr{IP: ip, Port: port}
}

// destination computes where the hello is sent for one interface.
func (r ScanRequest) destination(iface netif.Descriptor) *net.UDPAddr {
	ip := net.IPv4bcast
	switch {
	case r.Destination != nil:
		ip = r.Destination
	case r.DirectedBroadcast:
		if b := iface.BroadcastAddress(); b != nil {
			ip = b
		}
	}
	return &net.UDPAddr{IP: ip, Port: r.DeviceListeningPort}
}
