package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/muurk/udpdiscovery/internal/netif"
)

// DeviceInfoPackage is one response received during a scan
type DeviceInfoPackage struct {
	// ScanID identifies the scan that produced this package
	ScanID string `json:"scan_id"`

	// Interface is the local interface whose broadcast triggered the response
	Interface netif.Descriptor `json:"interface"`

	// DeviceIPAddress is the sender's IPv4 address (e.g., "192.168.4.16")
	DeviceIPAddress string `json:"device_ip_address"`

	// DevicePort is the sender's UDP source port
	DevicePort int `json:"device_port"`

	// ReceivedData is the raw datagram payload, never decoded
	ReceivedData []byte `json:"received_data"`

	// ReceivedAt is when the datagram was read off the socket
	ReceivedAt time.Time `json:"received_at"`
}

// String returns a human-readable string representation of the package
func (p *DeviceInfoPackage) String() string {
	return fmt.Sprintf("Device %s via %s (%d bytes)", p.Address(), p.Interface.IPAddress, len(p.ReceivedData))
}

// Address returns the sender as "ip:port"
func (p *DeviceInfoPackage) Address() string {
	return net.JoinHostPort(p.DeviceIPAddress, strconv.Itoa(p.DevicePort))
}

// clone returns a copy with its own ReceivedData.
func (p DeviceInfoPackage) clone() DeviceInfoPackage {
	p.ReceivedData = append([]byte(nil), p.ReceivedData...)
	return p
}

// Datagram is what a Receiver emits for each inbound packet
type Datagram struct {
	// Payload is a private copy of the datagram contents
	Payload []byte

	// From is the sender address
	From *net.UDPAddr

	// Destination is the address the datagram was sent to. Nil when the
	// platform does not report IPv4 control messages.
	Destination net.IP

	// IfIndex is the index of the interface the datagram arrived on, or 0 if unknown
	IfIndex int

	// ReceivedAt is when the datagram was read
	ReceivedAt time.Time
}

// newDeviceInfoPackage relabels a datagram with the interface it belongs to.
func newDeviceInfoPackage(scanID string, iface netif.Descriptor, dg Datagram) DeviceInfoPackage {
	pkg := DeviceInfoPackage{
		ScanID:       scanID,
		Interface:    iface,
		ReceivedData: dg.Payload,
		ReceivedAt:   dg.ReceivedAt,
	}
	if dg.From != nil {
		pkg.DeviceIPAddress = dg.From.IP.String()
		pkg.DevicePort = dg.From.Port
	}
	return pkg
}
