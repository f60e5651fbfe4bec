package netif

import (
	"fmt"
	"net"
)

// Descriptor identifies one local IPv4 interface by address and subnet mask.
// Both fields are dotted-quad strings (e.g. "192.168.0.248", "255.255.255.0").
type Descriptor struct {
	IPAddress  string `json:"ip_address" yaml:"ip_address"`
	SubnetMask string `json:"subnet_mask" yaml:"subnet_mask"`
}

// Source supplies the interfaces to scan.
type Source interface {
	// NetworkInterfaces returns the interfaces to be scanned, in order.
	NetworkInterfaces() ([]Descriptor, error)
}

// IP returns the parsed IPv4 address, or nil if IPAddress is not IPv4.
func (d Descriptor) IP() net.IP {
	ip := net.ParseIP(d.IPAddress)
	if ip == nil {
		return nil
	}
	return ip.To4()
}

// Mask returns the parsed subnet mask, or nil if SubnetMask is not a dotted IPv4 mask.
func (d Descriptor) Mask() net.IPMask {
	m := net.ParseIP(d.SubnetMask)
	if m == nil || m.To4() == nil {
		return nil
	}
	return net.IPMask(m.To4())
}

// BroadcastAddress returns the directed broadcast address of the interface's
// subnet (ip | ^mask). It returns nil when either field does not parse.
func (d Descriptor) BroadcastAddress() net.IP {
	ip := d.IP()
	mask := d.Mask()
	if ip == nil || mask == nil {
		return nil
	}

	broadcast := make(net.IP, net.IPv4len)
	for i := range broadcast {
		broadcast[i] = ip[i] | ^mask[i]
	}
	return broadcast
}

// Validate reports whether the descriptor holds a usable IPv4 address and mask.
func (d Descriptor) Validate() error {
	if d.IP() == nil {
		return fmt.Errorf("invalid IPv4 address %q", d.IPAddress)
	}
	if d.Mask() == nil {
		return fmt.Errorf("invalid IPv4 subnet mask %q", d.SubnetMask)
	}
	return nil
}

// String returns the descriptor in "ip/mask" form.
func (d Descriptor) String() string {
	return d.IPAddress + "/" + d.SubnetMask
}

// Static is a Source that always returns a single fixed descriptor.
type Static struct {
	iface Descriptor
}

// NewStatic creates a Source for exactly one interface.
func NewStatic(ipAddress, subnetMask string) *Static {
	return &Static{
		iface: Descriptor{
			IPAddress:  ipAddress,
			SubnetMask: subnetMask,
		},
	}
}

// NetworkInterfaces returns the configured descriptor.
func (s *Static) NetworkInterfaces() ([]Descriptor, error) {
	return []Descriptor{s.iface}, nil
}
