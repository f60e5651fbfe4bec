package netif

import (
	"fmt"
	"net"
)

// AutoDetect is a Source that enumerates the host's interfaces.
type AutoDetect struct {
	// interfaces is swapped out in tests.
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

// NewAutoDetect creates a Source backed by the operating system's interface list.
func NewAutoDetect() *AutoDetect {
	return &AutoDetect{
		interfaces: net.Interfaces,
		addrs: func(iface net.Interface) ([]net.Addr, error) {
			return iface.Addrs()
		},
	}
}

// NetworkInterfaces returns one descriptor per IPv4 address found on every
// interface that is up, broadcast-capable, not loopback and Ethernet-class.
func (a *AutoDetect) NetworkInterfaces() ([]Descriptor, error) {
	interfaces, err := a.interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	var descriptors []Descriptor
	seen := make(map[string]struct{})

	for _, iface := range interfaces {
		if !usable(iface) {
			continue
		}

		addrs, err := a.addrs(iface)
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			ip := ipNet.IP.To4()
			if ip == nil {
				continue
			}

			// IPv4 masks may come back in 16-byte form
			mask := ipNet.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}

			d := Descriptor{
				IPAddress:  ip.String(),
				SubnetMask: net.IP(mask).String(),
			}
			if _, exists := seen[d.IPAddress]; exists {
				continue
			}
			seen[d.IPAddress] = struct{}{}

			descriptors = append(descriptors, d)
		}
	}

	return descriptors, nil
}

// usable reports whether an interface can carry an Ethernet broadcast.
func usable(iface net.Interface) bool {
	if iface.Flags&net.FlagUp == 0 {
		return false
	}
	if iface.Flags&net.FlagLoopback != 0 {
		return false
	}
	if iface.Flags&net.FlagBroadcast == 0 {
		return false
	}
	if iface.Flags&net.FlagPointToPoint != 0 {
		return false
	}
	// Ethernet and Wi-Fi adapters carry a 48-bit MAC
	return len(iface.HardwareAddr) == 6
}
