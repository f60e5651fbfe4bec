// Package netif supplies the local IPv4 interfaces a discovery scan runs on.
//
// A Source returns an ordered list of Descriptor values, each holding the
// dotted IPv4 address and subnet mask of one broadcast-capable interface.
// The discovery engine treats a Source as a pure data supplier: it never
// knows how the list was produced.
//
// Two implementations are provided:
//
//   - AutoDetect queries the operating system and keeps interfaces that are
//     up, not loopback, broadcast-capable, Ethernet-class (6-byte hardware
//     address) and carry an IPv4 address.
//   - Static returns one fixed descriptor supplied by the caller. This is
//     useful in containers, where the host rather than the container sees
//     the real network, or when a specific NIC must be used.
//
// # Usage Example
//
//	source := netif.NewStatic("192.168.0.248", "255.255.255.0")
//	ifaces, err := source.NetworkInterfaces()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, iface := range ifaces {
//	    fmt.Printf("%s broadcast %s\n", iface, iface.BroadcastAddress())
//	}
package netif
