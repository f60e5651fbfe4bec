// Package discovery finds devices on the local network by UDP broadcast.
//
// For every interface supplied by a netif.Source, the Detector binds a send
// socket and a Receiver, broadcasts a vendor-specific hello payload, listens
// for a fixed window, and then tears both sockets down. Replies from all
// interfaces are merged into one stream of DeviceInfoPackage values, each
// tagged with the interface that triggered it and the sender's address.
// Payloads are opaque; nothing is decoded.
//
// # Discovery Process
//
// For each interface, in parallel:
//  1. Bind a broadcast-enabled send socket to {interface IP, HostSendPort}
//  2. Bind a Receiver to {interface IP or 0.0.0.0, reply port}, where the
//     reply port is the bound send port or the device listening port
//  3. Send the hello once to 255.255.255.255:DeviceListeningPort
//  4. Wait ReceiveTimeout (cut short by context cancellation)
//  5. Close both sockets and wait for the receive loops to exit
//
// A scan returns only after every interface task has finished. Bind or send
// failures on one interface are logged and leave the other interfaces
// running; only invalid requests fail the call.
//
// # Usage Example
//
//	detector := discovery.New(netif.NewAutoDetect(), logger)
//
//	hello := []byte{0x02, 0x35, 0x38, 0x2E, 0x30, 0x03, 0x10}
//	req := discovery.NewScanRequest(12000, hello)
//
//	packages, err := detector.DeviceInfoPackages(ctx, req)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, pkg := range packages {
//	    fmt.Printf("%s answered on %s\n", pkg.DeviceIPAddress, pkg.Interface.IPAddress)
//	}
//
// Live delivery uses Subscribe before Scan, or Start and the Session's
// Events channel:
//
//	session, err := detector.Start(ctx, req)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for pkg := range session.Events() {
//	    fmt.Println(pkg.String())
//	}
//
// # Containers
//
// Inside a container the host, not the container, often receives the
// replies addressed to the interface. Set RequireSameInterface to false to
// listen on the wildcard address instead, and use netif.NewStatic to pin the
// interface.
//
// # Thread Safety
//
// A Detector is safe for concurrent use. Concurrent scans share nothing but
// the subscriber list; every socket belongs to exactly one interface task of
// exactly one scan.
package discovery
