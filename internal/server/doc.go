// Package server streams discovery results to websocket clients.
//
// A Server owns one Detector and one ScanRequest. It scans on a fixed
// interval, on POST /scan, or when a client sends {"type":"scan"}, and every
// device response is pushed to all connected clients as it arrives.
//
// # Routes
//
//   - GET /ws      websocket feed of JSON Message frames
//   - GET /status  JSON StatusResponse with scan counters
//   - POST /scan   queue a scan (merged with one already pending)
//
// # Messages
//
// Every frame carries a type:
//
//	{"type":"hello","time":"..."}
//	{"type":"scan_started","time":"..."}
//	{"type":"device","time":"...","device":{...},"payload_hex":"0235..."}
//	{"type":"scan_finished","time":"...","responses":2}
//	{"type":"error","time":"...","error":"..."}
//
// Clients that fall behind lose messages instead of delaying scans.
//
// # Usage Example
//
//	detector := discovery.New(netif.NewAutoDetect(), logger)
//	srv, err := server.New(&server.Config{
//	    Port:      8787,
//	    Interval:  5 * time.Second,
//	    Advertise: true,
//	}, detector, req, logger)
//	if err != nil {
//	    return err
//	}
//	return srv.Serve(ctx) // returns after ctx is cancelled
//
// # mDNS
//
// With Advertise set the feed registers itself as _udpdiscover._tcp so that
// Browse (and the "servers" command) can find it.
//
// # Graceful Shutdown
//
// When the context passed to Serve ends the server:
//  1. Stops scheduling scans and cancels a running one
//  2. Withdraws the mDNS announcement
//  3. Stops accepting connections and closes every websocket
//  4. Waits for the writer goroutines to exit
package server
