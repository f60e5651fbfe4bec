package server

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/muurk/udpdiscovery/internal/discovery"
	"github.com/muurk/udpdiscovery/internal/version"
)

const (
	// ServiceType is the mDNS service type the feed is announced under
	ServiceType = "_udpdiscover._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultInstance is the instance name used when none is configured
	DefaultInstance = "udpdiscover"

	// DefaultBrowseTimeout bounds a Browse call without a deadline
	DefaultBrowseTimeout = 3 * time.Second
)

// Advertise announces a running feed on port via mDNS. The caller shuts the
// returned server down.
func Advertise(instance string, port int, req discovery.ScanRequest) (*zeroconf.Server, error) {
	if instance == "" {
		instance = DefaultInstance
	}
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, advertisedText(req), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return server, nil
}

func advertisedText(req discovery.ScanRequest) []string {
	return []string{
		"path=/ws",
		"device_port=" + strconv.Itoa(req.DeviceListeningPort),
		"response_port=" + req.ResponsePort.String(),
		"version=" + version.Version,
	}
}

// Peer is a feed found on the network
type Peer struct {
	Instance     string
	Hostname     string
	IP           string
	Port         int
	Metadata     map[string]string
	DiscoveredAt time.Time
}

// URL returns the websocket address of the feed
func (p *Peer) URL() string {
	path := p.Metadata["path"]
	if path == "" {
		path = "/ws"
	}
	return "ws://" + net.JoinHostPort(p.IP, strconv.Itoa(p.Port)) + path
}

// Browse lists the feeds announced on the local network until ctx is done.
// Without a deadline it gives up after DefaultBrowseTimeout.
func Browse(ctx context.Context) ([]*Peer, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu    sync.Mutex
		peers = make([]*Peer, 0)
	)
	go func() {
		for entry := range entries {
			if peer := parseServiceEntry(entry); peer != nil {
				mu.Lock()
				peers = append(peers, peer)
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	found := make([]*Peer, len(peers))
	copy(found, peers)
	sort.Slice(found, func(i, j int) bool {
		return found[i].Instance < found[j].Instance
	})
	return found, nil
}

// parseServiceEntry converts a zeroconf service entry to a Peer. Entries
// without an address are dropped.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Peer {
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	return &Peer{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
