package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/muurk/udpdiscovery/internal/config"
	"github.com/muurk/udpdiscovery/internal/discovery"
	"github.com/muurk/udpdiscovery/internal/netif"
	"github.com/muurk/udpdiscovery/internal/ui"
)

// scanOptions are the flags shared by every command that scans. Flags left
// at their defaults never override the selected profile.
type scanOptions struct {
	profile      string
	port         int
	hello        string
	helloText    string
	sendPort     int
	responsePort string
	anyInterface bool
	timeout      time.Duration
	directed     bool
	destination  string
}

func (o *scanOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.profile, "profile", "p", "", "Saved or built-in profile to start from")
	f.IntVar(&o.port, "port", 0, "UDP port the devices listen on")
	f.StringVar(&o.hello, "hello", "", `Hello payload as hex (e.g. "02 35 38 2e 30 03 10")`)
	f.StringVar(&o.helloText, "hello-text", "", "Hello payload as text")
	f.IntVar(&o.sendPort, "send-port", 0, "Local port to send from (0 = any)")
	f.StringVar(&o.responsePort, "response-port", "send", "Where devices reply: send or listen")
	f.BoolVar(&o.anyInterface, "any-interface", false, "Accept replies addressed to any local interface (needed in containers)")
	f.DurationVar(&o.timeout, "timeout", discovery.DefaultReceiveTimeout, "How long to listen after the hello")
	f.BoolVar(&o.directed, "directed", false, "Send to each subnet broadcast address instead of 255.255.255.255")
	f.StringVar(&o.destination, "destination", "", "Send the hello to this address instead of broadcasting")
}

// scanSetup is a fully resolved scan
type scanSetup struct {
	name    string // Profile name, empty for an ad-hoc scan
	profile config.Profile
	request discovery.ScanRequest
	source  netif.Source
}

// resolveScan merges the selected profile with the flags the user set.
// changed reports whether a flag was given on the command line.
func (o *scanOptions) resolveScan(reg *config.Registry, changed func(string) bool) (*scanSetup, error) {
	setup := &scanSetup{name: o.profile}

	if setup.name == "" && !changed("port") && reg.Preferences != nil {
		setup.name = reg.Preferences.DefaultProfile
	}

	switch {
	case setup.name != "":
		base := reg.GetProfile(setup.name)
		if base == nil {
			return nil, fmt.Errorf("unknown profile %q (see 'udpdiscover profile list')", setup.name)
		}
		setup.profile = *base
	case !changed("port"):
		return nil, errors.New("either --port or --profile is required")
	}

	if err := o.applyTo(&setup.profile, changed); err != nil {
		return nil, err
	}

	req, err := setup.profile.ScanRequest()
	if err != nil {
		return nil, err
	}
	if changed("destination") {
		ip := net.ParseIP(o.destination)
		if ip == nil {
			return nil, fmt.Errorf("invalid --destination %q", o.destination)
		}
		req.Destination = ip
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}
	setup.request = req

	setup.source, err = setup.profile.Source()
	if err != nil {
		return nil, fmt.Errorf("invalid --interface: %w", err)
	}
	return setup, nil
}

// applyTo overwrites the profile fields whose flags were set.
func (o *scanOptions) applyTo(p *config.Profile, changed func(string) bool) error {
	if changed("hello") && changed("hello-text") {
		return errors.New("--hello and --hello-text are mutually exclusive")
	}

	if changed("port") {
		p.Port = o.port
	}
	if changed("hello") {
		p.Hello = o.hello
		p.HelloText = ""
	}
	if changed("hello-text") {
		p.HelloText = o.helloText
		p.Hello = ""
	}
	if changed("send-port") {
		p.SendPort = o.sendPort
	}
	if changed("response-port") {
		p.ResponsePort = o.responsePort
	}
	if changed("any-interface") {
		p.AnyInterface = o.anyInterface
	}
	if changed("timeout") {
		p.TimeoutMS = int(o.timeout / time.Millisecond)
	}
	if changed("directed") {
		p.Directed = o.directed
	}
	if changed("interface") {
		p.Interface = ifaceIP
	}
	if changed("mask") {
		p.SubnetMask = ifaceMask
	}
	return nil
}

// params describes the scan for the output header
func (s *scanSetup) params() []ui.Param {
	name := s.name
	if name == "" {
		name = "(flags)"
	}

	target := "255.255.255.255"
	switch {
	case s.request.Destination != nil:
		target = s.request.Destination.String()
	case s.request.DirectedBroadcast:
		target = "subnet broadcast"
	}

	interfaces := "all"
	if s.profile.Interface != "" {
		interfaces = s.profile.Interface
	}

	return []ui.Param{
		{Key: "Profile", Value: name},
		{Key: "Target", Value: target + ":" + strconv.Itoa(s.request.DeviceListeningPort)},
		{Key: "Hello", Value: hex.EncodeToString(s.request.HelloPayload)},
		{Key: "Replies on", Value: s.request.ResponsePort.String()},
		{Key: "Interfaces", Value: interfaces},
		{Key: "Timeout", Value: s.request.ReceiveTimeout.String()},
	}
}

// commandLine rebuilds the invocation for display
func commandLine(cmd *cobra.Command, args []string) string {
	line := cmd.CommandPath()
	cmd.Flags().Visit(func(f *pflag.Flag) {
		line += " --" + f.Name + "=" + f.Value.String()
	})
	for _, arg := range args {
		line += " " + arg
	}
	return line
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
