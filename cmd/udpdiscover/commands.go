package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/muurk/udpdiscovery/internal/config"
	"github.com/muurk/udpdiscovery/internal/discovery"
	"github.com/muurk/udpdiscovery/internal/logging"
	"github.com/muurk/udpdiscovery/internal/netif"
	"github.com/muurk/udpdiscovery/internal/server"
	"github.com/muurk/udpdiscovery/internal/ui"
)

// Output formats of the scan command
const (
	formatDetailed = "detailed"
	formatCompact  = "compact"
	formatJSON     = "json"
)

// Command flags
var (
	scanOpts     scanOptions
	outputFormat string
	verbose      bool

	watchOpts     scanOptions
	watchInterval time.Duration

	serveOpts    scanOptions
	serveAddr    string
	serveEvery   time.Duration
	certPath     string
	keyPath      string
	advertise    bool
	instanceName string

	interfacesJSON bool
	browseTimeout  time.Duration
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(serversCmd)
}

// newDetector builds a detector over source with the global logger
func newDetector(source netif.Source) *discovery.Detector {
	return discovery.New(source, logging.Named("discovery"))
}

// setupFor loads the registry and resolves opts against the flags of cmd
func setupFor(cmd *cobra.Command, opts *scanOptions) (*config.Registry, *scanSetup, error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, nil, err
	}
	setup, err := opts.resolveScan(reg, cmd.Flags().Changed)
	if err != nil {
		return nil, nil, err
	}
	return reg, setup, nil
}

// scanCmd runs a single scan
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Broadcast a hello and list the devices that answer",
	Long: `Broadcast a hello datagram on every IPv4 interface and list every
device that answers within the timeout.

Options come from --profile (or the default profile in the config file),
and any flag given on the command line overrides the profile.`,
	Example: `  # Built-in profile
  udpdiscover scan --profile nager-demo

  # Ad-hoc scan, replies expected on the device port
  udpdiscover scan --port 65535 --hello-text '$BRD,#' --response-port listen

  # Inside a container: accept replies to any address, listen longer
  udpdiscover scan --profile brd --any-interface --timeout 3s

  # Machine-readable output
  udpdiscover scan --profile brd --format json`,
	RunE: runScan,
}

func init() {
	scanOpts.addFlags(scanCmd)
	scanCmd.Flags().StringVarP(&outputFormat, "format", "f", formatDetailed, "Output format (detailed, compact, json)")
	scanCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show a hex dump of every response")
}

func runScan(cmd *cobra.Command, args []string) error {
	reg, setup, err := setupFor(cmd, &scanOpts)
	if err != nil {
		return err
	}

	format := outputFormat
	if !cmd.Flags().Changed("format") && reg.Preferences != nil && reg.Preferences.Format != "" {
		format = reg.Preferences.Format
	}

	detector := newDetector(setup.source)
	out := cmd.OutOrStdout()

	switch format {
	case formatJSON:
		pkgs, err := detector.DeviceInfoPackages(cmd.Context(), setup.request)
		if err != nil {
			return err
		}
		return writeJSON(out, pkgs)

	case formatCompact:
		pkgs, err := detector.DeviceInfoPackages(cmd.Context(), setup.request)
		if err != nil {
			return err
		}
		if len(pkgs) > 0 {
			fmt.Fprintln(out, ui.FormatCompact(pkgs))
		}
		return nil

	case formatDetailed:
		runner := ui.NewScanRunner(ui.ScanRunnerConfig{
			Title:   "Device Scan",
			Command: commandLine(cmd, args),
			Params:  setup.params(),
			Verbose: verbose,
			Output:  out,
		})
		_, err := runner.Run(cmd.Context(), detector, setup.request)
		return err

	default:
		return fmt.Errorf("unknown format %q (use detailed, compact or json)", format)
	}
}

// watchCmd scans repeatedly in a live terminal view
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Scan repeatedly and show devices live",
	Long: `Scan again and again and show every device in a live table.

Press r to rescan immediately and q to quit. A summary of every device seen
is printed on exit.`,
	Example: `  udpdiscover watch --profile nager-demo
  udpdiscover watch --port 12000 --hello "02 35 38 2e 30 03 10" --interval 5s`,
	RunE: runWatch,
}

func init() {
	watchOpts.addFlags(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Pause between scans")
}

func runWatch(cmd *cobra.Command, args []string) error {
	_, setup, err := setupFor(cmd, &watchOpts)
	if err != nil {
		return err
	}
	if !ui.IsTerminal() {
		return fmt.Errorf("watch needs an interactive terminal; use 'scan' instead")
	}

	devices, err := ui.RunWatch(cmd.Context(), ui.WatchConfig{
		Detector: newDetector(setup.source),
		Request:  setup.request,
		Interval: watchInterval,
		Title:    "Watching for devices on port " + strconv.Itoa(setup.request.DeviceListeningPort),
	}, tea.WithAltScreen())
	if err != nil && cmd.Context().Err() == nil {
		return err
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	if len(devices) == 0 {
		printer.PrintWarning("No devices responded", nil, ui.ScanTroubleshooting(nil))
		return nil
	}

	pkgs := make([]discovery.DeviceInfoPackage, 0, len(devices))
	for _, d := range devices {
		pkgs = append(pkgs, d.Last)
	}
	printer.PrintSuccess(fmt.Sprintf("%d device(s) seen", len(devices)), nil)
	printer.Newline()
	printer.Println(ui.RenderDeviceTable(pkgs, printer.Width()))
	return nil
}

// serveCmd streams scan results over a websocket
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve live discovery results over a websocket",
	Long: `Scan on an interval and stream every response to websocket clients.

Routes:
  GET  /ws      JSON event feed
  GET  /status  scan counters
  POST /scan    trigger a scan now

With --advertise the feed announces itself over mDNS so that
'udpdiscover servers' finds it.`,
	Example: `  udpdiscover serve --profile brd
  udpdiscover serve --profile nager-demo --addr 127.0.0.1:9000 --interval 10s --advertise
  udpdiscover serve --profile brd --cert cert.pem --key key.pem`,
	RunE: runServe,
}

func init() {
	serveOpts.addFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8787)")
	serveCmd.Flags().DurationVar(&serveEvery, "interval", 5*time.Second, "Pause between scans (0 = only on request)")
	serveCmd.Flags().StringVar(&certPath, "cert", "", "Path to TLS certificate file")
	serveCmd.Flags().StringVar(&keyPath, "key", "", "Path to TLS private key file")
	serveCmd.Flags().BoolVar(&advertise, "advertise", false, "Announce the feed over mDNS")
	serveCmd.Flags().StringVar(&instanceName, "instance", server.DefaultInstance, "mDNS instance name")
}

func runServe(cmd *cobra.Command, args []string) error {
	reg, setup, err := setupFor(cmd, &serveOpts)
	if err != nil {
		return err
	}

	if (certPath == "") != (keyPath == "") {
		return fmt.Errorf("both --cert and --key must be provided together")
	}

	addr := serveAddr
	if addr == "" && reg.Preferences != nil {
		addr = reg.Preferences.ServeAddr
	}
	host, port, err := splitListenAddr(addr)
	if err != nil {
		return err
	}

	logger := logging.Named("server")
	srv, err := server.New(&server.Config{
		Host:      host,
		Port:      port,
		Interval:  serveEvery,
		CertPath:  certPath,
		KeyPath:   keyPath,
		Advertise: advertise,
		Instance:  instanceName,
	}, newDetector(setup.source), setup.request, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	printer.PrintHeader("Discovery Feed", commandLine(cmd, args), append(setup.params(),
		ui.Param{Key: "Listening", Value: srv.Addr().String()},
		ui.Param{Key: "Interval", Value: serveEvery.String()},
	))
	printer.Newline()

	return srv.Serve(cmd.Context())
}

// splitListenAddr parses "host:port", ":port" or a bare port
func splitListenAddr(addr string) (string, int, error) {
	if addr == "" {
		addr = ":8787"
	}
	if _, err := strconv.Atoi(addr); err == nil {
		addr = ":" + addr
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid listen port %q", portStr)
	}
	return host, port, nil
}

// interfacesCmd lists what a scan would broadcast on
var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List the interfaces a scan broadcasts on",
	RunE: func(cmd *cobra.Command, args []string) error {
		var source netif.Source = netif.NewAutoDetect()
		if ifaceIP != "" {
			p := config.Profile{Interface: ifaceIP, SubnetMask: ifaceMask}
			s, err := p.Source()
			if err != nil {
				return fmt.Errorf("invalid --interface: %w", err)
			}
			source = s
		}

		ifaces, err := source.NetworkInterfaces()
		if err != nil {
			return fmt.Errorf("failed to list interfaces: %w", err)
		}

		if interfacesJSON {
			return writeJSON(cmd.OutOrStdout(), ifaces)
		}

		printer := ui.NewPrinter(cmd.OutOrStdout())
		if len(ifaces) == 0 {
			printer.PrintWarning("No usable IPv4 interfaces", nil, []string{
				"Interfaces must be up, non-loopback and carry an IPv4 address",
				"Use --interface to scan a specific address",
			})
			return nil
		}
		printer.PrintInterfaces(ifaces)
		return nil
	},
}

func init() {
	interfacesCmd.Flags().BoolVar(&interfacesJSON, "json", false, "Print as JSON")
}

// serversCmd finds discovery feeds announced over mDNS
var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Find discovery feeds announced on the network",
	RunE: func(cmd *cobra.Command, args []string) error {
		ui.PrintPleaseWait(cmd.OutOrStdout(), "Browsing for discovery feeds", browseTimeout.String())

		ctx, cancel := context.WithTimeout(cmd.Context(), browseTimeout)
		defer cancel()

		peers, err := server.Browse(ctx)
		if err != nil {
			return err
		}

		printer := ui.NewPrinter(cmd.OutOrStdout())
		if len(peers) == 0 {
			printer.PrintWarning("No feeds found", nil, []string{
				"Start one with 'udpdiscover serve --advertise'",
				"mDNS does not cross routers or most VPNs",
			})
			return nil
		}

		details := make([]ui.Param, 0, len(peers))
		for _, p := range peers {
			details = append(details, ui.Param{
				Key:   p.Instance,
				Value: fmt.Sprintf("%s (device port %s)", p.URL(), p.Metadata["device_port"]),
			})
		}
		printer.PrintSuccess(fmt.Sprintf("%d feed(s) found", len(peers)), details)
		return nil
	},
}

func init() {
	serversCmd.Flags().DurationVar(&browseTimeout, "timeout", server.DefaultBrowseTimeout, "How long to browse")
}
