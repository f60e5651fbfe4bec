// Udpdiscover finds devices on the local network by UDP broadcast.
//
// It sends a hello datagram on every IPv4 interface and lists whoever
// answers. Hellos and ports can be given on the command line or saved as
// named profiles.
//
// Usage:
//
//	udpdiscover scan --port 12000 --hello "02 35 38 2e 30 03 10"
//	udpdiscover scan --profile brd
//	udpdiscover watch --profile nager-demo
//	udpdiscover serve --profile brd --interval 5s
//
// See 'udpdiscover --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muurk/udpdiscovery/internal/config"
	"github.com/muurk/udpdiscovery/internal/logging"
	"github.com/muurk/udpdiscovery/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	logLevel   string
	configPath string
	ifaceIP    string
	ifaceMask  string
)

var rootCmd = &cobra.Command{
	Use:   "udpdiscover",
	Short: "UDP broadcast device discovery",
	Long: `Find devices on the local network by UDP broadcast.

A hello datagram is broadcast on every IPv4 interface and every datagram
that comes back within the timeout is reported with the device address,
the interface it arrived on, and its raw payload.

Logging is silent unless --log-level or UDPDISCOVER_LOG_LEVEL is set.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// An empty level falls back to UDPDISCOVER_LOG_LEVEL, then to silent
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default from "+logging.LogLevelEnvVar)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&ifaceIP, "interface", "", "Scan only this interface address instead of all interfaces")
	rootCmd.PersistentFlags().StringVar(&ifaceMask, "mask", "", "Subnet mask for --interface (default 255.255.255.0)")

	rootCmd.AddCommand(versionCmd)
}

// loadRegistry reads --config when set, the user config file otherwise.
func loadRegistry() (*config.Registry, error) {
	if configPath != "" {
		return config.LoadRegistryFrom(configPath)
	}
	return config.LoadRegistry()
}

// saveRegistry writes reg back to where loadRegistry read it from.
func saveRegistry(reg *config.Registry) error {
	if configPath != "" {
		return reg.SaveTo(configPath)
	}
	return reg.Save()
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			return writeJSON(cmd.OutOrStdout(), version.Get())
		}
		info := version.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "udpdiscover %s (commit: %s, %s, %s)\n", info.Version, info.Commit, info.GoVersion, info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
}
