package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/udpdiscovery/internal/discovery"
	"github.com/muurk/udpdiscovery/internal/logging"
)

// previewBytes caps the hex preview in compact and table output
const previewBytes = 16

// RenderDeviceDetails renders one block per response with its payload dump.
func RenderDeviceDetails(pkgs []discovery.DeviceInfoPackage, width int) string {
	blocks := make([]string, 0, len(pkgs))
	for i, pkg := range pkgs {
		title := DeviceAddressStyle.Render(fmt.Sprintf("  Device %d: %s", i+1, pkg.Address()))

		details := []string{
			title,
			detailLine("Interface", pkg.Interface.String()),
			detailLine("Received", pkg.ReceivedAt.Format(time.RFC3339Nano)),
			detailLine("Size", fmt.Sprintf("%d bytes", len(pkg.ReceivedData))),
			detailLine("ASCII", logging.ASCIIDump(pkg.ReceivedData)),
		}

		box := NewPayloadBox("Payload", pkg.ReceivedData).SetWidth(width).SetMaxLines(16)
		blocks = append(blocks, lipgloss.JoinVertical(lipgloss.Left, strings.Join(details, "\n"), box.Render()))
	}
	return strings.Join(blocks, "\n\n")
}

func detailLine(key, value string) string {
	return ResultKeyStyle.Render("    "+key+":") + " " + ResultValueStyle.Render(value)
}

// FormatCompact returns one unstyled line per response, suitable for pipes.
func FormatCompact(pkgs []discovery.DeviceInfoPackage) string {
	var b strings.Builder
	for _, pkg := range pkgs {
		fmt.Fprintf(&b, "%s\t%s\t%d\t%s\n",
			pkg.Address(),
			pkg.Interface.IPAddress,
			len(pkg.ReceivedData),
			PayloadPreview(pkg.ReceivedData),
		)
	}
	return b.String()
}

// PayloadPreview returns the first bytes of data as spaced hex.
func PayloadPreview(data []byte) string {
	n := len(data)
	if n > previewBytes {
		n = previewBytes
	}

	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%02x", data[i])
	}
	preview := strings.Join(parts, " ")
	if len(data) > previewBytes {
		preview += " …"
	}
	return preview
}

// ScanTroubleshooting returns tips for a scan that failed or found nothing.
func ScanTroubleshooting(err error) []string {
	switch {
	case err == nil:
		return []string{
			"Check the device is powered and on the same network segment",
			"Verify the port and hello payload match the device family",
			"Inside a container, try --any-interface so replies to the host are accepted",
			"Try --response-port listen if devices answer on their own port",
			"Increase --timeout for slow devices",
		}
	case discovery.IsConfigurationError(err):
		return []string{
			"Check --port is between 0 and 65535",
			"The hello payload must not be empty (--hello or --hello-text)",
			"--response-port accepts send or listen",
		}
	case discovery.IsBindError(err):
		return []string{
			"Another program may hold the port; use --send-port 0",
			"Binding ports below 1024 may need elevated privileges",
			"Check the --interface address exists on this host",
		}
	default:
		return []string{
			"Run with --log-level debug for socket-level details",
			"Try: udpdiscover interfaces",
		}
	}
}

