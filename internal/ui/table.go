package ui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/muurk/udpdiscovery/internal/discovery"
)

// deviceColumns are shared by the static table and the live view
var deviceColumns = []string{"Device", "Interface", "Bytes", "Payload", "Received"}

// deviceRow formats one response for a table
func deviceRow(pkg discovery.DeviceInfoPackage) []string {
	return []string{
		pkg.Address(),
		pkg.Interface.IPAddress,
		fmt.Sprintf("%d", len(pkg.ReceivedData)),
		PayloadPreview(pkg.ReceivedData),
		pkg.ReceivedAt.Format(time.TimeOnly),
	}
}

// RenderDeviceTable renders responses as a bordered table, ordered by
// device address.
func RenderDeviceTable(pkgs []discovery.DeviceInfoPackage, width int) string {
	sorted := make([]discovery.DeviceInfoPackage, len(pkgs))
	copy(sorted, pkgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Address() < sorted[j].Address()
	})

	rows := make([][]string, 0, len(sorted))
	for _, pkg := range sorted {
		rows = append(rows, deviceRow(pkg))
	}

	headerStyle := lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Foreground(TextColor).Padding(0, 1)
	addrStyle := DeviceAddressStyle.Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(MutedColor)).
		Headers(deviceColumns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return addrStyle
			default:
				return cellStyle
			}
		})
	if width > 0 {
		t = t.Width(width)
	}
	return t.Render()
}
