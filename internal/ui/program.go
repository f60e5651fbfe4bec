package ui

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/muurk/udpdiscovery/internal/netif"
)

// RunWatch runs the live view until the user quits or ctx is done, and
// returns the devices seen. Sockets of an in-flight scan are released
// before it returns.
func RunWatch(ctx context.Context, config WatchConfig, opts ...tea.ProgramOption) ([]WatchDevice, error) {
	model := NewWatchModel(ctx, config)
	p := tea.NewProgram(model, opts...)

	stop := context.AfterFunc(ctx, p.Quit)
	defer stop()

	final, err := p.Run()
	wm, ok := final.(WatchModel)
	if !ok {
		model.Drain()
		return nil, err
	}
	wm.Drain()

	if err != nil {
		return wm.Devices(), err
	}
	return wm.Devices(), wm.Err()
}

// Printer provides methods for printing UI components to a writer.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// Width returns the current terminal width used by this printer
func (p *Printer) Width() int {
	return p.width
}

// Print writes content to the output
func (p *Printer) Print(content string) {
	_, _ = fmt.Fprint(p.out, content)
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params []Param) {
	p.Println(NewHeader(title, command, params).SetWidth(p.width).Render())
	p.Newline()
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details []Param) {
	p.Println(NewSuccessResult(title, details).SetWidth(p.width).Render())
}

// PrintFailure prints an error result box with troubleshooting tips
func (p *Printer) PrintFailure(title string, err error, troubleshooting []string) {
	p.Println(NewFailureResult(title, err, troubleshooting).SetWidth(p.width).Render())
}

// PrintWarning prints a warning result box
func (p *Printer) PrintWarning(title string, details []Param, troubleshooting []string) {
	p.Println(NewWarningResult(title, details, troubleshooting).SetWidth(p.width).Render())
}

// PrintInterfaces prints the interfaces a scan would use
func (p *Printer) PrintInterfaces(ifaces []netif.Descriptor) {
	rows := make([][]string, 0, len(ifaces))
	for _, iface := range ifaces {
		broadcast := "-"
		if b := iface.BroadcastAddress(); b != nil {
			broadcast = b.String()
		}
		rows = append(rows, []string{iface.IPAddress, iface.SubnetMask, broadcast})
	}

	t := table.New().
		Headers("Address", "Subnet mask", "Broadcast").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderParamKeyStyle.Bold(true)
			}
			return HeaderParamValueStyle.PaddingLeft(2)
		})
	p.Println(t.Render())
}
