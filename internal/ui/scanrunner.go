package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/multierr"

	"github.com/muurk/udpdiscovery/internal/discovery"
)

// ScanRunnerConfig holds configuration for one rendered scan
type ScanRunnerConfig struct {
	Title   string    // Command title (e.g., "Device Scan")
	Command string    // Full command (e.g., "udpdiscover scan --profile brd")
	Params  []Param   // Parameters to display in header
	Verbose bool      // Whether to show payload dumps
	Output  io.Writer // Output writer (default: os.Stdout)
}

// ScanRunner orchestrates the UI for a scan: header, per-interface
// progress, then a result box with the responding devices.
type ScanRunner struct {
	config ScanRunnerConfig
	output io.Writer
	width  int
}

// NewScanRunner creates a new runner
func NewScanRunner(config ScanRunnerConfig) *ScanRunner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	return &ScanRunner{
		config: config,
		output: config.Output,
		width:  GetTerminalWidth(),
	}
}

// SetWidth overrides the detected terminal width
func (r *ScanRunner) SetWidth(width int) *ScanRunner {
	r.width = width
	return r
}

// Run starts a scan with detector, renders it and returns every response.
// Only errors that prevented the scan from starting are returned.
func (r *ScanRunner) Run(ctx context.Context, detector *discovery.Detector, req discovery.ScanRequest) ([]discovery.DeviceInfoPackage, error) {
	start := time.Now()

	header := NewHeader(r.config.Title, r.config.Command, r.config.Params).SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, header.Render())
	_, _ = fmt.Fprintln(r.output)

	session, err := detector.Start(ctx, req)
	if err != nil {
		r.printFailure(err)
		return nil, err
	}

	label := fmt.Sprintf("Broadcasting hello on %s, listening for %v...",
		pluralize(len(session.Interfaces()), "interface", "interfaces"), req.ReceiveTimeout)
	prog := NewProgress(label, session.Interfaces()).SetWidth(r.width)
	prog.ShowBar = false
	prog.StartAll()
	_, _ = fmt.Fprintln(r.output, ProgressLabelStyle.Render(label))

	pkgs := make([]discovery.DeviceInfoPackage, 0)
	for pkg := range session.Events() {
		pkgs = append(pkgs, pkg)
	}
	scanErr := session.Wait()

	prog.Label = ""
	prog.Finish(pkgs, scanErr)
	_, _ = fmt.Fprintln(r.output)
	_, _ = fmt.Fprintln(r.output, prog.Render())
	_, _ = fmt.Fprintln(r.output)

	r.printResult(pkgs, scanErr, len(session.Interfaces()), time.Since(start))
	return pkgs, nil
}

func (r *ScanRunner) printResult(pkgs []discovery.DeviceInfoPackage, scanErr error, ifaceCount int, duration time.Duration) {
	failures := len(multierr.Errors(scanErr))
	details := []Param{
		{Key: "Interfaces", Value: fmt.Sprintf("%d scanned, %d failed", ifaceCount, failures)},
		{Key: "Duration", Value: duration.Round(time.Millisecond).String()},
	}

	switch {
	case ifaceCount > 0 && failures == ifaceCount:
		result := NewFailureResult("No interface could be scanned", scanErr, ScanTroubleshooting(scanErr)).SetWidth(r.width)
		_, _ = fmt.Fprintln(r.output, result.Render())
		return

	case len(pkgs) == 0:
		result := NewWarningResult("No devices responded", details, ScanTroubleshooting(nil)).SetWidth(r.width)
		_, _ = fmt.Fprintln(r.output, result.Render())
		return
	}

	title := pluralize(len(pkgs), "response", "responses") + " received"
	result := NewSuccessResult(title, details).SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, result.Render())
	_, _ = fmt.Fprintln(r.output)

	if r.config.Verbose {
		_, _ = fmt.Fprintln(r.output, RenderDeviceDetails(pkgs, r.width))
	} else {
		_, _ = fmt.Fprintln(r.output, RenderDeviceTable(pkgs, r.width))
	}
}

func (r *ScanRunner) printFailure(err error) {
	result := NewFailureResult(r.config.Title+" failed", err, ScanTroubleshooting(err)).SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, result.Render())
}

// PrintPleaseWait prints a styled "please wait" message for long-running operations.
func PrintPleaseWait(w io.Writer, message string, durationHint string) {
	style := lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Bold(true).
		PaddingLeft(2)

	hintStyle := lipgloss.NewStyle().
		Foreground(MutedColor).
		Italic(true)

	line := style.Render("⏳ " + message)
	if durationHint != "" {
		line += " " + hintStyle.Render("("+durationHint+")")
	}
	line += style.Render("...")

	_, _ = fmt.Fprintln(w, line)
}
