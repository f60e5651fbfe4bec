package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/multierr"

	"github.com/muurk/udpdiscovery/internal/discovery"
	"github.com/muurk/udpdiscovery/internal/netif"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending  StepStatus = iota // Not yet started
	StepRunning                    // Currently executing
	StepComplete                   // Successfully completed
	StepFailed                     // Failed
)

// Step is one interface of a scan
type Step struct {
	Number  int        // Step number (1-based)
	Name    string     // Interface in "ip/mask" form
	Status  StepStatus // Current status
	Message string     // Optional status message (e.g., "2 replies")
}

// Progress shows a bar and one line per scanned interface
type Progress struct {
	Label     string  // e.g., "Broadcasting hello..."
	Steps     []Step  // One step per interface
	Percent   float64 // Progress percentage (0.0 - 1.0)
	Width     int     // Terminal width
	ShowBar   bool    // Whether to show progress bar
	ShowSteps bool    // Whether to show step list
	bar       progress.Model
}

// NewProgress creates a progress display with one pending step per interface
func NewProgress(label string, ifaces []netif.Descriptor) *Progress {
	steps := make([]Step, len(ifaces))
	for i, iface := range ifaces {
		steps[i] = Step{
			Number: i + 1,
			Name:   iface.String(),
			Status: StepPending,
		}
	}

	p := &Progress{
		Label:     label,
		Steps:     steps,
		ShowBar:   true,
		ShowSteps: true,
	}
	return p.SetWidth(GetTerminalWidth())
}

// SetWidth sets the terminal width for responsive rendering
func (p *Progress) SetWidth(width int) *Progress {
	p.Width = width
	barWidth := width - 20 // Leave room for percentage and step count
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	p.bar = progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
	)
	return p
}

// UpdateStep updates a specific step's status and optional message
func (p *Progress) UpdateStep(stepNumber int, status StepStatus, message string) {
	if stepNumber < 1 || stepNumber > len(p.Steps) {
		return
	}
	idx := stepNumber - 1
	p.Steps[idx].Status = status
	p.Steps[idx].Message = message

	done := 0
	for _, s := range p.Steps {
		if s.Status == StepComplete || s.Status == StepFailed {
			done++
		}
	}
	p.Percent = float64(done) / float64(len(p.Steps))
}

// StartAll marks every interface as running
func (p *Progress) StartAll() {
	for i := range p.Steps {
		p.UpdateStep(i+1, StepRunning, "")
	}
}

// Finish marks each interface complete with its reply count, or failed with
// the error recorded for it in scanErr.
func (p *Progress) Finish(pkgs []discovery.DeviceInfoPackage, scanErr error) {
	failed := make(map[string]error)
	for _, err := range multierr.Errors(scanErr) {
		var se *discovery.ScanError
		if errors.As(err, &se) && se.Interface != "" {
			failed[se.Interface] = se
		}
	}

	replies := make(map[string]int)
	for _, pkg := range pkgs {
		replies[pkg.Interface.IPAddress]++
	}

	for i, step := range p.Steps {
		ip, _, _ := strings.Cut(step.Name, "/")
		if err, ok := failed[ip]; ok {
			p.UpdateStep(i+1, StepFailed, err.Error())
			continue
		}
		p.UpdateStep(i+1, StepComplete, pluralize(replies[ip], "reply", "replies"))
	}
}

// Render returns the styled progress display as a string
func (p *Progress) Render() string {
	var b strings.Builder

	if p.Label != "" {
		b.WriteString(ProgressLabelStyle.Render(p.Label))
		b.WriteString("\n\n")
	}

	if p.ShowBar {
		b.WriteString(p.renderProgressBar())
		b.WriteString("\n\n")
	}

	if p.ShowSteps {
		lines := make([]string, 0, len(p.Steps))
		for _, step := range p.Steps {
			lines = append(lines, p.renderStepLine(step))
		}
		b.WriteString(strings.Join(lines, "\n"))
	}

	return b.String()
}

func (p *Progress) renderProgressBar() string {
	done := int(p.Percent*float64(len(p.Steps)) + 0.5)
	return lipgloss.NewStyle().
		PaddingLeft(2).
		Render(fmt.Sprintf("%s  %3.0f%%  [%d/%d]", p.bar.ViewAs(p.Percent), p.Percent*100, done, len(p.Steps)))
}

func (p *Progress) renderStepLine(step Step) string {
	prefix := fmt.Sprintf("  [%d/%d]", step.Number, len(p.Steps))

	var marker string
	var style lipgloss.Style
	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(" ")
	b.WriteString(style.Render(step.Name))

	// Keep markers in one column
	padding := 36 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}

	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
