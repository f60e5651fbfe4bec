package ui

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// PayloadBox is a box showing a canonical hex dump of a datagram.
type PayloadBox struct {
	Title    string   // e.g., "Payload from 192.168.1.20:12000"
	Lines    []string // Dump lines
	Width    int      // Terminal width
	MaxLines int      // Maximum lines to display (0 = unlimited)
}

// NewPayloadBox creates a payload box for data
func NewPayloadBox(title string, data []byte) *PayloadBox {
	dump := strings.TrimRight(hex.Dump(data), "\n")
	var lines []string
	if dump != "" {
		lines = strings.Split(dump, "\n")
	}
	return &PayloadBox{
		Title: title,
		Lines: lines,
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (p *PayloadBox) SetWidth(width int) *PayloadBox {
	p.Width = width
	return p
}

// SetMaxLines limits the number of dump lines displayed
func (p *PayloadBox) SetMaxLines(max int) *PayloadBox {
	p.MaxLines = max
	return p
}

// Render returns the styled payload box as a string
func (p *PayloadBox) Render() string {
	width := p.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	lines := p.Lines
	truncated := 0
	if p.MaxLines > 0 && len(lines) > p.MaxLines {
		truncated = len(lines) - p.MaxLines
		lines = lines[:p.MaxLines]
	}

	content := []string{PayloadTitleStyle.Render(p.Title)}
	if len(lines) == 0 {
		content = append(content, StepNoteStyle.Render("(empty)"))
	}
	for _, line := range lines {
		content = append(content, PayloadContentStyle.Render(line))
	}
	if truncated > 0 {
		content = append(content, StepNoteStyle.Render(fmt.Sprintf("... %d more lines", truncated)))
	}

	return PayloadBoxStyle(width).Render(strings.Join(content, "\n"))
}

// String implements fmt.Stringer
func (p *PayloadBox) String() string {
	return p.Render()
}
