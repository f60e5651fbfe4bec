package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/multierr"

	"github.com/muurk/udpdiscovery/internal/discovery"
)

// refreshInterval is how often the scan window bar is redrawn
const refreshInterval = 100 * time.Millisecond

// WatchConfig configures the live scan view
type WatchConfig struct {
	Detector *discovery.Detector
	Request  discovery.ScanRequest
	Interval time.Duration // Pause between the end of one scan and the next
	Title    string
}

type (
	scanStartedMsg struct{ session *discovery.Session }
	scanEventMsg   struct {
		session *discovery.Session
		pkg     discovery.DeviceInfoPackage
	}
	scanDoneMsg struct {
		session *discovery.Session
		err     error
	}
	scanFailedMsg struct{ err error }
	rescanMsg     struct{}
	refreshMsg    time.Time
)

// WatchDevice aggregates the replies of one device on one interface
type WatchDevice struct {
	Last      discovery.DeviceInfoPackage
	Replies   int
	FirstSeen time.Time
}

// WatchModel is a Bubble Tea model that rescans periodically and keeps a
// table of every device that answered.
type WatchModel struct {
	ctx    context.Context
	cancel context.CancelFunc
	config WatchConfig

	spinner spinner.Model
	bar     progress.Model
	table   table.Model

	devices   map[string]*WatchDevice
	session   *discovery.Session
	scanStart time.Time
	scanning  bool
	scans     int
	failures  int
	err       error
	width     int
}

// NewWatchModel creates the live view. Cancelling ctx stops the current scan.
func NewWatchModel(ctx context.Context, config WatchConfig) WatchModel {
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if config.Title == "" {
		config.Title = "Watching for devices"
	}
	ctx, cancel := context.WithCancel(ctx)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)

	t := table.New(
		table.WithColumns(watchColumns(MinTerminalWidth)),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(MutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(PrimaryColor).
		Bold(false)
	t.SetStyles(styles)

	width, _ := GetTerminalSize()
	m := WatchModel{
		ctx:     ctx,
		cancel:  cancel,
		config:  config,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		table:   t,
		devices: make(map[string]*WatchDevice),
	}
	m.resize(width)
	return m
}

func watchColumns(width int) []table.Column {
	payload := width - 22 - 16 - 8 - 10 - 12
	if payload < 12 {
		payload = 12
	}
	return []table.Column{
		{Title: "Device", Width: 22},
		{Title: "Interface", Width: 16},
		{Title: "Replies", Width: 8},
		{Title: "Payload", Width: payload},
		{Title: "Last seen", Width: 10},
	}
}

func (m *WatchModel) resize(width int) {
	m.width = width
	m.table.SetColumns(watchColumns(width))
	m.table.SetWidth(width)
	barWidth := width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	m.bar.Width = barWidth
}

// Init implements tea.Model
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startScan(), refresh())
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m WatchModel) startScan() tea.Cmd {
	ctx, detector, req := m.ctx, m.config.Detector, m.config.Request
	return func() tea.Msg {
		s, err := detector.Start(ctx, req)
		if err != nil {
			return scanFailedMsg{err: err}
		}
		return scanStartedMsg{session: s}
	}
}

// waitForEvent reads one event; the next read is scheduled by Update.
func waitForEvent(s *discovery.Session) tea.Cmd {
	return func() tea.Msg {
		pkg, ok := <-s.Events()
		if !ok {
			return scanDoneMsg{session: s, err: s.Wait()}
		}
		return scanEventMsg{session: s, pkg: pkg}
	}
}

// Update implements tea.Model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "r":
			if !m.scanning {
				return m, m.startScan()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		w := msg.Width
		if w > MaxContentWidth {
			w = MaxContentWidth
		}
		m.resize(w)
		return m, nil

	case scanStartedMsg:
		m.session = msg.session
		m.scanning = true
		m.scanStart = time.Now()
		return m, waitForEvent(msg.session)

	case scanEventMsg:
		m.record(msg.pkg)
		return m, waitForEvent(msg.session)

	case scanDoneMsg:
		m.scanning = false
		m.session = nil
		m.scans++
		m.failures = len(multierr.Errors(msg.err))
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, tea.Tick(m.config.Interval, func(time.Time) tea.Msg { return rescanMsg{} })

	case scanFailedMsg:
		m.err = msg.err
		m.cancel()
		return m, tea.Quit

	case rescanMsg:
		if m.ctx.Err() != nil || m.scanning {
			return m, nil
		}
		return m, m.startScan()

	case refreshMsg:
		return m, refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *WatchModel) record(pkg discovery.DeviceInfoPackage) {
	key := pkg.Address() + "@" + pkg.Interface.IPAddress
	d, ok := m.devices[key]
	if !ok {
		d = &WatchDevice{FirstSeen: pkg.ReceivedAt}
		m.devices[key] = d
	}
	d.Last = pkg
	d.Replies++

	devices := m.Devices()
	rows := make([]table.Row, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, table.Row{
			d.Last.Address(),
			d.Last.Interface.IPAddress,
			fmt.Sprintf("%d", d.Replies),
			PayloadPreview(d.Last.ReceivedData),
			d.Last.ReceivedAt.Format(time.TimeOnly),
		})
	}
	m.table.SetRows(rows)
}

// Devices returns the devices seen so far ordered by address
func (m WatchModel) Devices() []WatchDevice {
	out := make([]WatchDevice, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Last.Address() != out[j].Last.Address() {
			return out[i].Last.Address() < out[j].Last.Address()
		}
		return out[i].Last.Interface.IPAddress < out[j].Last.Interface.IPAddress
	})
	return out
}

// Err returns the error that stopped the view, if any
func (m WatchModel) Err() error {
	return m.err
}

// Drain consumes the rest of an in-flight scan so its sockets are released.
// Call it after the program has exited. A scan whose start was never seen
// by the model ends on its own once the context is cancelled here.
func (m WatchModel) Drain() {
	m.cancel()
	if m.session == nil {
		return
	}
	for range m.session.Events() {
	}
	_ = m.session.Wait()
}

// View implements tea.Model
func (m WatchModel) View() string {
	var b strings.Builder

	b.WriteString(HeaderTitleStyle.Render(strings.ToUpper(m.config.Title)))
	b.WriteString("\n")
	b.WriteString(HeaderCommandStyle.Render(fmt.Sprintf("port %d · %s · every %v",
		m.config.Request.DeviceListeningPort, PayloadPreview(m.config.Request.HelloPayload), m.config.Interval)))
	b.WriteString("\n\n")

	if m.scanning {
		percent := float64(time.Since(m.scanStart)) / float64(m.config.Request.ReceiveTimeout)
		if percent > 1 {
			percent = 1
		}
		b.WriteString(ProgressLabelStyle.Render(fmt.Sprintf("%s Scan %d", m.spinner.View(), m.scans+1)))
		b.WriteString("  ")
		b.WriteString(m.bar.ViewAs(percent))
	} else {
		b.WriteString(ProgressLabelStyle.Render(fmt.Sprintf("%s Waiting to rescan", StepMarkerPending)))
	}
	b.WriteString("\n")

	status := fmt.Sprintf("%s found · %d scans", pluralize(len(m.devices), "device", "devices"), m.scans)
	if m.failures > 0 {
		status += " · " + ErrorMessageStyle.Render(pluralize(m.failures, "interface failed", "interfaces failed"))
	}
	b.WriteString(StepNoteStyle.PaddingLeft(2).Render(status))
	b.WriteString("\n\n")

	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	b.WriteString(StepPendingStyle.PaddingLeft(2).Render("↑/↓ select · r rescan · q quit"))
	b.WriteString("\n")

	return b.String()
}
