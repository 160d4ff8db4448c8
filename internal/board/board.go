// Package board renders the live session list as a terminal arrival
// board. It is a read-mostly consumer: every frame starts from a fresh
// registry snapshot, never from shared state.
package board

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agent-central/central/internal/registry"
)

// SnapshotSource is what the board reads each frame.
type SnapshotSource interface {
	Snapshot() []registry.Session
	TotalCreated() int64
}

// Killer terminates a session's processes and records the outcome.
// The board calls it off the update loop so a slow kill never freezes
// rendering.
type Killer interface {
	Kill(s registry.Session)
}

type Options struct {
	Visibility time.Duration
	Flash      time.Duration
	ASCII      bool
	AllowKill  bool
}

type glyphSet struct {
	runningOn  string
	runningOff string
	waiting    string
	done       string
	killed     string
	failed     string
	dot        string
}

var unicodeGlyphs = glyphSet{
	runningOn:  "●",
	runningOff: "○",
	waiting:    "·",
	done:       "✓",
	killed:     "✗",
	failed:     "✗",
	dot:        "▪",
}

var asciiGlyphs = glyphSet{
	runningOn:  "*",
	runningOff: "o",
	waiting:    ".",
	done:       "+",
	killed:     "x",
	failed:     "x",
	dot:        "*",
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("17"))
	groupStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	runningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	waitingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	killedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("135"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("236"))
	flashStyle    = lipgloss.NewStyle().Reverse(true)
	tickerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	promptStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	frameStyle    = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("214")).Padding(0, 1)
)

type Model struct {
	source SnapshotSource
	killer Killer
	opts   Options
	glyphs glyphSet

	width  int
	height int

	rows []row
	flat []registry.Session
	now  time.Time

	selected     int
	confirmKill  bool
	tickerOffset int
	tickerText   string
}

type frameMsg time.Time

type killDoneMsg struct{ id string }

func New(source SnapshotSource, killer Killer, opts Options) Model {
	glyphs := unicodeGlyphs
	if opts.ASCII {
		glyphs = asciiGlyphs
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 30 * time.Second
	}
	if opts.Flash <= 0 {
		opts.Flash = 2 * time.Second
	}
	m := Model{
		source: source,
		killer: killer,
		opts:   opts,
		glyphs: glyphs,
		width:  80,
		height: 24,
	}
	m.refresh(time.Now())
	return m
}

func frameTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return frameTick()
}

// refresh re-snapshots the registry and rebuilds display rows.
func (m *Model) refresh(now time.Time) {
	m.now = now
	visible := visibleSessions(m.source.Snapshot(), now, m.opts.Visibility)
	m.rows, m.flat = buildRows(visible)
	m.tickerText = buildTicker(visible, m.source.TotalCreated(), now, m.glyphs.dot)
	m.clampSelection()
}

func (m *Model) clampSelection() {
	if len(m.flat) == 0 {
		m.selected = 0
		m.confirmKill = false
		return
	}
	if m.selected >= len(m.flat) {
		m.selected = len(m.flat) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case frameMsg:
		m.refresh(time.Time(msg))
		m.tickerOffset++
		return m, frameTick()

	case killDoneMsg:
		m.refresh(time.Now())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmKill {
		switch msg.String() {
		case "y", "Y":
			m.confirmKill = false
			if m.selected < len(m.flat) {
				return m, m.killCmd(m.flat[m.selected])
			}
			return m, nil
		case "n", "N", "esc":
			m.confirmKill = false
			return m, nil
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up":
		m.selected--
		m.clampSelection()
	case "down":
		m.selected++
		m.clampSelection()
	case "k":
		if !m.opts.AllowKill || m.killer == nil {
			return m, nil
		}
		if m.selected < len(m.flat) && !m.flat[m.selected].Status.Terminal() {
			m.confirmKill = true
		}
	}
	return m, nil
}

func (m Model) killCmd(s registry.Session) tea.Cmd {
	return func() tea.Msg {
		m.killer.Kill(s)
		return killDoneMsg{id: s.ID}
	}
}

func (m Model) View() string {
	innerWidth := m.width - 4
	if innerWidth < 40 {
		innerWidth = 40
	}

	var b strings.Builder

	clock := m.now.Format("15:04:05")
	title := titleStyle.Render("AGENT CENTRAL")
	gap := innerWidth - lipgloss.Width(title) - len(clock)
	if gap < 1 {
		gap = 1
	}
	b.WriteString(title + strings.Repeat(" ", gap) + dimStyle.Render(clock) + "\n")

	b.WriteString(headerStyle.Render(padLine(fmt.Sprintf("  %-*s %-12s %8s", innerWidth-24, "DESTINATION", "STATUS", "TIME"), innerWidth)) + "\n")

	if len(m.rows) == 0 {
		b.WriteString("\n" + dimStyle.Render("  no sessions on the board") + "\n\n")
	}

	maxRows := m.height - 8
	if maxRows < 3 {
		maxRows = 3
	}
	start := m.scrollStart(maxRows)
	end := start + maxRows
	if end > len(m.rows) {
		end = len(m.rows)
	}
	for _, r := range m.rows[start:end] {
		b.WriteString(m.renderRow(r, innerWidth) + "\n")
	}

	rule := "─"
	if m.opts.ASCII {
		rule = "-"
	}
	b.WriteString(dimStyle.Render(strings.Repeat(rule, innerWidth)) + "\n")
	b.WriteString(m.renderSummary(innerWidth) + "\n")
	b.WriteString(tickerStyle.Render(scrollTicker(m.tickerText, m.tickerOffset, innerWidth)) + "\n")

	if m.confirmKill && m.selected < len(m.flat) {
		b.WriteString(promptStyle.Render(fmt.Sprintf("Kill %q? (y/n)", m.flat[m.selected].Name)))
	} else {
		help := "↑/↓ select  k kill  q quit"
		if m.opts.ASCII {
			help = "up/down select  k kill  q quit"
		}
		b.WriteString(dimStyle.Render(help))
	}

	return frameStyle.Width(innerWidth + 2).Render(b.String())
}

// scrollStart keeps the selected row inside the viewport.
func (m Model) scrollStart(maxRows int) int {
	if len(m.rows) <= maxRows {
		return 0
	}
	selRow := 0
	for i, r := range m.rows {
		if !r.header && r.flatIdx == m.selected {
			selRow = i
			break
		}
	}
	start := selRow - maxRows/2
	if start < 0 {
		start = 0
	}
	if start > len(m.rows)-maxRows {
		start = len(m.rows) - maxRows
	}
	return start
}

func (m Model) renderRow(r row, width int) string {
	if r.header {
		label := fmt.Sprintf("%s (%d)", r.group, r.count)
		return groupStyle.Render(padLine(" "+label, width))
	}

	s := r.session
	glyph := m.statusGlyph(s)
	nameWidth := width - 25
	if nameWidth < 8 {
		nameWidth = 8
	}
	name := s.Name
	if runes := []rune(name); len(runes) > nameWidth {
		ellipsis := "…"
		if m.opts.ASCII {
			ellipsis = "~"
		}
		name = string(runes[:nameWidth-1]) + ellipsis
	}
	line := fmt.Sprintf(" %s %-*s %-12s %8s", glyph, nameWidth, name, statusLabel(s), formatElapsed(elapsedFor(s, m.now)))

	style := m.statusStyle(s.Status)
	if !s.LastStatusChangeAt.IsZero() && m.now.Sub(s.LastStatusChangeAt) < m.opts.Flash {
		style = flashStyle
	}
	if r.flatIdx == m.selected {
		style = selectedStyle
	}
	return style.Render(padLine(line, width))
}

func (m Model) statusGlyph(s registry.Session) string {
	switch s.Status {
	case registry.StatusRunning:
		// Blink at the frame cadence.
		if (m.now.UnixMilli()/500)%2 == 0 {
			return m.glyphs.runningOn
		}
		return m.glyphs.runningOff
	case registry.StatusIdle:
		return m.glyphs.waiting
	case registry.StatusDone:
		return m.glyphs.done
	case registry.StatusKilled:
		return m.glyphs.killed
	case registry.StatusFailed:
		return m.glyphs.failed
	}
	return " "
}

func (m Model) statusStyle(s registry.Status) lipgloss.Style {
	switch s {
	case registry.StatusRunning:
		return runningStyle
	case registry.StatusIdle:
		return waitingStyle
	case registry.StatusDone:
		return doneStyle
	case registry.StatusKilled:
		return killedStyle
	case registry.StatusFailed:
		return failedStyle
	}
	return waitingStyle
}

func (m Model) renderSummary(width int) string {
	running, waiting := 0, 0
	for _, s := range m.flat {
		switch s.Status {
		case registry.StatusRunning:
			running++
		case registry.StatusIdle:
			waiting++
		}
	}
	var text string
	switch {
	case running == 0 && waiting == 0:
		text = "All quiet"
	default:
		text = fmt.Sprintf("%d running / %d waiting", running, waiting)
	}
	return dimStyle.Render(padLine(" "+text, width))
}

func padLine(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
