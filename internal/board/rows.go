package board

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agent-central/central/internal/registry"
)

// statusRank orders sessions within a group: working first, then
// waiting, then the terminal states.
func statusRank(s registry.Status) int {
	switch s {
	case registry.StatusRunning:
		return 0
	case registry.StatusIdle:
		return 1
	case registry.StatusDone:
		return 2
	case registry.StatusKilled:
		return 3
	case registry.StatusFailed:
		return 4
	}
	return 99
}

// row is one display line: either a group header or a session.
type row struct {
	header  bool
	group   string
	count   int
	session registry.Session
	flatIdx int
}

// visibleSessions applies the consumer-side visibility window:
// non-terminal sessions always show; terminal ones only until the
// window after finishing elapses.
func visibleSessions(sessions []registry.Session, now time.Time, window time.Duration) []registry.Session {
	var out []registry.Session
	for _, s := range sessions {
		if !s.Status.Terminal() {
			out = append(out, s)
			continue
		}
		if !s.FinishedAt.IsZero() && now.Sub(s.FinishedAt) < window {
			out = append(out, s)
		}
	}
	return out
}

// buildRows groups visible sessions by directory bucket and orders
// groups by their best status, alphabetical on ties. Returns the
// display rows and the flat selectable session list.
func buildRows(visible []registry.Session) ([]row, []registry.Session) {
	groups := make(map[string][]registry.Session)
	for _, s := range visible {
		groups[s.Group] = append(groups[s.Group], s)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		sort.SliceStable(groups[name], func(i, j int) bool {
			return statusRank(groups[name][i].Status) < statusRank(groups[name][j].Status)
		})
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		bi := statusRank(groups[names[i]][0].Status)
		bj := statusRank(groups[names[j]][0].Status)
		if bi != bj {
			return bi < bj
		}
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	var rows []row
	var flat []registry.Session
	for _, name := range names {
		rows = append(rows, row{header: true, group: name, count: len(groups[name])})
		for _, s := range groups[name] {
			rows = append(rows, row{session: s, flatIdx: len(flat)})
			flat = append(flat, s)
		}
	}
	return rows, flat
}

// formatElapsed renders a duration the arrival-board way: 42s, 3m05s,
// 1h02m.
func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// elapsedFor picks the time base per status: running sessions count
// from when work started, waiting ones from registration, finished
// ones show total lifetime.
func elapsedFor(s registry.Session, now time.Time) time.Duration {
	switch {
	case s.Status == registry.StatusRunning:
		start := s.WorkStartedAt
		if start.IsZero() {
			start = s.CreatedAt
		}
		return now.Sub(start)
	case s.Status.Terminal() && !s.FinishedAt.IsZero():
		return s.FinishedAt.Sub(s.CreatedAt)
	default:
		return now.Sub(s.CreatedAt)
	}
}

// statusLabel is the column text for a status.
func statusLabel(s registry.Session) string {
	switch s.Status {
	case registry.StatusRunning:
		return "Running"
	case registry.StatusIdle:
		return "Waiting"
	case registry.StatusDone:
		return "Complete"
	case registry.StatusKilled:
		return "Killed"
	case registry.StatusFailed:
		if s.ExitCode != nil {
			return fmt.Sprintf("Failed (%d)", *s.ExitCode)
		}
		return "Failed"
	}
	return string(s.Status)
}

// buildTicker assembles the scrolling footer line from live session
// info.
func buildTicker(visible []registry.Session, total int64, now time.Time, dot string) string {
	parts := []string{
		fmt.Sprintf("Welcome to Agent Central %s Sessions are auto-detected %s Status updates every 2s", dot, dot),
	}
	if total > 0 {
		parts = append(parts, fmt.Sprintf("%d total sessions", total))
	}

	var last *registry.Session
	for i := range visible {
		s := &visible[i]
		if !s.Status.Terminal() || s.FinishedAt.IsZero() {
			continue
		}
		if last == nil || s.FinishedAt.After(last.FinishedAt) {
			last = s
		}
	}
	if last != nil {
		ago := int(now.Sub(last.FinishedAt).Seconds())
		agoStr := fmt.Sprintf("%ds ago", ago)
		if ago >= 60 {
			agoStr = fmt.Sprintf("%dm ago", ago/60)
		}
		name := last.Name
		if len(name) > 16 {
			name = name[:16]
		}
		parts = append(parts, fmt.Sprintf("last done: %s %s", name, agoStr))
	}

	running := 0
	for _, s := range visible {
		if s.Status == registry.StatusRunning {
			running++
		}
	}
	if running > 0 {
		parts = append(parts, fmt.Sprintf("%d active now", running))
	}

	return strings.Join(parts, fmt.Sprintf(" %s ", dot))
}

// scrollTicker returns the window of the ticker text at offset,
// wrapping around with a short gap.
func scrollTicker(text string, offset, width int) string {
	if width <= 0 || text == "" {
		return ""
	}
	padded := text + "   "
	runes := []rune(padded)
	idx := offset % len(runes)
	doubled := append(append([]rune{}, runes[idx:]...), runes...)
	if len(doubled) > width {
		doubled = doubled[:width]
	}
	return string(doubled)
}
