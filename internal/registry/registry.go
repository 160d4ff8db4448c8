package registry

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status is the lifecycle state of a tracked session.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
	StatusKilled  Status = "KILLED"
)

// ExitCodeKilled is the conventional exit code recorded when a session
// is terminated with SIGTERM.
const ExitCodeKilled = -15

// DefaultGroup is the display bucket for sessions with no known
// working directory.
const DefaultGroup = "General"

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusKilled:
		return true
	}
	return false
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusDone, StatusFailed, StatusKilled:
		return true
	}
	return false
}

// ErrNotFound is returned by UpdateStatus for an unknown session ID.
var ErrNotFound = errors.New("not found")

// Session is one tracked unit of work, rooted at a shell process.
// Consumers only ever see copies; the registry owns the live records.
type Session struct {
	ID         string
	Name       string
	Status     Status
	ShellPID   int // 0 when unknown
	AgentPID   int // 0 until the agent child is adopted
	WorkingDir string
	Group      string

	CreatedAt     time.Time
	WorkStartedAt time.Time // zero until the first RUNNING transition
	FinishedAt    time.Time // zero while non-terminal
	ExitCode      *int

	LastCPUPercent float64
	// LastStatusChangeAt drives the board's flash highlight.
	LastStatusChangeAt time.Time

	highStreak int
	lowStreak  int
}

// Target is the classifier's view of a session worth monitoring.
type Target struct {
	ID       string
	ShellPID int
	AgentPID int
}

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "central_sessions_created_total",
		Help: "Sessions registered since startup.",
	})
	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "central_status_transitions_total",
		Help: "Session status transitions by target status.",
	}, []string{"status"})
)

// Registry is the single source of truth for session state. One lock
// guards the record set; the lock is held only for in-memory reads and
// writes, never across process or filesystem calls.
type Registry struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	totalCreated      int64
	hysteresisSamples int
}

// New creates an empty registry. hysteresisSamples is the number of
// consecutive same-side CPU samples required before the classifier
// flips IDLE/RUNNING; values below 1 are clamped to the reference 2.
func New(hysteresisSamples int) *Registry {
	if hysteresisSamples < 1 {
		hysteresisSamples = 2
	}
	return &Registry{
		sessions:          make(map[string]*Session),
		hysteresisSamples: hysteresisSamples,
	}
}

// Register creates a session record in IDLE. Registering an existing
// ID overwrites the old record (last writer wins).
func (r *Registry) Register(id, name string, shellPID int, workingDir string) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[id] = &Session{
		ID:                 id,
		Name:               name,
		Status:             StatusIdle,
		ShellPID:           shellPID,
		WorkingDir:         workingDir,
		Group:              DeriveGroup(workingDir),
		CreatedAt:          now,
		LastStatusChangeAt: now,
	}
	r.totalCreated++
	sessionsCreated.Inc()
}

// UpdateStatus applies an explicit status report. Unknown IDs fail
// with ErrNotFound. Updates against a terminal session are accepted
// but change nothing. Writing the current status again updates the
// exit code without resetting the flash timestamp.
func (r *Registry) UpdateStatus(id string, status Status, exitCode *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status.Terminal() {
		return nil
	}

	s.ExitCode = exitCode
	r.setStatusLocked(s, status, time.Now())
	return nil
}

// setStatusLocked performs the status transition bookkeeping. Caller
// holds the lock and has already rejected terminal sessions.
func (r *Registry) setStatusLocked(s *Session, status Status, now time.Time) {
	if status == s.Status {
		return
	}
	if status == StatusRunning {
		s.WorkStartedAt = now
	}
	if status.Terminal() {
		s.FinishedAt = now
	}
	s.Status = status
	s.LastStatusChangeAt = now
	statusTransitions.WithLabelValues(string(status)).Inc()
}

// Snapshot returns point-in-time copies of every session, ordered by
// creation time. Callers may not reach back into registry state
// through the result.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		copy := *s
		if s.ExitCode != nil {
			ec := *s.ExitCode
			copy.ExitCode = &ec
		}
		out = append(out, copy)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns a copy of one session.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	copy := *s
	if s.ExitCode != nil {
		ec := *s.ExitCode
		copy.ExitCode = &ec
	}
	return copy, true
}

// TotalCreated returns the monotonic count of Register calls.
func (r *Registry) TotalCreated() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalCreated
}

// MonitorTargets lists non-terminal sessions with a known root PID.
// The classifier queries processes against this list without holding
// the registry lock.
func (r *Registry) MonitorTargets() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var targets []Target
	for _, s := range r.sessions {
		if s.Status.Terminal() || s.ShellPID <= 0 {
			continue
		}
		targets = append(targets, Target{ID: s.ID, ShellPID: s.ShellPID, AgentPID: s.AgentPID})
	}
	return targets
}

// HasShellPID reports whether any session is already rooted at pid.
// Discovery uses this to avoid double-registering a session the
// registration API already reported.
func (r *Registry) HasShellPID(pid int) bool {
	if pid <= 0 {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.ShellPID == pid {
			return true
		}
	}
	return false
}

// AdoptAgentPID records the discovered agent child. The PID is set at
// most once and never reset while the session lives.
func (r *Registry) AdoptAgentPID(id string, pid int) {
	if pid <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Status.Terminal() || s.AgentPID != 0 {
		return
	}
	s.AgentPID = pid
}

// MarkDead transitions a session to DONE with exit code 0 after the
// classifier observed its process tree gone. Terminal sessions are
// left alone.
func (r *Registry) MarkDead(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Status.Terminal() {
		return
	}
	ec := 0
	s.ExitCode = &ec
	r.setStatusLocked(s, StatusDone, time.Now())
}

// MarkKilled records a user-initiated termination. Called after the
// kill attempt completed, so the KILLED state is only ever visible
// once termination was tried.
func (r *Registry) MarkKilled(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Status.Terminal() {
		return
	}
	ec := ExitCodeKilled
	s.ExitCode = &ec
	r.setStatusLocked(s, StatusKilled, time.Now())
}

// RecordCPUSample feeds one aggregate CPU observation into the
// hysteresis counters. A sample on one side of the threshold resets
// the opposite streak; only a full streak flips the status. Returns
// the session status after the sample and whether it changed.
func (r *Registry) RecordCPUSample(id string, cpuPercent float64, high bool) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Status.Terminal() {
		return "", false
	}

	s.LastCPUPercent = cpuPercent
	if high {
		s.highStreak++
		s.lowStreak = 0
	} else {
		s.lowStreak++
		s.highStreak = 0
	}

	now := time.Now()
	switch {
	case s.highStreak >= r.hysteresisSamples && s.Status != StatusRunning:
		r.setStatusLocked(s, StatusRunning, now)
		return StatusRunning, true
	case s.lowStreak >= r.hysteresisSamples && s.Status != StatusIdle:
		r.setStatusLocked(s, StatusIdle, now)
		return StatusIdle, true
	}
	return s.Status, false
}

// PruneFinishedBefore drops terminal sessions that finished before
// cutoff and returns how many were removed. The daemon does not call
// this on a schedule; it exists so long-lived deployments can bound
// retention.
func (r *Registry) PruneFinishedBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.Status.Terminal() && !s.FinishedAt.IsZero() && s.FinishedAt.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// DeriveGroup maps a working directory to its display bucket: the
// directory's base name, or DefaultGroup when no usable path is known.
func DeriveGroup(workingDir string) string {
	dir := strings.TrimSpace(workingDir)
	if dir == "" || dir == "/" {
		return DefaultGroup
	}
	base := filepath.Base(filepath.Clean(dir))
	if base == "" || base == "/" || base == "." {
		return DefaultGroup
	}
	return base
}
