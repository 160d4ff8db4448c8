// Package proc provides stateless, best-effort operations over OS
// process trees: liveness, child enumeration, aggregate CPU sampling,
// and recursive termination. Every external query is bounded by a
// timeout and failures degrade to zero values; environment flakiness
// must never take down the monitor.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type Entry struct {
	PID  int
	PPID int
	Comm string
}

// Snapshot is one pass over the full process table.
type Snapshot struct {
	entries  map[int]Entry
	children map[int][]int
}

// Tree executes process-tree operations. The exec and signal hooks are
// replaceable so tests can run without real processes.
type Tree struct {
	timeout time.Duration

	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
	signal     func(pid int, sig syscall.Signal) error
}

func NewTree(timeout time.Duration) *Tree {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Tree{
		timeout:    timeout,
		runCommand: runCommand,
		signal:     syscall.Kill,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// TakeSnapshot captures the process table via ps. PIDs and parent PIDs
// are the first two columns; the remainder of each line is the command
// name, which may itself contain spaces.
func (t *Tree) TakeSnapshot() (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	out, err := t.runCommand(ctx, "ps", "-axo", "pid,ppid,comm")
	if err != nil {
		return nil, fmt.Errorf("ps snapshot: %w", err)
	}
	return parseSnapshot(string(out)), nil
}

func parseSnapshot(out string) *Snapshot {
	snap := &Snapshot{
		entries:  make(map[int]Entry),
		children: make(map[int][]int),
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i, line := range lines {
		if i == 0 && strings.Contains(strings.ToUpper(line), "PID") {
			continue // header
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil || pid <= 0 {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		entry := Entry{
			PID:  pid,
			PPID: ppid,
			Comm: strings.Join(fields[2:], " "),
		}
		snap.entries[pid] = entry
		snap.children[ppid] = append(snap.children[ppid], pid)
	}
	return snap
}

// NewSnapshot builds a snapshot from explicit entries. Production code
// uses TakeSnapshot; this exists for fakes and seeded tests.
func NewSnapshot(entries []Entry) *Snapshot {
	snap := &Snapshot{
		entries:  make(map[int]Entry, len(entries)),
		children: make(map[int][]int),
	}
	for _, e := range entries {
		snap.entries[e.PID] = e
		snap.children[e.PPID] = append(snap.children[e.PPID], e.PID)
	}
	return snap
}

// Entries returns every process in the snapshot.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func (s *Snapshot) Entry(pid int) (Entry, bool) {
	e, ok := s.entries[pid]
	return e, ok
}

// DirectChildren returns the PIDs whose parent is pid and whose
// command name satisfies match. A nil match accepts everything.
func (s *Snapshot) DirectChildren(pid int, match func(comm string) bool) []int {
	var out []int
	for _, child := range s.children[pid] {
		if match == nil || match(s.entries[child].Comm) {
			out = append(out, child)
		}
	}
	return out
}

// IsAlive probes pid with signal 0. Only a definitive "no such
// process" yields false; a permission error means the process exists
// but belongs to someone else.
func (t *Tree) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := t.signal(pid, 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, syscall.ESRCH)
}

// AggregateCPU sums the instantaneous CPU percentage of pid and its
// direct children. Only one level below pid is sampled; the modeled
// shape is an agent plus its immediate helpers. An error means "no
// information": callers leave prior state alone rather than treating
// it as a zero sample.
func (t *Tree) AggregateCPU(pid int) (float64, error) {
	if pid <= 0 {
		return 0, errors.New("invalid pid")
	}

	pids := append([]int{pid}, t.childPIDs(pid)...)
	strs := make([]string, len(pids))
	for i, p := range pids {
		strs[i] = strconv.Itoa(p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	out, err := t.runCommand(ctx, "ps", "-o", "%cpu=", "-p", strings.Join(strs, ","))
	if err != nil {
		return 0, fmt.Errorf("ps cpu sample: %w", err)
	}
	return sumCPUColumn(string(out)), nil
}

func sumCPUColumn(out string) float64 {
	total := 0.0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if v, err := strconv.ParseFloat(line, 64); err == nil {
			total += v
		}
	}
	return total
}

func (t *Tree) childPIDs(pid int) []int {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	out, err := t.runCommand(ctx, "pgrep", "-P", strconv.Itoa(pid))
	if err != nil {
		return nil // no children or pgrep unavailable
	}
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if p, err := strconv.Atoi(line); err == nil && p > 0 {
			pids = append(pids, p)
		}
	}
	return pids
}

// KillTree terminates pid and everything below it, children before
// parents so nothing is orphaned mid-walk. Every step is best effort:
// a vanished process or denied signal does not stop the sweep.
func (t *Tree) KillTree(pid int) {
	if pid <= 0 {
		return
	}
	for _, child := range t.childPIDs(pid) {
		t.KillTree(child)
	}
	_ = t.signal(pid, syscall.SIGTERM)
}

// Cwd resolves a process's current working directory, or "" when it
// cannot be determined. Linux reads the /proc symlink; elsewhere an
// lsof file-descriptor lookup is used.
func (t *Tree) Cwd(pid int) string {
	if pid <= 0 {
		return ""
	}

	if runtime.GOOS == "linux" {
		if target, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid)); err == nil {
			return target
		}
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	out, err := t.runCommand(ctx, "lsof", "-a", "-p", strconv.Itoa(pid), "-d", "cwd", "-Fn")
	if err != nil {
		return ""
	}
	return parseLsofCwd(string(out))
}

func parseLsofCwd(out string) string {
	// -Fn output: one field per line, paths prefixed with 'n'.
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "n") && len(line) > 1 {
			return strings.TrimSpace(line[1:])
		}
	}
	return ""
}
