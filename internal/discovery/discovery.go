// Package discovery seeds the registry with agent sessions that were
// already running before the daemon started.
package discovery

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agent-central/central/internal/git"
	"github.com/agent-central/central/internal/proc"
	"github.com/agent-central/central/internal/recent"
	"github.com/agent-central/central/internal/registry"
)

// ProcessTree is the subset of process operations the scan needs.
type ProcessTree interface {
	TakeSnapshot() (*proc.Snapshot, error)
	Cwd(pid int) string
}

type Scanner struct {
	reg      *registry.Registry
	tree     ProcessTree
	recent   *recent.List
	patterns []string
	excludes []string
	selfPID  int

	// resolveBranch is swapped out in tests to avoid shelling to git.
	resolveBranch func(cwd string) string
}

func NewScanner(reg *registry.Registry, tree ProcessTree, recentDirs *recent.List, patterns, guiExcludes []string) *Scanner {
	gitCache := git.NewCache(30 * time.Second)
	return &Scanner{
		reg:      reg,
		tree:     tree,
		recent:   recentDirs,
		patterns: lowerAll(patterns),
		excludes: lowerAll(guiExcludes),
		selfPID:  os.Getpid(),
		resolveBranch: func(cwd string) string {
			if info := git.ResolveCached(gitCache, cwd); info != nil {
				return info.Branch
			}
			return ""
		},
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

// Scan runs once at startup, before the monitor and board loops.
// A failed process-table query aborts the whole scan: a cold start
// that finds nothing is acceptable, new registrations still work.
// Returns the number of sessions seeded.
func (s *Scanner) Scan() int {
	snap, err := s.tree.TakeSnapshot()
	if err != nil {
		log.Printf("discovery: process table unavailable, skipping scan: %v", err)
		return 0
	}

	found := 0
	for _, e := range snap.Entries() {
		if !s.isCandidate(e) {
			continue
		}
		if s.reg.HasShellPID(e.PPID) {
			continue // already registered, or a sibling won this scan
		}

		cwd := s.tree.Cwd(e.PID)
		name := s.displayName(e, cwd)

		id := uuid.New().String()
		s.reg.Register(id, name, e.PPID, cwd)
		s.reg.AdoptAgentPID(id, e.PID)
		if cwd != "" {
			s.recent.Promote(cwd)
		}
		found++
	}
	return found
}

// isCandidate applies the adoption rules: the command looks like the
// agent runtime, is not the GUI app variant, has a real parent shell,
// and is not this process or our own child.
func (s *Scanner) isCandidate(e proc.Entry) bool {
	comm := strings.ToLower(e.Comm)

	matched := false
	for _, p := range s.patterns {
		if p != "" && strings.Contains(comm, p) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, x := range s.excludes {
		if x != "" && strings.Contains(comm, x) {
			return false
		}
	}
	if e.PPID <= 1 {
		return false // orphaned or launchd/init-owned, no shell to track
	}
	if e.PID == s.selfPID || e.PPID == s.selfPID {
		return false // never adopt oneself
	}
	return true
}

func (s *Scanner) displayName(e proc.Entry, cwd string) string {
	if cwd == "" {
		return fmt.Sprintf("agent-%d", e.PID)
	}
	name := filepath.Base(filepath.Clean(cwd))
	if branch := s.resolveBranch(cwd); branch != "" {
		name = fmt.Sprintf("%s (%s)", name, branch)
	}
	return name
}
