// Package monitor runs the periodic activity classifier: it detects
// dead session trees and converts aggregate CPU samples into
// IDLE/RUNNING transitions through the registry's hysteresis counters.
package monitor

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agent-central/central/internal/proc"
	"github.com/agent-central/central/internal/registry"
)

// ProcessTree is the slice of process operations the classifier needs.
// Satisfied by *proc.Tree; tests substitute a fake so a future
// event-driven backend could slot in without touching the hysteresis
// logic.
type ProcessTree interface {
	IsAlive(pid int) bool
	TakeSnapshot() (*proc.Snapshot, error)
	AggregateCPU(pid int) (float64, error)
}

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "central_monitor_ticks_total",
		Help: "Classifier ticks completed.",
	})
	sampleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "central_monitor_sample_errors_total",
		Help: "Process queries that yielded no information this tick.",
	})
	deathsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "central_monitor_deaths_detected_total",
		Help: "Sessions transitioned to DONE after their process died.",
	})
)

type Monitor struct {
	reg       *registry.Registry
	tree      ProcessTree
	interval  time.Duration
	threshold float64
	isAgent   func(comm string) bool
}

// New builds a classifier. namePatterns are lowercase substrings that
// identify the agent runtime among a shell's children.
func New(reg *registry.Registry, tree ProcessTree, interval time.Duration, cpuThreshold float64, namePatterns []string) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{
		reg:       reg,
		tree:      tree,
		interval:  interval,
		threshold: cpuThreshold,
		isAgent:   matchAny(namePatterns),
	}
}

func matchAny(patterns []string) func(string) bool {
	return func(comm string) bool {
		lower := strings.ToLower(comm)
		for _, p := range patterns {
			if p != "" && strings.Contains(lower, p) {
				return true
			}
		}
		return false
	}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick classifies every monitorable session once. Targets are read in
// one registry pass, all process queries run unlocked, and results are
// written back through short registry locks.
func (m *Monitor) Tick() {
	defer ticksTotal.Inc()

	targets := m.reg.MonitorTargets()
	if len(targets) == 0 {
		return
	}

	// Taken lazily: only ticks where some session still lacks an
	// adopted agent pay for a full table scan.
	var snap *proc.Snapshot
	snapFailed := false

	for _, tgt := range targets {
		if !m.tree.IsAlive(tgt.ShellPID) {
			m.reg.MarkDead(tgt.ID)
			deathsDetected.Inc()
			continue
		}

		// A lingering shell whose agent already exited still counts
		// as finished.
		if tgt.AgentPID != 0 && !m.tree.IsAlive(tgt.AgentPID) {
			m.reg.MarkDead(tgt.ID)
			deathsDetected.Inc()
			continue
		}

		agentPID := tgt.AgentPID
		if agentPID == 0 {
			if snap == nil && !snapFailed {
				var err error
				snap, err = m.tree.TakeSnapshot()
				if err != nil {
					log.Printf("monitor: process snapshot failed: %v", err)
					sampleErrors.Inc()
					snapFailed = true
				}
			}
			if snap != nil {
				if kids := snap.DirectChildren(tgt.ShellPID, m.isAgent); len(kids) > 0 {
					agentPID = kids[0]
					m.reg.AdoptAgentPID(tgt.ID, agentPID)
				}
			}
		}
		if agentPID == 0 {
			continue // nothing to sample yet
		}

		cpu, err := m.tree.AggregateCPU(agentPID)
		if err != nil {
			sampleErrors.Inc()
			continue // no information this tick; streaks stay put
		}
		m.reg.RecordCPUSample(tgt.ID, cpu, cpu > m.threshold)
	}
}
