package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestRegisterStartsIdle(t *testing.T) {
	r := New(2)
	r.Register("a", "proj", 100, "/home/u/proj")

	s, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, 100, s.ShellPID)
	assert.Equal(t, "proj", s.Group)
	assert.True(t, s.WorkStartedAt.IsZero())
	assert.True(t, s.FinishedAt.IsZero())
	assert.Nil(t, s.ExitCode)
	assert.EqualValues(t, 1, r.TotalCreated())
}

func TestRegisterOverwritesExistingID(t *testing.T) {
	r := New(2)
	r.Register("a", "old", 100, "/tmp/old")
	require.NoError(t, r.UpdateStatus("a", StatusRunning, nil))

	r.Register("a", "new", 200, "/tmp/new")

	s, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "new", s.Name)
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, 200, s.ShellPID)
	assert.True(t, s.WorkStartedAt.IsZero())
	assert.EqualValues(t, 2, r.TotalCreated())
}

func TestUpdateStatusUnknownID(t *testing.T) {
	r := New(2)
	assert.ErrorIs(t, r.UpdateStatus("missing", StatusRunning, nil), ErrNotFound)
}

func TestUpdateStatusSetsWorkStartedAndFinished(t *testing.T) {
	r := New(2)
	r.Register("a", "proj", 100, "")

	require.NoError(t, r.UpdateStatus("a", StatusRunning, nil))
	s, _ := r.Get("a")
	assert.Equal(t, StatusRunning, s.Status)
	assert.False(t, s.WorkStartedAt.IsZero())
	assert.True(t, s.FinishedAt.IsZero())

	require.NoError(t, r.UpdateStatus("a", StatusDone, intPtr(0)))
	s, _ = r.Get("a")
	assert.Equal(t, StatusDone, s.Status)
	assert.False(t, s.FinishedAt.IsZero())
	require.NotNil(t, s.ExitCode)
	assert.Equal(t, 0, *s.ExitCode)
}

func TestTerminalStatusIsImmutable(t *testing.T) {
	r := New(2)
	r.Register("a", "proj", 100, "")
	require.NoError(t, r.UpdateStatus("a", StatusFailed, intPtr(3)))

	before, _ := r.Get("a")

	// Accepted but ignored in every observable way.
	require.NoError(t, r.UpdateStatus("a", StatusRunning, nil))
	require.NoError(t, r.UpdateStatus("a", StatusDone, intPtr(0)))
	r.MarkDead("a")
	r.MarkKilled("a")

	after, _ := r.Get("a")
	assert.Equal(t, StatusFailed, after.Status)
	require.NotNil(t, after.ExitCode)
	assert.Equal(t, 3, *after.ExitCode)
	assert.Equal(t, before.FinishedAt, after.FinishedAt)
	assert.True(t, after.WorkStartedAt.IsZero())
}

func TestRepeatedStatusKeepsFlashTimestamp(t *testing.T) {
	r := New(2)
	r.Register("a", "proj", 100, "")
	require.NoError(t, r.UpdateStatus("a", StatusRunning, nil))
	s1, _ := r.Get("a")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.UpdateStatus("a", StatusRunning, intPtr(7)))
	s2, _ := r.Get("a")

	assert.Equal(t, s1.LastStatusChangeAt, s2.LastStatusChangeAt)
	assert.Equal(t, s1.WorkStartedAt, s2.WorkStartedAt)
	require.NotNil(t, s2.ExitCode)
	assert.Equal(t, 7, *s2.ExitCode)
}

func TestMarkDeadAndMarkKilled(t *testing.T) {
	r := New(2)
	r.Register("dead", "a", 100, "")
	r.Register("killed", "b", 200, "")

	r.MarkDead("dead")
	s, _ := r.Get("dead")
	assert.Equal(t, StatusDone, s.Status)
	require.NotNil(t, s.ExitCode)
	assert.Equal(t, 0, *s.ExitCode)

	r.MarkKilled("killed")
	s, _ = r.Get("killed")
	assert.Equal(t, StatusKilled, s.Status)
	require.NotNil(t, s.ExitCode)
	assert.Equal(t, ExitCodeKilled, *s.ExitCode)
}

func TestHysteresisRequiresConsecutiveSamples(t *testing.T) {
	r := New(2)
	r.Register("a", "proj", 100, "")

	_, changed := r.RecordCPUSample("a", 50, true)
	assert.False(t, changed, "single high sample must not flip")

	status, changed := r.RecordCPUSample("a", 50, true)
	assert.True(t, changed)
	assert.Equal(t, StatusRunning, status)

	// One low sample resets nothing visible.
	_, changed = r.RecordCPUSample("a", 1, false)
	assert.False(t, changed)
	s, _ := r.Get("a")
	assert.Equal(t, StatusRunning, s.Status)

	// An interleaved high sample resets the low streak.
	r.RecordCPUSample("a", 50, true)
	_, changed = r.RecordCPUSample("a", 1, false)
	assert.False(t, changed)

	status, changed = r.RecordCPUSample("a", 1, false)
	assert.True(t, changed)
	assert.Equal(t, StatusIdle, status)
}

func TestRecordCPUSampleIgnoredForTerminal(t *testing.T) {
	r := New(2)
	r.Register("a", "proj", 100, "")
	r.MarkKilled("a")

	r.RecordCPUSample("a", 99, true)
	r.RecordCPUSample("a", 99, true)

	s, _ := r.Get("a")
	assert.Equal(t, StatusKilled, s.Status)
}

func TestWorkStartedAtResetOnReentry(t *testing.T) {
	r := New(1)
	r.Register("a", "proj", 100, "")

	r.RecordCPUSample("a", 50, true)
	s1, _ := r.Get("a")
	require.False(t, s1.WorkStartedAt.IsZero())

	r.RecordCPUSample("a", 1, false)
	time.Sleep(5 * time.Millisecond)
	r.RecordCPUSample("a", 50, true)

	s2, _ := r.Get("a")
	assert.Equal(t, StatusRunning, s2.Status)
	assert.True(t, s2.WorkStartedAt.After(s1.WorkStartedAt),
		"each RUNNING entry restarts the work clock")
}

func TestSnapshotIsIsolatedCopy(t *testing.T) {
	r := New(2)
	r.Register("a", "proj", 100, "")
	require.NoError(t, r.UpdateStatus("a", StatusFailed, intPtr(1)))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	*snap[0].ExitCode = 42
	snap[0].Name = "mutated"

	s, _ := r.Get("a")
	assert.Equal(t, "proj", s.Name)
	assert.Equal(t, 1, *s.ExitCode)
}

func TestSnapshotOrderedByCreation(t *testing.T) {
	r := New(2)
	r.Register("b", "second", 2, "")
	r.Register("a", "first", 1, "")

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	// Same-instant registrations fall back to ID order.
	if snap[0].CreatedAt.Equal(snap[1].CreatedAt) {
		assert.Equal(t, "a", snap[0].ID)
	} else {
		assert.True(t, snap[0].CreatedAt.Before(snap[1].CreatedAt))
	}
}

func TestMonitorTargetsSkipsTerminalAndPidless(t *testing.T) {
	r := New(2)
	r.Register("live", "a", 100, "")
	r.Register("done", "b", 200, "")
	r.Register("nopid", "c", 0, "")
	r.MarkDead("done")

	targets := r.MonitorTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, "live", targets[0].ID)
	assert.Equal(t, 100, targets[0].ShellPID)
}

func TestAdoptAgentPIDOnlyOnce(t *testing.T) {
	r := New(2)
	r.Register("a", "proj", 100, "")

	r.AdoptAgentPID("a", 111)
	r.AdoptAgentPID("a", 222)

	s, _ := r.Get("a")
	assert.Equal(t, 111, s.AgentPID)
}

func TestHasShellPID(t *testing.T) {
	r := New(2)
	r.Register("a", "proj", 100, "")

	assert.True(t, r.HasShellPID(100))
	assert.False(t, r.HasShellPID(101))
	assert.False(t, r.HasShellPID(0))
}

func TestPruneFinishedBefore(t *testing.T) {
	r := New(2)
	r.Register("old", "a", 100, "")
	r.Register("live", "b", 200, "")
	r.MarkDead("old")

	time.Sleep(5 * time.Millisecond)
	removed := r.PruneFinishedBefore(time.Now())
	assert.Equal(t, 1, removed)

	_, ok := r.Get("old")
	assert.False(t, ok)
	_, ok = r.Get("live")
	assert.True(t, ok)
}

func TestDeriveGroup(t *testing.T) {
	assert.Equal(t, "proj", DeriveGroup("/home/u/proj"))
	assert.Equal(t, "proj", DeriveGroup("/home/u/proj/"))
	assert.Equal(t, DefaultGroup, DeriveGroup(""))
	assert.Equal(t, DefaultGroup, DeriveGroup("   "))
	assert.Equal(t, DefaultGroup, DeriveGroup("/"))
}
