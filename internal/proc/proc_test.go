package proc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnapshot(t *testing.T) {
	out := `  PID  PPID COMM
    1     0 launchd
  100     1 zsh
  111   100 claude
  112   100 Claude Helper (Renderer)
 garbage line
`
	snap := parseSnapshot(out)

	e, ok := snap.Entry(111)
	require.True(t, ok)
	assert.Equal(t, 100, e.PPID)
	assert.Equal(t, "claude", e.Comm)

	e, ok = snap.Entry(112)
	require.True(t, ok)
	assert.Equal(t, "Claude Helper (Renderer)", e.Comm, "command names keep their spaces")

	_, ok = snap.Entry(0)
	assert.False(t, ok)
	assert.Len(t, snap.Entries(), 4)
}

func TestDirectChildrenFiltered(t *testing.T) {
	snap := NewSnapshot([]Entry{
		{PID: 100, PPID: 1, Comm: "zsh"},
		{PID: 110, PPID: 100, Comm: "vim"},
		{PID: 111, PPID: 100, Comm: "claude"},
		{PID: 120, PPID: 110, Comm: "claude"}, // grandchild, excluded
	})

	kids := snap.DirectChildren(100, func(comm string) bool {
		return strings.Contains(comm, "claude")
	})
	assert.Equal(t, []int{111}, kids)

	all := snap.DirectChildren(100, nil)
	assert.ElementsMatch(t, []int{110, 111}, all)
}

func TestIsAlive(t *testing.T) {
	tree := NewTree(time.Second)

	tree.signal = func(pid int, sig syscall.Signal) error { return nil }
	assert.True(t, tree.IsAlive(42))

	tree.signal = func(pid int, sig syscall.Signal) error { return syscall.ESRCH }
	assert.False(t, tree.IsAlive(42))

	// Exists but owned by another user.
	tree.signal = func(pid int, sig syscall.Signal) error { return syscall.EPERM }
	assert.True(t, tree.IsAlive(42))

	assert.False(t, tree.IsAlive(0))
	assert.False(t, tree.IsAlive(-1))
}

func TestAggregateCPUSumsSelfAndChildren(t *testing.T) {
	tree := NewTree(time.Second)
	tree.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		switch name {
		case "pgrep":
			require.Equal(t, []string{"-P", "111"}, args)
			return []byte("112\n113\n"), nil
		case "ps":
			assert.Equal(t, "111,112,113", args[len(args)-1])
			return []byte(" 10.5\n  0.2\n  1.3\n"), nil
		}
		return nil, fmt.Errorf("unexpected command %s", name)
	}

	cpu, err := tree.AggregateCPU(111)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, cpu, 0.001)
}

func TestAggregateCPUErrorIsNotZeroSample(t *testing.T) {
	tree := NewTree(time.Second)
	tree.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name == "pgrep" {
			return nil, errors.New("no children")
		}
		return nil, errors.New("ps: timeout")
	}

	_, err := tree.AggregateCPU(111)
	assert.Error(t, err)

	_, err = tree.AggregateCPU(0)
	assert.Error(t, err)
}

func TestSumCPUColumn(t *testing.T) {
	assert.Equal(t, 0.0, sumCPUColumn(""))
	assert.InDelta(t, 3.5, sumCPUColumn(" 1.0\n\n 2.5\nnot-a-number\n"), 0.001)
}

func TestKillTreeChildrenBeforeParents(t *testing.T) {
	// 100 -> 110 -> 120, plus 100 -> 111.
	children := map[int][]int{
		100: {110, 111},
		110: {120},
	}
	var killed []int

	tree := NewTree(time.Second)
	tree.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		require.Equal(t, "pgrep", name)
		pid := args[len(args)-1]
		var lines []string
		for p, kids := range children {
			if fmt.Sprint(p) == pid {
				for _, k := range kids {
					lines = append(lines, fmt.Sprint(k))
				}
			}
		}
		if len(lines) == 0 {
			return nil, errors.New("exit 1")
		}
		return []byte(strings.Join(lines, "\n")), nil
	}
	tree.signal = func(pid int, sig syscall.Signal) error {
		require.Equal(t, syscall.SIGTERM, sig)
		killed = append(killed, pid)
		if pid == 111 {
			return syscall.ESRCH // already gone, sweep continues
		}
		return nil
	}

	tree.KillTree(100)

	assert.ElementsMatch(t, []int{100, 110, 111, 120}, killed)
	pos := func(pid int) int {
		for i, p := range killed {
			if p == pid {
				return i
			}
		}
		return -1
	}
	assert.Less(t, pos(120), pos(110))
	assert.Less(t, pos(110), pos(100))
	assert.Less(t, pos(111), pos(100))
}

func TestParseLsofCwd(t *testing.T) {
	out := "p123\nfcwd\nn/Users/dev/proj\n"
	assert.Equal(t, "/Users/dev/proj", parseLsofCwd(out))
	assert.Equal(t, "", parseLsofCwd("p123\nfcwd\n"))
}
