// Package launch starts a fresh agent session in a new terminal
// window. Spawns are fire-and-forget: the session shows up on the
// board through discovery or self-registration, never through a
// handle held here.
package launch

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/creack/pty"

	"github.com/agent-central/central/internal/recent"
)

// linuxTerminals is tried in order; the first one on PATH wins.
var linuxTerminals = []struct {
	bin  string
	args func(dir, command string) []string
}{
	{"x-terminal-emulator", func(dir, command string) []string {
		return []string{"-e", shellWrap(dir, command)}
	}},
	{"gnome-terminal", func(dir, command string) []string {
		return []string{"--working-directory=" + dir, "--", "sh", "-c", command}
	}},
	{"konsole", func(dir, command string) []string {
		return []string{"--workdir", dir, "-e", "sh", "-c", command}
	}},
	{"xterm", func(dir, command string) []string {
		return []string{"-e", shellWrap(dir, command)}
	}},
}

func shellWrap(dir, command string) string {
	return fmt.Sprintf("sh -c 'cd %q && %s'", dir, command)
}

type Launcher struct {
	command string
	recent  *recent.List
}

func New(command string, recentDirs *recent.List) *Launcher {
	return &Launcher{command: command, recent: recentDirs}
}

// Open spawns the agent command in dir inside a new terminal window,
// falling back to a detached PTY when no GUI terminal exists. The
// directory is promoted in the recent list regardless of spawn
// outcome, matching how manual launches behave.
func (l *Launcher) Open(dir string) error {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("launch: no directory and no home: %w", err)
		}
		dir = home
	}
	if l.recent != nil {
		l.recent.Promote(dir)
	}

	if runtime.GOOS == "darwin" {
		return l.openDarwin(dir)
	}
	for _, t := range linuxTerminals {
		path, err := exec.LookPath(t.bin)
		if err != nil {
			continue
		}
		cmd := exec.Command(path, t.args(dir, l.command)...)
		if err := cmd.Start(); err != nil {
			log.Printf("launch: %s: %v", t.bin, err)
			continue
		}
		go cmd.Wait()
		return nil
	}
	return l.headless(dir)
}

func (l *Launcher) openDarwin(dir string) error {
	script := fmt.Sprintf(`tell application "Terminal" to do script "cd %s && %s"`,
		strings.ReplaceAll(dir, `"`, `\"`), l.command)
	cmd := exec.Command("osascript", "-e", script)
	if err := cmd.Start(); err != nil {
		return l.headless(dir)
	}
	go cmd.Wait()
	return nil
}

// headless runs the agent behind a PTY with no window. Interactive
// agents refuse to start without a tty, so a plain exec is not enough.
func (l *Launcher) headless(dir string) error {
	cmd := exec.Command("sh", "-c", l.command)
	cmd.Dir = dir
	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("launch: headless start: %w", err)
	}
	// Drain so the agent never blocks on a full pty buffer.
	go func() {
		io.Copy(io.Discard, f)
		f.Close()
	}()
	go cmd.Wait()
	log.Printf("launch: headless session started in %s (pid %d)", dir, cmd.Process.Pid)
	return nil
}
