package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agent-central/central/internal/board"
	"github.com/agent-central/central/internal/config"
	"github.com/agent-central/central/internal/discovery"
	"github.com/agent-central/central/internal/launch"
	"github.com/agent-central/central/internal/monitor"
	"github.com/agent-central/central/internal/proc"
	"github.com/agent-central/central/internal/recent"
	"github.com/agent-central/central/internal/registry"
	"github.com/agent-central/central/internal/server"
)

const Version = "0.1.0"

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "central.yaml"
	}
	return filepath.Join(home, ".central", "config.yaml")
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "sessions":
			runSessionsCommand(os.Args[2:])
			return
		case "new":
			runNewCommand(os.Args[2:])
			return
		case "version":
			fmt.Printf("central version %s\n", Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	runBoard()
}

func printHelp() {
	fmt.Println(`central - live arrival board for local agent sessions

Usage:
  central [command] [options]

Commands:
  (none)       Run the board (default)
  sessions     List sessions from a running board's API
  new          Launch a new agent session in a directory
  version      Show version information
  help         Show this help

Board Options:
  -config string  Path to config file (default ~/.central/config.yaml)
  -ascii          Force ASCII glyphs

Subcommand Options:
  -json           Output in JSON format (sessions)
  -config         Path to config file`)
}

var killAttempts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "central_kill_attempts_total",
	Help: "Kill requests confirmed on the board.",
})

// sessionKiller terminates a session's agent subtree first, then the
// shell subtree, then records the KILLED status. Runs synchronously so
// the status only flips after the signals went out.
type sessionKiller struct {
	reg  *registry.Registry
	tree *proc.Tree
}

func (k *sessionKiller) Kill(s registry.Session) {
	killAttempts.Inc()
	log.Printf("kill: session %s (%s) agent=%d shell=%d", s.ID, s.Name, s.AgentPID, s.ShellPID)
	if s.AgentPID > 0 {
		k.tree.KillTree(s.AgentPID)
	}
	if s.ShellPID > 0 {
		k.tree.KillTree(s.ShellPID)
	}
	k.reg.MarkKilled(s.ID)
}

func runBoard() {
	fs := flag.NewFlagSet("central", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "Path to config file")
	asciiFlag := fs.Bool("ascii", false, "Force ASCII glyphs")
	fs.Parse(os.Args[1:])

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *asciiFlag {
		cfg.Board.ASCII = true
	}

	// The TUI owns the terminal, so the daemon logs to a rotating file.
	if err := os.MkdirAll(cfg.Storage.StateDir, 0o755); err != nil {
		log.Fatalf("Failed to create state dir: %v", err)
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   cfg.Storage.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	})
	log.Printf("central %s starting (config %s)", Version, *configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(cfg.Monitor.HysteresisSamples)
	tree := proc.NewTree(time.Duration(cfg.Monitor.QueryTimeoutMs) * time.Millisecond)

	recentDirs := recent.NewList(cfg.Storage.RecentDirsFile, cfg.Storage.RecentDirsMax)
	recentDirs.Load()
	if err := recentDirs.Watch(ctx); err != nil {
		log.Printf("recent: watch unavailable: %v", err)
	}

	scanner := discovery.NewScanner(reg, tree, recentDirs, cfg.Agents.DiscoverPatterns, cfg.Agents.GUIExcludes)
	if n := scanner.Scan(); n > 0 {
		log.Printf("discovery: adopted %d pre-existing sessions", n)
	}

	mon := monitor.New(reg, tree,
		time.Duration(cfg.Monitor.PollIntervalMs)*time.Millisecond,
		cfg.Monitor.CPUThresholdPct,
		cfg.Agents.NamePatterns)
	go mon.Run(ctx)

	srv := server.New(cfg.API.Listen, reg)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	var killer board.Killer
	if cfg.Security.KillAllowed() {
		killer = &sessionKiller{reg: reg, tree: tree}
	}
	model := board.New(reg, killer, board.Options{
		Visibility: time.Duration(cfg.Board.VisibilityWindowS) * time.Second,
		Flash:      time.Duration(cfg.Board.FlashWindowMs) * time.Millisecond,
		ASCII:      cfg.Board.ASCII,
		AllowKill:  cfg.Security.KillAllowed(),
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		log.Printf("board: %v", err)
	}

	cancel()
	if err := srv.Stop(); err != nil {
		log.Printf("api: shutdown: %v", err)
	}
	log.Printf("central stopped")
}

func runSessionsCommand(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", defaultConfigPath(), "Path to config file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + cfg.API.Listen + "/tasks")
	if err != nil {
		log.Fatalf("Failed to reach board API at %s: %v", cfg.API.Listen, err)
	}
	defer resp.Body.Close()

	var sessions []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		log.Fatalf("Failed to decode response: %v", err)
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(sessions)
		return
	}

	fmt.Printf("%-38s %-20s %-10s %s\n", "ID", "NAME", "STATUS", "GROUP")
	for _, s := range sessions {
		fmt.Printf("%-38v %-20v %-10v %v\n", s["id"], s["name"], s["status"], s["group"])
	}
	fmt.Printf("\n%d sessions\n", len(sessions))
}

func runNewCommand(args []string) {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "Path to config file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Security.SpawnAllowed() {
		log.Fatalf("Spawning sessions is disabled (security.allow_spawn)")
	}

	dir := fs.Arg(0)
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}

	recentDirs := recent.NewList(cfg.Storage.RecentDirsFile, cfg.Storage.RecentDirsMax)
	recentDirs.Load()

	launcher := launch.New(cfg.Agents.LaunchCommand, recentDirs)
	if err := launcher.Open(dir); err != nil {
		log.Fatalf("Failed to launch session: %v", err)
	}
	fmt.Printf("Launched %q in %s\n", cfg.Agents.LaunchCommand, dir)
}
