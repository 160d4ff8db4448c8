package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API      APIConfig      `yaml:"api"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Board    BoardConfig    `yaml:"board"`
	Agents   AgentsConfig   `yaml:"agents"`
	Security SecurityConfig `yaml:"security"`
	Storage  StorageConfig  `yaml:"storage"`
}

type APIConfig struct {
	Listen string `yaml:"listen"`
}

type MonitorConfig struct {
	PollIntervalMs    int     `yaml:"poll_interval_ms"`
	CPUThresholdPct   float64 `yaml:"cpu_threshold_pct"`
	HysteresisSamples int     `yaml:"hysteresis_samples"`
	QueryTimeoutMs    int     `yaml:"query_timeout_ms"`
}

type BoardConfig struct {
	VisibilityWindowS int  `yaml:"visibility_window_s"`
	FlashWindowMs     int  `yaml:"flash_window_ms"`
	ASCII             bool `yaml:"ascii"`
}

type AgentsConfig struct {
	// Process names (comm substrings, lowercase) recognized as the
	// agent runtime when adopting a shell's child for CPU sampling.
	NamePatterns []string `yaml:"name_patterns"`
	// Process names the startup scan treats as pre-existing agent
	// sessions. Narrower than NamePatterns: a bare "node" child is a
	// helper, not a session root.
	DiscoverPatterns []string `yaml:"discover_patterns"`
	// Command names identifying the GUI application variant, which
	// discovery must never adopt.
	GUIExcludes []string `yaml:"gui_excludes"`
	// Command used when launching a fresh session.
	LaunchCommand string `yaml:"launch_command"`
}

// SecurityConfig gates the destructive operations. Pointers so an
// absent key means "allowed" while an explicit false still sticks.
type SecurityConfig struct {
	AllowKill  *bool `yaml:"allow_kill"`
	AllowSpawn *bool `yaml:"allow_spawn"`
}

// KillAllowed reports whether board-initiated kills are enabled.
func (s SecurityConfig) KillAllowed() bool {
	return s.AllowKill == nil || *s.AllowKill
}

// SpawnAllowed reports whether launching new sessions is enabled.
func (s SecurityConfig) SpawnAllowed() bool {
	return s.AllowSpawn == nil || *s.AllowSpawn
}

type StorageConfig struct {
	StateDir       string `yaml:"state_dir"`
	RecentDirsFile string `yaml:"recent_dirs_file"`
	RecentDirsMax  int    `yaml:"recent_dirs_max"`
	LogFile        string `yaml:"log_file"`
}

// LoadConfig reads a YAML config file and fills in defaults. A missing
// file is not an error: the daemon runs fine on pure defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyDefaults(&cfg)

	// Optional environment overrides.
	if envListen := os.Getenv("CENTRAL_API_LISTEN"); envListen != "" {
		cfg.API.Listen = envListen
	}
	if os.Getenv("CENTRAL_BOARD_ASCII") == "1" {
		cfg.Board.ASCII = true
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8080"
	}
	if cfg.Monitor.PollIntervalMs == 0 {
		cfg.Monitor.PollIntervalMs = 2000
	}
	if cfg.Monitor.CPUThresholdPct == 0 {
		cfg.Monitor.CPUThresholdPct = 5.0
	}
	if cfg.Monitor.HysteresisSamples == 0 {
		cfg.Monitor.HysteresisSamples = 2
	}
	if cfg.Monitor.QueryTimeoutMs == 0 {
		cfg.Monitor.QueryTimeoutMs = 5000
	}
	if cfg.Board.VisibilityWindowS == 0 {
		cfg.Board.VisibilityWindowS = 30
	}
	if cfg.Board.FlashWindowMs == 0 {
		cfg.Board.FlashWindowMs = 2000
	}
	if len(cfg.Agents.NamePatterns) == 0 {
		cfg.Agents.NamePatterns = []string{"claude", "node"}
	}
	if len(cfg.Agents.DiscoverPatterns) == 0 {
		cfg.Agents.DiscoverPatterns = []string{"claude"}
	}
	if len(cfg.Agents.GUIExcludes) == 0 {
		cfg.Agents.GUIExcludes = []string{"claude.app", "claude helper"}
	}
	if cfg.Agents.LaunchCommand == "" {
		cfg.Agents.LaunchCommand = "claude"
	}
	if cfg.Storage.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Storage.StateDir = filepath.Join(home, ".central")
	}
	if cfg.Storage.RecentDirsFile == "" {
		cfg.Storage.RecentDirsFile = filepath.Join(cfg.Storage.StateDir, "recent_dirs")
	}
	if cfg.Storage.RecentDirsMax == 0 {
		cfg.Storage.RecentDirsMax = 10
	}
	if cfg.Storage.LogFile == "" {
		cfg.Storage.LogFile = filepath.Join(cfg.Storage.StateDir, "central.log")
	}
}
