// Package config provides configuration types and defaults for agentdeck.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TmuxConfig holds terminal multiplexer pane settings.
type TmuxConfig struct {
	// PaneWidth and PaneHeight fix the pane geometry so captures are
	// deterministic regardless of any attached client.
	PaneWidth  int `mapstructure:"pane_width"`
	PaneHeight int `mapstructure:"pane_height"`

	// ScrollbackLines sets the tmux history-limit per session.
	ScrollbackLines int `mapstructure:"scrollback_lines"`
}

// CaptureConfig holds background capture loop settings.
type CaptureConfig struct {
	// IntervalSeconds is the delay between capture loop ticks.
	IntervalSeconds int `mapstructure:"interval_s"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// 1.0 = all traces, 0.1 = 10% of traces
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Config holds all configuration options for agentdeck.
// Components receive a Config value at construction; tests construct their
// own values rather than mutating process-global state.
type Config struct {
	// StateDir is the persistent state directory holding config.json,
	// output.db and recent_dirs.txt. Overridable via AGENTDECK_STATE.
	StateDir string `mapstructure:"state_dir"`

	// DefaultWorkingDir is used when a create request omits working_dir.
	DefaultWorkingDir string `mapstructure:"default_working_dir"`

	// RehydrateDirWhitelist restricts which live tmux sessions are adopted
	// at startup to those whose working directory sits under one of these
	// parents. Empty means adopt everything with the agent- prefix.
	RehydrateDirWhitelist []string `mapstructure:"rehydrate_dir_whitelist"`

	// SpinnerGlyphs is the alphabet of glyphs treated as activity spinners
	// by the UI-state detector. The default set is empirically captured
	// from current agent CLIs and may grow.
	SpinnerGlyphs string `mapstructure:"spinner_glyphs"`

	Server  ServerConfig  `mapstructure:"server"`
	Tmux    TmuxConfig    `mapstructure:"tmux"`
	Capture CaptureConfig `mapstructure:"capture"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		StateDir:          "state",
		DefaultWorkingDir: homeDir(),
		SpinnerGlyphs:     "·⏺✢✳✶✻✽",
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8848,
		},
		Tmux: TmuxConfig{
			PaneWidth:       160,
			PaneHeight:      35,
			ScrollbackLines: 2000,
		},
		Capture: CaptureConfig{
			IntervalSeconds: 2,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from the state dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// DBPath returns the output log database path inside the state dir.
func (c Config) DBPath() string {
	return filepath.Join(c.StateDir, "output.db")
}

// RecentDirsPath returns the recent-directories file path inside the state dir.
func (c Config) RecentDirsPath() string {
	return filepath.Join(c.StateDir, "recent_dirs.txt")
}

// OverridesPath returns the state-dir config.json path.
func (c Config) OverridesPath() string {
	return filepath.Join(c.StateDir, "config.json")
}

// TracesFilePath returns the configured trace file path, defaulting to a
// file inside the state dir.
func (c Config) TracesFilePath() string {
	if c.Tracing.FilePath != "" {
		return c.Tracing.FilePath
	}
	return filepath.Join(c.StateDir, "traces", "traces.jsonl")
}

// ExpandHome rewrites a leading "~" to the user's home directory.
// Returns the path unchanged when it has no home prefix.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// ContractHome rewrites a path under the user's home directory to use "~".
func ContractHome(path string) string {
	home := homeDir()
	if home == "." || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(filepath.Separator)) {
		return "~" + path[len(home):]
	}
	return path
}

// ExpandPaths applies home expansion to every path-valued field.
func (c *Config) ExpandPaths() {
	c.StateDir = ExpandHome(c.StateDir)
	c.DefaultWorkingDir = ExpandHome(c.DefaultWorkingDir)
	c.Tracing.FilePath = ExpandHome(c.Tracing.FilePath)
	for i, dir := range c.RehydrateDirWhitelist {
		c.RehydrateDirWhitelist[i] = ExpandHome(dir)
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.Tmux.PaneWidth <= 0 || c.Tmux.PaneHeight <= 0 {
		return fmt.Errorf("tmux pane dimensions must be positive, got %dx%d", c.Tmux.PaneWidth, c.Tmux.PaneHeight)
	}
	if c.Tmux.ScrollbackLines <= 0 {
		return fmt.Errorf("tmux.scrollback_lines must be positive, got %d", c.Tmux.ScrollbackLines)
	}
	if c.Capture.IntervalSeconds <= 0 {
		return fmt.Errorf("capture.interval_s must be positive, got %d", c.Capture.IntervalSeconds)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [0, 65535], got %d", c.Server.Port)
	}
	if c.SpinnerGlyphs == "" {
		return fmt.Errorf("spinner_glyphs must not be empty")
	}
	return ValidateTracing(c.Tracing)
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	if tracing.Enabled && tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}

	return nil
}
