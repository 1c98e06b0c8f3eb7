// Package cmd wires configuration, logging, tracing and storage into the
// agentdeck daemon command.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/zjrosen/agentdeck/internal/config"
	"github.com/zjrosen/agentdeck/internal/log"
	"github.com/zjrosen/agentdeck/internal/outputlog"
	"github.com/zjrosen/agentdeck/internal/server"
	"github.com/zjrosen/agentdeck/internal/session"
	"github.com/zjrosen/agentdeck/internal/tmux"
	"github.com/zjrosen/agentdeck/internal/tracing"
	"github.com/zjrosen/agentdeck/internal/watcher"
)

var (
	version = "dev"

	addrFlag  string
	stateFlag string
	debugFlag bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "agentdeck",
	Short: "Control plane for interactive terminal coding agents",
	Long: `agentdeck hosts coding agent CLIs (claude, codex) in tmux sessions and
exposes an HTTP API to create sessions, send input, answer selection
prompts, and read a searchable log of everything the agents printed.

Example:
  agentdeck                          # serve on 127.0.0.1:8848
  agentdeck --addr :9000             # serve on port 9000
  AGENTDECK_STATE=/srv/deck agentdeck`,
	Version: version,
	RunE:    runServe,
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Address to listen on (overrides config)")
	rootCmd.Flags().StringVar(&stateFlag, "state", "", "State directory (overrides AGENTDECK_STATE)")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("state_dir", defaults.StateDir)
	viper.SetDefault("default_working_dir", defaults.DefaultWorkingDir)
	viper.SetDefault("spinner_glyphs", defaults.SpinnerGlyphs)
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("tmux.pane_width", defaults.Tmux.PaneWidth)
	viper.SetDefault("tmux.pane_height", defaults.Tmux.PaneHeight)
	viper.SetDefault("tmux.scrollback_lines", defaults.Tmux.ScrollbackLines)
	viper.SetDefault("capture.interval_s", defaults.Capture.IntervalSeconds)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	// State dir resolution: --state flag, then env, then default.
	stateDir := stateFlag
	if stateDir == "" {
		stateDir = os.Getenv("AGENTDECK_STATE")
	}
	if stateDir == "" {
		stateDir = defaults.StateDir
	}
	viper.Set("state_dir", stateDir)

	// Overrides file inside the state dir, if present.
	viper.SetConfigFile(filepath.Join(config.ExpandHome(stateDir), "config.json"))
	viper.SetConfigType("json")
	// A missing overrides file just means defaults.
	if err := viper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}

	// Optional .env in the working directory, loaded into the process
	// environment. Variables already set win.
	_ = gotenv.Load()

	viper.SetEnvPrefix("AGENTDECK")
	viper.AutomaticEnv()

	_ = viper.Unmarshal(&cfg)
	cfg.ExpandPaths()
}

func runServe(_ *cobra.Command, _ []string) error {
	// Logging is opt-in; the daemon is quiet by default.
	debug := debugFlag || os.Getenv("AGENTDECK_DEBUG") != ""
	if debug {
		logPath := os.Getenv("AGENTDECK_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		defer cleanup()
		log.Info(log.CatConfig, "agentdeck starting", "debug", true, "logPath", logPath, "state", cfg.StateDir)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tracer, err := tracing.NewProvider(cfg.Tracing, cfg.TracesFilePath())
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	outputLog, err := outputlog.Open(cfg.DBPath())
	if err != nil {
		// The control plane still works without history or search.
		log.Error(log.CatLog, "output log unavailable", "error", err, "path", cfg.DBPath())
		outputLog = nil
	}

	backend := tmux.NewCLIBackend(cfg.Tmux)
	orch := session.NewOrchestrator(cfg, backend, outputLog)
	if tracer.Enabled() {
		orch.SetTracer(tracer.Tracer())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Rehydrate(ctx); err != nil {
		log.Error(log.CatSession, "rehydration failed", "error", err)
	}

	go orch.RunCaptureLoop(ctx)

	// Log config.json edits; settings take effect on restart.
	cfgWatcher := startConfigWatcher(ctx, cfg.OverridesPath())

	addr := addrFlag
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	srv, err := server.NewServer(server.ServerConfig{
		Addr:    addr,
		Handler: server.NewHandler(orch),
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	fmt.Printf("agentdeck started on port %d\n", srv.Port())
	fmt.Println("Press Ctrl+C to stop")

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error(log.CatAPI, "Error stopping API server", "error", err)
	}
	if cfgWatcher != nil {
		if err := cfgWatcher.Stop(); err != nil {
			log.Error(log.CatWatcher, "Error stopping config watcher", "error", err)
		}
	}
	orch.Close()
	if outputLog != nil {
		if err := outputLog.Close(); err != nil {
			log.Error(log.CatLog, "Error closing output log", "error", err)
		}
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Error(log.CatTrace, "Error shutting down tracer", "error", err)
	}

	fmt.Println("Stopped")
	return nil
}

// startConfigWatcher watches the state-dir overrides file and logs change
// notifications. Most settings need a restart; the watcher surfaces edits
// so operators notice stale state.
func startConfigWatcher(ctx context.Context, path string) *watcher.Watcher {
	w, err := watcher.New(watcher.DefaultConfig(path))
	if err != nil {
		log.Warn(log.CatWatcher, "config watcher unavailable", "error", err)
		return nil
	}
	changes, err := w.Start()
	if err != nil {
		log.Warn(log.CatWatcher, "config watcher start failed", "error", err, "path", path)
		_ = w.Stop()
		return nil
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				log.Info(log.CatWatcher, "config file changed, restart to apply", "path", path)
			}
		}
	}()
	return w
}
