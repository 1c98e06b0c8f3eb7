package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/zjrosen/agentdeck/internal/config"
	"github.com/zjrosen/agentdeck/internal/log"
)

// ErrSessionNotFound indicates the named tmux session does not exist.
var ErrSessionNotFound = errors.New("tmux session not found")

// Runner executes a tmux command and returns its stdout.
// Tests substitute a fake; production uses execRunner.
type Runner interface {
	Run(args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(args ...string) (string, error) {
	//nolint:gosec // G204: args come from controlled sources
	cmd := exec.Command("tmux", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", fmt.Errorf("tmux %s: %s", strings.Join(args, " "), stderrStr)
		}
		return "", fmt.Errorf("tmux %s: %w", strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

// Compile-time check that CLIBackend implements Backend.
var _ Backend = (*CLIBackend)(nil)

// CLIBackend implements Backend by shelling out to the tmux binary.
type CLIBackend struct {
	runner     Runner
	paneWidth  int
	paneHeight int
	scrollback int
}

// NewCLIBackend creates a backend using the tmux binary on PATH.
func NewCLIBackend(cfg config.TmuxConfig) *CLIBackend {
	return NewCLIBackendWithRunner(cfg, execRunner{})
}

// NewCLIBackendWithRunner creates a backend with a custom command runner.
func NewCLIBackendWithRunner(cfg config.TmuxConfig, runner Runner) *CLIBackend {
	return &CLIBackend{
		runner:     runner,
		paneWidth:  cfg.PaneWidth,
		paneHeight: cfg.PaneHeight,
		scrollback: cfg.ScrollbackLines,
	}
}

// target returns an exact-match target for the session name.
// Without the "=" prefix tmux matches session names by prefix.
func target(name string) string {
	return "=" + name
}

func (b *CLIBackend) CreateSession(name, command string) error {
	_, err := b.runner.Run("new-session", "-d",
		"-s", name,
		"-x", strconv.Itoa(b.paneWidth),
		"-y", strconv.Itoa(b.paneHeight),
		command)
	if err != nil {
		return fmt.Errorf("create session %q: %w", name, err)
	}
	if _, err := b.runner.Run("set-option", "-t", target(name), "history-limit", strconv.Itoa(b.scrollback)); err != nil {
		return fmt.Errorf("set history-limit for %q: %w", name, err)
	}
	if _, err := b.runner.Run("set-option", "-t", target(name), "remain-on-exit", "on"); err != nil {
		return fmt.Errorf("set remain-on-exit for %q: %w", name, err)
	}
	log.Info(log.CatTmux, "session created", "session", name, "command", command)
	return nil
}

func (b *CLIBackend) SendKeys(name, keys string, enter, literal bool) error {
	args := []string{"send-keys", "-t", target(name)}
	if literal {
		args = append(args, "-l")
	}
	args = append(args, "--", keys)
	if _, err := b.runner.Run(args...); err != nil {
		return fmt.Errorf("send keys to %q: %w", name, err)
	}
	if enter {
		if _, err := b.runner.Run("send-keys", "-t", target(name), "Enter"); err != nil {
			return fmt.Errorf("send enter to %q: %w", name, err)
		}
	}
	return nil
}

func (b *CLIBackend) CapturePane(name string) (string, error) {
	out, err := b.runner.Run("capture-pane", "-p", "-t", target(name))
	if err != nil {
		return "", fmt.Errorf("capture pane %q: %w", name, err)
	}
	return strings.TrimSuffix(out, "\n"), nil
}

func (b *CLIBackend) CaptureScrollback(name string) ([]string, error) {
	out, err := b.runner.Run("capture-pane", "-p", "-t", target(name), "-S", "-")
	if err != nil {
		return nil, fmt.Errorf("capture scrollback %q: %w", name, err)
	}
	return strings.Split(strings.TrimSuffix(out, "\n"), "\n"), nil
}

func (b *CLIBackend) HistorySize(name string) (int, error) {
	out, err := b.runner.Run("display-message", "-p", "-t", target(name), "#{history_size}")
	if err != nil {
		return 0, fmt.Errorf("history size %q: %w", name, err)
	}
	size, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse history size %q: %w", name, err)
	}
	return size, nil
}

func (b *CLIBackend) IsProcessDead(name string) (bool, error) {
	out, err := b.runner.Run("display-message", "-p", "-t", target(name), "#{pane_dead}")
	if err != nil {
		return false, fmt.Errorf("pane dead check %q: %w", name, err)
	}
	return strings.TrimSpace(out) == "1", nil
}

func (b *CLIBackend) IsAlive(name string) (bool, error) {
	if _, err := b.runner.Run("has-session", "-t", target(name)); err != nil {
		// has-session exits non-zero when missing or when no server runs
		return false, nil
	}
	return true, nil
}

func (b *CLIBackend) KillSession(name string) error {
	if _, err := b.runner.Run("kill-session", "-t", target(name)); err != nil {
		alive, aliveErr := b.IsAlive(name)
		if aliveErr == nil && !alive {
			log.Warn(log.CatTmux, "kill of missing session", "session", name)
			return nil
		}
		return fmt.Errorf("kill session %q: %w", name, err)
	}
	log.Info(log.CatTmux, "session killed", "session", name)
	return nil
}

func (b *CLIBackend) ListSessions() ([]string, error) {
	out, err := b.runner.Run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		// No server running means no sessions
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

func (b *CLIBackend) SessionPath(name string) (string, error) {
	out, err := b.runner.Run("display-message", "-p", "-t", target(name), "#{pane_current_path}")
	if err != nil {
		return "", fmt.Errorf("session path %q: %w", name, err)
	}
	return strings.TrimSpace(out), nil
}
