// Package tmux drives a tmux server over its CLI. Each agent session lives
// in its own detached tmux session with a fixed-size pane and remain-on-exit
// set, so a dead agent's final screen stays capturable.
package tmux

// Backend defines the terminal multiplexer operations the orchestrator
// needs. This abstraction allows for easy testing with fake implementations.
type Backend interface {
	// CreateSession creates a detached session running command, with the
	// configured pane geometry, scrollback limit and remain-on-exit.
	CreateSession(name, command string) error

	// SendKeys sends keys to the session's active pane. When literal is
	// true, keys are sent without tmux key-name interpretation. When enter
	// is true, an Enter keypress follows.
	SendKeys(name, keys string, enter, literal bool) error

	// CapturePane returns the visible pane content as a single string.
	CapturePane(name string) (string, error)

	// CaptureScrollback returns the full scrollback plus visible pane as
	// a line vector.
	CaptureScrollback(name string) ([]string, error)

	// HistorySize returns the number of lines scrolled above the pane.
	HistorySize(name string) (int, error)

	// IsProcessDead reports whether the pane's process has exited.
	// Requires remain-on-exit, otherwise the pane disappears on death.
	IsProcessDead(name string) (bool, error)

	// IsAlive reports whether the session exists.
	IsAlive(name string) (bool, error)

	// KillSession kills the session. Killing a missing session is not an
	// error.
	KillSession(name string) error

	// ListSessions returns all session names on the server.
	ListSessions() ([]string, error)

	// SessionPath returns the active pane's current working directory,
	// or "" when it cannot be determined.
	SessionPath(name string) (string, error)
}
