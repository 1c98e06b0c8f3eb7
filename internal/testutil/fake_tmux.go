// Package testutil provides test doubles shared across packages.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/agentdeck/internal/outputlog"
)

// KeyPress records one SendKeys call against the fake backend.
type KeyPress struct {
	Session string
	Keys    string
	Enter   bool
	Literal bool
}

// fakePane holds the scripted and mutable state of one fake session.
type fakePane struct {
	pane        string
	scrollback  []string
	historySize int
	processDead bool
	path        string
}

// FakeTmux is an in-memory tmux.Backend. Tests script pane content and
// inspect the exact keystroke sequence the code under test produced.
type FakeTmux struct {
	mu       sync.Mutex
	panes    map[string]*fakePane
	keys     []KeyPress
	commands map[string]string

	// CreateErr, when set, fails the next CreateSession call.
	CreateErr error
	// SendErr, when set, fails every SendKeys call.
	SendErr error
}

// NewFakeTmux creates an empty fake backend.
func NewFakeTmux() *FakeTmux {
	return &FakeTmux{
		panes:    make(map[string]*fakePane),
		commands: make(map[string]string),
	}
}

func (f *FakeTmux) CreateSession(name, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		err := f.CreateErr
		f.CreateErr = nil
		return err
	}
	if _, exists := f.panes[name]; exists {
		return fmt.Errorf("duplicate session %s", name)
	}
	f.panes[name] = &fakePane{}
	f.commands[name] = command
	return nil
}

func (f *FakeTmux) SendKeys(name, keys string, enter, literal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	if _, ok := f.panes[name]; !ok {
		return fmt.Errorf("no session %s", name)
	}
	f.keys = append(f.keys, KeyPress{Session: name, Keys: keys, Enter: enter, Literal: literal})
	return nil
}

func (f *FakeTmux) CapturePane(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[name]
	if !ok {
		return "", fmt.Errorf("no session %s", name)
	}
	return p.pane, nil
}

func (f *FakeTmux) CaptureScrollback(name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[name]
	if !ok {
		return nil, fmt.Errorf("no session %s", name)
	}
	out := make([]string, len(p.scrollback))
	copy(out, p.scrollback)
	return out, nil
}

func (f *FakeTmux) HistorySize(name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[name]
	if !ok {
		return 0, fmt.Errorf("no session %s", name)
	}
	return p.historySize, nil
}

func (f *FakeTmux) IsProcessDead(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[name]
	if !ok {
		return false, fmt.Errorf("no session %s", name)
	}
	return p.processDead, nil
}

func (f *FakeTmux) IsAlive(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.panes[name]
	return ok, nil
}

func (f *FakeTmux) KillSession(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.panes, name)
	return nil
}

func (f *FakeTmux) ListSessions() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.panes {
		names = append(names, name)
	}
	return names, nil
}

func (f *FakeTmux) SessionPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[name]
	if !ok {
		return "", fmt.Errorf("no session %s", name)
	}
	return p.path, nil
}

// === Scripting helpers ===

// AddSession registers a session as if it already existed on the server.
func (f *FakeTmux) AddSession(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panes[name] = &fakePane{}
}

// SetPane scripts the visible pane content for a session.
func (f *FakeTmux) SetPane(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panes[name]; ok {
		p.pane = content
	}
}

// SetScrollback scripts the full scrollback and its history size.
func (f *FakeTmux) SetScrollback(name string, lines []string, historySize int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panes[name]; ok {
		p.scrollback = lines
		p.historySize = historySize
	}
}

// SetProcessDead marks a session's pane process as exited.
func (f *FakeTmux) SetProcessDead(name string, dead bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panes[name]; ok {
		p.processDead = dead
	}
}

// SetPath scripts the working directory reported for a session.
func (f *FakeTmux) SetPath(name, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panes[name]; ok {
		p.path = path
	}
}

// Keys returns a copy of every SendKeys call so far.
func (f *FakeTmux) Keys() []KeyPress {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]KeyPress, len(f.keys))
	copy(out, f.keys)
	return out
}

// KeysFor returns the keystrokes sent to one session.
func (f *FakeTmux) KeysFor(name string) []KeyPress {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []KeyPress
	for _, k := range f.keys {
		if k.Session == name {
			out = append(out, k)
		}
	}
	return out
}

// ResetKeys clears the recorded keystrokes.
func (f *FakeTmux) ResetKeys() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = nil
}

// Command returns the launch command a session was created with.
func (f *FakeTmux) Command(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[name]
}

// SessionNames returns all session names joined for assertion messages.
func (f *FakeTmux) SessionNames() string {
	names, _ := f.ListSessions()
	return strings.Join(names, ",")
}

// OpenTestLog opens an output log in a temp directory and closes it when
// the test finishes.
func OpenTestLog(t *testing.T) *outputlog.Log {
	t.Helper()
	l, err := outputlog.Open(t.TempDir() + "/output.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}
