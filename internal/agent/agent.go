// Package agent holds the static adapter tables for supported coding agent
// CLIs. Adapters are immutable values and safe to share.
package agent

import (
	"fmt"
	"strings"
)

// Kind identifies a supported coding agent CLI.
type Kind string

const (
	KindClaude Kind = "claude"
	KindCodex  Kind = "codex"
)

// ParseKind validates a kind string from the wire.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindClaude:
		return KindClaude, nil
	case KindCodex:
		return KindCodex, nil
	default:
		return "", fmt.Errorf("unknown agent kind %q", s)
	}
}

// Shortcut maps a logical action to the keys that drive it.
// PressEnter is false for special keys sent as tmux key names.
type Shortcut struct {
	Keys       string
	PressEnter bool
}

// SlashCommand is an agent slash command surfaced to clients.
type SlashCommand struct {
	Text             string `json:"text"`
	SendEnter        bool   `json:"send_enter"`
	NeedConfirmation bool   `json:"need_confirmation"`
	// ShowNav marks commands whose output clients offer to scroll to.
	ShowNav bool `json:"show_nav"`
}

// Adapter is the static configuration for one agent kind.
type Adapter struct {
	Kind          Kind
	command       string
	shortcuts     map[string]Shortcut
	slashCommands []SlashCommand
}

// LaunchCommand returns the shell command to start the agent in dir.
func (a Adapter) LaunchCommand(dir string) string {
	return fmt.Sprintf("cd %s && %s", dir, a.command)
}

// ExpandShortcut resolves a shortcut name to its keys.
// Names are matched case-insensitively with surrounding space ignored.
func (a Adapter) ExpandShortcut(text string) (Shortcut, bool) {
	s, ok := a.shortcuts[strings.ToLower(strings.TrimSpace(text))]
	return s, ok
}

// SlashCommands returns the agent's slash commands.
func (a Adapter) SlashCommands() []SlashCommand {
	out := make([]SlashCommand, len(a.slashCommands))
	copy(out, a.slashCommands)
	return out
}

var claudeAdapter = Adapter{
	Kind:    KindClaude,
	command: "claude",
	shortcuts: map[string]Shortcut{
		"stop":   {Keys: "Escape"},
		"cancel": {Keys: "C-c"},
		"up":     {Keys: "Up"},
		"down":   {Keys: "Down"},
		"enter":  {Keys: "Enter"},
		"tab":    {Keys: "BTab"},
	},
	slashCommands: []SlashCommand{
		{Text: "/context", SendEnter: true},
		{Text: "/clear", SendEnter: true, NeedConfirmation: true},
		{Text: "/compact", SendEnter: true, NeedConfirmation: true},
		{Text: "/pytest", SendEnter: true},
	},
}

// Codex shares the standard TUI keys but has no back-tab cycling.
var codexAdapter = Adapter{
	Kind:    KindCodex,
	command: "codex",
	shortcuts: map[string]Shortcut{
		"stop":   {Keys: "Escape"},
		"cancel": {Keys: "C-c"},
		"up":     {Keys: "Up"},
		"down":   {Keys: "Down"},
		"enter":  {Keys: "Enter"},
	},
	slashCommands: []SlashCommand{
		{Text: "/model", SendEnter: true},
	},
}

// For returns the adapter for a kind.
func For(kind Kind) (Adapter, error) {
	switch kind {
	case KindClaude:
		return claudeAdapter, nil
	case KindCodex:
		return codexAdapter, nil
	default:
		return Adapter{}, fmt.Errorf("unknown agent kind %q", kind)
	}
}

// Kinds returns all supported agent kinds.
func Kinds() []Kind {
	return []Kind{KindClaude, KindCodex}
}
