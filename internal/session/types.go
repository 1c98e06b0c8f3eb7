package session

import (
	"github.com/zjrosen/agentdeck/internal/agent"
	"github.com/zjrosen/agentdeck/internal/detect"
)

// State is a session's lifecycle state.
type State string

const (
	// StateLive means the agent process is (believed) running.
	StateLive State = "live"
	// StateDead means the agent process has exited or been killed.
	StateDead State = "dead"
)

// validTransitions defines the lifecycle state machine.
// A session dies at most once and never comes back.
var validTransitions = map[State][]State{
	StateLive: {StateDead},
	StateDead: {},
}

// CanTransitionTo reports whether s may transition to target.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// SessionInfo is the client-visible record for one session.
type SessionInfo struct {
	SessionID  string     `json:"session_id"`
	AgentKind  agent.Kind `json:"agent_type"`
	WorkingDir string     `json:"working_dir"`
	IsAlive    bool       `json:"is_alive"`
	// EndedAt is fractional unix seconds; nil (wire null) while the
	// session lives.
	EndedAt *float64 `json:"ended_at"`
}

// State returns the lifecycle state implied by IsAlive.
func (s SessionInfo) State() State {
	if s.IsAlive {
		return StateLive
	}
	return StateDead
}

// SessionOutput is a visible-pane capture with a change flag.
type SessionOutput struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Changed   bool   `json:"changed"`
}

// SessionEvent is published on the orchestrator's broker for lifecycle
// transitions and detected UI-state changes. A notifier subscribes here.
type SessionEvent struct {
	SessionID string       `json:"session_id"`
	Lifecycle State        `json:"lifecycle,omitempty"`
	UIState   detect.State `json:"ui_state,omitempty"`
}

// runtimeState is per-session orchestrator-private capture state.
// It exists only while the session is live and is cleared on death.
type runtimeState struct {
	lastOutput      string
	lastTail        []string
	lastHistorySize int
	hasHistorySize  bool
}
