package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/agentdeck/internal/agent"
	"github.com/zjrosen/agentdeck/internal/detect"
	"github.com/zjrosen/agentdeck/internal/pubsub"
	"github.com/zjrosen/agentdeck/internal/testutil"
)

const arrowListPane = `Do you want to proceed?
 › 1. Yes
   2. No
   3. Type something.
 Enter to select · ↑/↓ to navigate · Esc to cancel
`

const numberListPane = `Select a model:
 1. sonnet
 2. opus
 3. haiku
 Enter to confirm · Esc to cancel
`

func createSession(t *testing.T, o *Orchestrator) string {
	t.Helper()
	info, err := o.Create(context.Background(), t.TempDir(), "", agent.KindClaude)
	require.NoError(t, err)
	return info.SessionID
}

func TestSendInputLiteralTextThenEnter(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)
	fake.ResetKeys()

	require.NoError(t, o.SendInput(context.Background(), id, "fix the tests"))

	keys := fake.KeysFor(id)
	require.Len(t, keys, 2)
	require.Equal(t, testutil.KeyPress{Session: id, Keys: "fix the tests", Literal: true}, keys[0])
	require.Equal(t, testutil.KeyPress{Session: id, Keys: "Enter"}, keys[1])
}

func TestSendInputShortcutExpansion(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)
	fake.ResetKeys()

	require.NoError(t, o.SendInput(context.Background(), id, "stop"))

	keys := fake.KeysFor(id)
	require.Len(t, keys, 1)
	require.Equal(t, "Escape", keys[0].Keys)
	require.False(t, keys[0].Literal)
	require.False(t, keys[0].Enter)
}

func TestSendInputShortcutCaseInsensitive(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)
	fake.ResetKeys()

	require.NoError(t, o.SendInput(context.Background(), id, "  Cancel "))

	keys := fake.KeysFor(id)
	require.Len(t, keys, 1)
	require.Equal(t, "C-c", keys[0].Keys)
}

func TestSendRawKeysSkipsShortcuts(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)
	fake.ResetKeys()

	// "stop" would expand as a shortcut; raw send must not.
	require.NoError(t, o.SendRawKeys(context.Background(), id, "stop", true))

	keys := fake.KeysFor(id)
	require.Len(t, keys, 1)
	require.Equal(t, testutil.KeyPress{Session: id, Keys: "stop", Enter: true, Literal: true}, keys[0])
}

func TestSendSelectionArrowMovesOnce(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)
	fake.SetPane(id, arrowListPane)
	fake.ResetKeys()

	require.NoError(t, o.SendSelection(context.Background(), id, 2, ""))

	// Cursor on item 1, target item 2: exactly one Down plus Enter.
	keys := fake.KeysFor(id)
	require.Len(t, keys, 2)
	require.Equal(t, "Down", keys[0].Keys)
	require.Equal(t, "Enter", keys[1].Keys)
}

func TestSendSelectionArrowUp(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)
	fake.SetPane(id, `Pick:
   1. first
 › 2. second
 Enter to select · ↑/↓ to navigate · Esc to cancel
`)
	fake.ResetKeys()

	require.NoError(t, o.SendSelection(context.Background(), id, 1, ""))

	keys := fake.KeysFor(id)
	require.Len(t, keys, 2)
	require.Equal(t, "Up", keys[0].Keys)
	require.Equal(t, "Enter", keys[1].Keys)
}

func TestSendSelectionAlreadyOnTarget(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)
	fake.SetPane(id, arrowListPane)
	fake.ResetKeys()

	require.NoError(t, o.SendSelection(context.Background(), id, 1, ""))

	// No movement needed, just confirm.
	keys := fake.KeysFor(id)
	require.Len(t, keys, 1)
	require.Equal(t, "Enter", keys[0].Keys)
}

func TestSendSelectionNumberMode(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)
	fake.SetPane(id, numberListPane)
	fake.ResetKeys()

	require.NoError(t, o.SendSelection(context.Background(), id, 3, ""))

	// Digits typed literally; never arrow keys.
	keys := fake.KeysFor(id)
	require.Len(t, keys, 2)
	require.Equal(t, testutil.KeyPress{Session: id, Keys: "3", Literal: true}, keys[0])
	require.Equal(t, "Enter", keys[1].Keys)
}

func TestSendSelectionFreeformText(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)
	fake.SetPane(id, arrowListPane)
	fake.ResetKeys()

	require.NoError(t, o.SendSelection(context.Background(), id, 3, "feat: add parser"))

	keys := fake.KeysFor(id)
	require.Len(t, keys, 4)
	require.Equal(t, "Down", keys[0].Keys)
	require.Equal(t, "Down", keys[1].Keys)
	require.Equal(t, "Enter", keys[2].Keys)
	require.Equal(t, testutil.KeyPress{Session: id, Keys: "feat: add parser", Enter: true, Literal: true}, keys[3])
}

func TestSendSelectionItemNotOnScreen(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)
	fake.SetPane(id, arrowListPane)

	err := o.SendSelection(context.Background(), id, 7, "")
	require.ErrorIs(t, err, ErrBadInput)
}

func TestSendSelectionUsesCurrentScreen(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)

	// The client saw a selection, but by dispatch time the agent moved on.
	fake.SetPane(id, "✳ Working on it…\n")
	fake.ResetKeys()

	err := o.SendSelection(context.Background(), id, 1, "")
	require.ErrorIs(t, err, ErrBadInput)
	require.Empty(t, fake.KeysFor(id))
}

func TestPasteImageRejectsUnknownFormat(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	id := createSession(t, o)

	err := o.PasteImage(context.Background(), id, "/tmp/x.gif", "gif")
	require.ErrorIs(t, err, ErrBadInput)
}

func TestCaptureOutputChangeFlag(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	id := createSession(t, o)

	fake.SetPane(id, "screen one")
	out, err := o.CaptureOutput(id)
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.Equal(t, "screen one", out.Content)

	out, err = o.CaptureOutput(id)
	require.NoError(t, err)
	require.False(t, out.Changed)

	fake.SetPane(id, "screen two")
	out, err = o.CaptureOutput(id)
	require.NoError(t, err)
	require.True(t, out.Changed)
}

func TestCaptureOutputUnknownSession(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.CaptureOutput("agent-claude-missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestParseOutputPublishesState(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	id := createSession(t, o)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := o.Subscribe(ctx)

	parsed := o.ParseOutput(id, "✳ Thinking…\n")
	require.Equal(t, detect.StateWorking, parsed.State)

	ev := <-events
	require.Equal(t, pubsub.StateEvent, ev.Type)
	require.Equal(t, id, ev.Payload.SessionID)
	require.Equal(t, detect.StateWorking, ev.Payload.UIState)
}
