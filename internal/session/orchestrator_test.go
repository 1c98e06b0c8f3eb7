package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/agentdeck/internal/agent"
	"github.com/zjrosen/agentdeck/internal/config"
	"github.com/zjrosen/agentdeck/internal/outputlog"
	"github.com/zjrosen/agentdeck/internal/testutil"
)

var errTest = errors.New("test failure")

func mkdir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.StateDir = t.TempDir()
	return cfg
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *testutil.FakeTmux) {
	t.Helper()
	fake := testutil.NewFakeTmux()
	o := NewOrchestrator(testConfig(t), fake, nil)
	o.sleep = func(time.Duration) {}
	t.Cleanup(o.Close)
	return o, fake
}

func newTestOrchestratorWithLog(t *testing.T) (*Orchestrator, *testutil.FakeTmux, *outputlog.Log) {
	t.Helper()
	fake := testutil.NewFakeTmux()
	l := testutil.OpenTestLog(t)
	o := NewOrchestrator(testConfig(t), fake, l)
	o.sleep = func(time.Duration) {}
	t.Cleanup(o.Close)
	return o, fake, l
}

func TestCreateLaunchesAgent(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	dir := t.TempDir()

	info, err := o.Create(context.Background(), dir, "My Feature!", agent.KindClaude)
	require.NoError(t, err)
	require.Equal(t, "agent-claude-my-feature", info.SessionID)
	require.True(t, info.IsAlive)
	require.Equal(t, dir, info.WorkingDir)
	require.Equal(t, "cd "+dir+" && claude", fake.Command(info.SessionID))
}

func TestCreateSlugFromDirBasename(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	dir := filepath.Join(t.TempDir(), "My Project")
	require.NoError(t, mkdir(dir))

	info, err := o.Create(context.Background(), dir, "", agent.KindCodex)
	require.NoError(t, err)
	require.Equal(t, "agent-codex-my-project", info.SessionID)
}

func TestCreateSuffixesOnSameWorkingDir(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	dir := t.TempDir()

	first, err := o.Create(context.Background(), dir, "work", agent.KindClaude)
	require.NoError(t, err)
	second, err := o.Create(context.Background(), dir, "work", agent.KindClaude)
	require.NoError(t, err)
	third, err := o.Create(context.Background(), dir, "work", agent.KindClaude)
	require.NoError(t, err)

	require.Equal(t, "agent-claude-work", first.SessionID)
	require.Equal(t, "agent-claude-work-2", second.SessionID)
	require.Equal(t, "agent-claude-work-3", third.SessionID)
}

func TestCreateSuffixesOnTakenID(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	first, err := o.Create(context.Background(), t.TempDir(), "fix", agent.KindClaude)
	require.NoError(t, err)
	second, err := o.Create(context.Background(), t.TempDir(), "fix", agent.KindClaude)
	require.NoError(t, err)

	require.Equal(t, "agent-claude-fix", first.SessionID)
	require.Equal(t, "agent-claude-fix-2", second.SessionID)
}

func TestCreateRejectsMissingDir(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.Create(context.Background(), filepath.Join(t.TempDir(), "nope"), "", agent.KindClaude)
	require.ErrorIs(t, err, ErrBadInput)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.Create(context.Background(), t.TempDir(), "", agent.Kind("gemini"))
	require.ErrorIs(t, err, ErrBadInput)
}

func TestCreateRollsBackOnLaunchFailure(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	fake.CreateErr = errTest

	_, err := o.Create(context.Background(), t.TempDir(), "boom", agent.KindClaude)
	require.Error(t, err)

	// The reserved id must be free again.
	_, err = o.Get(context.Background(), "agent-claude-boom")
	require.ErrorIs(t, err, ErrSessionNotFound)
	info, err := o.Create(context.Background(), t.TempDir(), "boom", agent.KindClaude)
	require.NoError(t, err)
	require.Equal(t, "agent-claude-boom", info.SessionID)
}

func TestCreateRecordsRecentDir(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	dir := t.TempDir()

	_, err := o.Create(context.Background(), dir, "", agent.KindClaude)
	require.NoError(t, err)
	require.Equal(t, []string{dir}, o.RecentDirs())
}

func TestKillMarksDead(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	info, err := o.Create(context.Background(), t.TempDir(), "", agent.KindClaude)
	require.NoError(t, err)

	require.NoError(t, o.Kill(context.Background(), info.SessionID))

	got, err := o.Get(context.Background(), info.SessionID)
	require.NoError(t, err)
	require.False(t, got.IsAlive)
	require.NotNil(t, got.EndedAt)

	alive, err := fake.IsAlive(info.SessionID)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestSendInputToDeadSessionFails(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	info, err := o.Create(context.Background(), t.TempDir(), "", agent.KindClaude)
	require.NoError(t, err)
	require.NoError(t, o.Kill(context.Background(), info.SessionID))

	err = o.SendInput(context.Background(), info.SessionID, "hello")
	require.ErrorIs(t, err, ErrSessionEnded)
}

func TestRemoveDead(t *testing.T) {
	o, _, l := newTestOrchestratorWithLog(t)
	info, err := o.Create(context.Background(), t.TempDir(), "", agent.KindClaude)
	require.NoError(t, err)
	require.NoError(t, l.Append(info.SessionID, []string{"some output"}))

	// Removing a live session is refused.
	require.ErrorIs(t, o.RemoveDead(info.SessionID), ErrBadInput)

	require.NoError(t, o.Kill(context.Background(), info.SessionID))
	require.NoError(t, o.RemoveDead(info.SessionID))

	_, err = o.Get(context.Background(), info.SessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	// The session's log data is archived too.
	page, err := l.Read(info.SessionID, 0, 10)
	require.NoError(t, err)
	require.Empty(t, page.Chunks)
}

func TestListPreservesCreationOrder(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	a, err := o.Create(context.Background(), t.TempDir(), "alpha", agent.KindClaude)
	require.NoError(t, err)
	b, err := o.Create(context.Background(), t.TempDir(), "beta", agent.KindCodex)
	require.NoError(t, err)

	list := o.List(context.Background())
	require.Len(t, list, 2)
	require.Equal(t, a.SessionID, list[0].SessionID)
	require.Equal(t, b.SessionID, list[1].SessionID)
}

func TestListDetectsExternallyKilledSession(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	info, err := o.Create(context.Background(), t.TempDir(), "", agent.KindClaude)
	require.NoError(t, err)

	// The tmux session vanishes behind the orchestrator's back.
	require.NoError(t, fake.KillSession(info.SessionID))

	list := o.List(context.Background())
	require.Len(t, list, 1)
	require.False(t, list[0].IsAlive)
}

func TestGetUnknownSession(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.Get(context.Background(), "agent-claude-missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOutputLogUnavailable(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.OutputLog()
	require.ErrorIs(t, err, ErrLogUnavailable)
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := o.Subscribe(ctx)

	info, err := o.Create(context.Background(), t.TempDir(), "", agent.KindClaude)
	require.NoError(t, err)
	require.NoError(t, o.Kill(context.Background(), info.SessionID))

	created := <-events
	require.Equal(t, info.SessionID, created.Payload.SessionID)
	require.Equal(t, StateLive, created.Payload.Lifecycle)

	died := <-events
	require.Equal(t, info.SessionID, died.Payload.SessionID)
	require.Equal(t, StateDead, died.Payload.Lifecycle)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Feature!":        "my-feature",
		"  spaced  ":         "spaced",
		"under_score":        "under_score",
		"UPPER":              "upper",
		"a/b/c":              "a-b-c",
		"---":                "",
		"release v2.1":       "release-v2-1",
		"日本語タイトル":            "",
	}
	for in, want := range cases {
		require.Equal(t, want, slugify(in), "slugify(%q)", in)
	}
}

func TestSlugifyAlphabet(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		out := slugify(rapid.String().Draw(t, "name"))
		for _, r := range out {
			valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
			require.True(t, valid, "unexpected rune %q in %q", r, out)
		}
		if out != "" {
			require.NotEqual(t, byte('-'), out[0])
			require.NotEqual(t, byte('-'), out[len(out)-1])
		}
	})
}
