package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/agentdeck/internal/agent"
	"github.com/zjrosen/agentdeck/internal/testutil"
)

func TestRehydrateAdoptsLiveSessions(t *testing.T) {
	fake := testutil.NewFakeTmux()
	fake.AddSession("agent-claude-alpha")
	fake.SetPath("agent-claude-alpha", "/work/alpha")
	fake.AddSession("agent-codex-beta")
	fake.SetPath("agent-codex-beta", "/work/beta")
	// Not ours: no prefix.
	fake.AddSession("scratch")

	o := NewOrchestrator(testConfig(t), fake, nil)
	o.sleep = func(time.Duration) {}
	t.Cleanup(o.Close)

	require.NoError(t, o.Rehydrate(context.Background()))

	claude, err := o.Get(context.Background(), "agent-claude-alpha")
	require.NoError(t, err)
	require.True(t, claude.IsAlive)
	require.Equal(t, agent.KindClaude, claude.AgentKind)
	require.Equal(t, "/work/alpha", claude.WorkingDir)

	codex, err := o.Get(context.Background(), "agent-codex-beta")
	require.NoError(t, err)
	require.Equal(t, agent.KindCodex, codex.AgentKind)

	_, err = o.Get(context.Background(), "scratch")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRehydrateWhitelist(t *testing.T) {
	fake := testutil.NewFakeTmux()
	fake.AddSession("agent-claude-in")
	fake.SetPath("agent-claude-in", "/work/allowed/project")
	fake.AddSession("agent-claude-out")
	fake.SetPath("agent-claude-out", "/elsewhere/project")

	cfg := testConfig(t)
	cfg.RehydrateDirWhitelist = []string{"/work/allowed"}
	o := NewOrchestrator(cfg, fake, nil)
	o.sleep = func(time.Duration) {}
	t.Cleanup(o.Close)

	require.NoError(t, o.Rehydrate(context.Background()))

	_, err := o.Get(context.Background(), "agent-claude-in")
	require.NoError(t, err)
	_, err = o.Get(context.Background(), "agent-claude-out")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRehydrateDeadFromOutputLog(t *testing.T) {
	fake := testutil.NewFakeTmux()
	l := testutil.OpenTestLog(t)
	require.NoError(t, l.Append("agent-codex-gone", []string{"old output"}))

	o := NewOrchestrator(testConfig(t), fake, l)
	o.sleep = func(time.Duration) {}
	t.Cleanup(o.Close)

	require.NoError(t, o.Rehydrate(context.Background()))

	info, err := o.Get(context.Background(), "agent-codex-gone")
	require.NoError(t, err)
	require.False(t, info.IsAlive)
	require.Equal(t, agent.KindCodex, info.AgentKind)
	require.NotNil(t, info.EndedAt)

	// Ended at the newest logged chunk.
	ts, ok, err := l.LatestTS("agent-codex-gone")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ts, *info.EndedAt)
}

func TestRehydrateLiveSessionNotMarkedDead(t *testing.T) {
	fake := testutil.NewFakeTmux()
	l := testutil.OpenTestLog(t)
	require.NoError(t, l.Append("agent-claude-alpha", []string{"output"}))
	fake.AddSession("agent-claude-alpha")
	fake.SetPath("agent-claude-alpha", "/work/alpha")

	o := NewOrchestrator(testConfig(t), fake, l)
	o.sleep = func(time.Duration) {}
	t.Cleanup(o.Close)

	require.NoError(t, o.Rehydrate(context.Background()))

	info, err := o.Get(context.Background(), "agent-claude-alpha")
	require.NoError(t, err)
	require.True(t, info.IsAlive)
	require.Len(t, o.List(context.Background()), 1)
}

func TestInferKind(t *testing.T) {
	require.Equal(t, agent.KindClaude, inferKind("agent-claude-foo"))
	require.Equal(t, agent.KindCodex, inferKind("agent-codex-foo"))
	// Ids predating the kind segment default to claude.
	require.Equal(t, agent.KindClaude, inferKind("agent-foo"))
}
