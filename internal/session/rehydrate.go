package session

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/zjrosen/agentdeck/internal/agent"
	"github.com/zjrosen/agentdeck/internal/config"
	"github.com/zjrosen/agentdeck/internal/log"
)

// Rehydrate adopts pre-existing state after a process restart.
//
// Live sessions come from the backend: every session with the agent- prefix
// (optionally filtered by the rehydrate whitelist) is registered as live,
// with its agent kind inferred from the id. Then every session id present
// in the output log but not among the live set is registered as dead with
// ended_at taken from its newest chunk.
func (o *Orchestrator) Rehydrate(ctx context.Context) error {
	whitelist := normalizeWhitelist(o.cfg.RehydrateDirWhitelist)

	names, err := o.backend.ListSessions()
	if err != nil {
		return err
	}

	live := make(map[string]bool)
	for _, name := range names {
		if !strings.HasPrefix(name, sessionIDPrefix) {
			continue
		}
		workingDir, err := o.backend.SessionPath(name)
		if err != nil {
			log.Debug(log.CatSession, "rehydrate path lookup failed", "session", name, "error", err)
			workingDir = ""
		}
		if !whitelisted(workingDir, whitelist) {
			log.Info(log.CatSession, "rehydrate skipped, not whitelisted", "session", name, "dir", workingDir)
			continue
		}
		kind := inferKind(name)
		if workingDir == "" {
			workingDir = o.cfg.DefaultWorkingDir
		}
		o.RegisterExisting(name, workingDir, kind)
		live[name] = true
		log.Info(log.CatSession, "rehydrated live session", "session", name, "dir", workingDir, "kind", kind)
	}

	if o.outputLog == nil {
		return nil
	}
	ids, err := o.outputLog.SessionIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if live[id] {
			continue
		}
		endedAt, _, err := o.outputLog.LatestTS(id)
		if err != nil {
			log.ErrorErr(log.CatSession, "rehydrate latest ts", err, "session", id)
		}
		// The directory is unrecoverable once tmux is gone.
		o.RegisterDead(id, "(unknown)", endedAt, inferKind(id))
		log.Info(log.CatSession, "rehydrated dead session", "session", id)
	}
	return nil
}

// inferKind reads the agent kind out of a session id prefix, defaulting to
// claude for ids predating the kind segment.
func inferKind(sessionID string) agent.Kind {
	for _, kind := range agent.Kinds() {
		if strings.HasPrefix(sessionID, sessionIDPrefix+string(kind)+"-") {
			return kind
		}
	}
	return agent.KindClaude
}

func normalizeWhitelist(dirs []string) []string {
	var out []string
	for _, raw := range dirs {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		abs, err := filepath.Abs(config.ExpandHome(raw))
		if err != nil {
			log.Warn(log.CatSession, "invalid rehydrate whitelist dir", "dir", raw)
			continue
		}
		out = append(out, abs)
	}
	return out
}

// whitelisted reports whether dir equals or sits under one of the allowed
// parents. An empty whitelist allows everything.
func whitelisted(dir string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	if dir == "" {
		return false
	}
	abs, err := filepath.Abs(config.ExpandHome(dir))
	if err != nil {
		return false
	}
	for _, parent := range allowed {
		if abs == parent || strings.HasPrefix(abs, parent+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
