// Package session implements the orchestrator: the session registry and
// lifecycle state machine, keystroke dispatch, and the background scrollback
// capture loop.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/agentdeck/internal/agent"
	"github.com/zjrosen/agentdeck/internal/config"
	"github.com/zjrosen/agentdeck/internal/detect"
	"github.com/zjrosen/agentdeck/internal/log"
	"github.com/zjrosen/agentdeck/internal/outputlog"
	"github.com/zjrosen/agentdeck/internal/pubsub"
	"github.com/zjrosen/agentdeck/internal/tmux"
	"github.com/zjrosen/agentdeck/internal/tracing"
)

// sessionIDPrefix marks tmux sessions managed by agentdeck.
const sessionIDPrefix = "agent-"

// maxSlugLen caps the slug portion of generated session ids.
const maxSlugLen = 20

// livenessTTL bounds how stale a cached backend liveness probe may be.
const livenessTTL = time.Second

// Keystroke pacing. These delays are part of the observable contract with
// the agent TUIs: sending faster drops keys in practice.
const (
	arrowKeyDelay   = 50 * time.Millisecond
	preEnterDelay   = 150 * time.Millisecond
	freeformDelay   = 200 * time.Millisecond
	clipboardDelay  = 100 * time.Millisecond
	debugEnterDelay = 300 * time.Millisecond
)

// Orchestrator tracks agent sessions and coordinates the terminal backend,
// the UI-state detector and the output log.
type Orchestrator struct {
	cfg       config.Config
	backend   tmux.Backend
	detector  *detect.Detector
	outputLog *outputlog.Log // nil when history is not configured
	recent    *RecentDirs
	tracer    trace.Tracer
	events    *pubsub.Broker[SessionEvent]
	liveness  *gocache.Cache

	mu       sync.RWMutex
	order    []string
	sessions map[string]*SessionInfo
	runtime  map[string]*runtimeState
	sendMu   map[string]*sync.Mutex

	// sleep paces keystroke sequences; tests substitute a no-op.
	sleep func(time.Duration)
}

// NewOrchestrator creates an orchestrator. outputLog may be nil, which
// disables history capture and makes history reads fail unavailable.
func NewOrchestrator(cfg config.Config, backend tmux.Backend, outputLog *outputlog.Log) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		backend:   backend,
		detector:  detect.New(cfg.SpinnerGlyphs),
		outputLog: outputLog,
		recent:    NewRecentDirs(cfg.RecentDirsPath()),
		tracer:    noop.NewTracerProvider().Tracer("noop"),
		events:    pubsub.NewBroker[SessionEvent](),
		liveness:  gocache.New(livenessTTL, time.Minute),
		sessions:  make(map[string]*SessionInfo),
		runtime:   make(map[string]*runtimeState),
		sendMu:    make(map[string]*sync.Mutex),
		sleep:     time.Sleep,
	}
}

// SetTracer installs a tracer for orchestrator spans.
func (o *Orchestrator) SetTracer(tracer trace.Tracer) {
	if tracer != nil {
		o.tracer = tracer
	}
}

// Detector returns the shared pane-text detector.
func (o *Orchestrator) Detector() *detect.Detector {
	return o.detector
}

// OutputLog returns the output log, or ErrLogUnavailable when absent.
func (o *Orchestrator) OutputLog() (*outputlog.Log, error) {
	if o.outputLog == nil {
		return nil, ErrLogUnavailable
	}
	return o.outputLog, nil
}

// Subscribe returns a channel of session events, closed with ctx.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan pubsub.Event[SessionEvent] {
	return o.events.Subscribe(ctx)
}

// Close releases the event broker.
func (o *Orchestrator) Close() {
	o.events.Close()
}

// Create launches a new agent session in workingDir.
// title, when set, seeds the session id slug.
func (o *Orchestrator) Create(ctx context.Context, workingDir, title string, kind agent.Kind) (SessionInfo, error) {
	_, span := o.tracer.Start(ctx, tracing.SpanPrefixSession+"create")
	defer span.End()

	adapter, err := agent.For(kind)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("%w: %v", ErrBadInput, err)
	}

	dir := config.ExpandHome(workingDir)
	if dir == "" {
		dir = o.cfg.DefaultWorkingDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("%w: resolve %q: %v", ErrBadInput, workingDir, err)
	}
	stat, err := os.Stat(abs)
	if err != nil || !stat.IsDir() {
		return SessionInfo{}, fmt.Errorf("%w: directory not found: %s", ErrBadInput, workingDir)
	}

	if gitStat, gitErr := os.Stat(filepath.Join(abs, ".git")); gitErr != nil || !gitStat.IsDir() {
		log.Warn(log.CatSession, "not a git repo", "working_dir", abs)
	}

	info := SessionInfo{
		AgentKind:  kind,
		WorkingDir: abs,
		IsAlive:    true,
	}

	// Reserve the id in the registry before launching so a concurrent
	// create cannot pick the same one.
	o.mu.Lock()
	id := o.buildSessionIDLocked(abs, title, kind)
	info.SessionID = id
	o.registerLocked(info)
	o.mu.Unlock()

	if err := o.backend.CreateSession(id, adapter.LaunchCommand(abs)); err != nil {
		o.mu.Lock()
		delete(o.sessions, id)
		delete(o.runtime, id)
		for i, sid := range o.order {
			if sid == id {
				o.order = append(o.order[:i], o.order[i+1:]...)
				break
			}
		}
		o.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("launch agent: %w", err)
	}

	if err := o.recent.Record(abs); err != nil {
		log.ErrorErr(log.CatSession, "record recent dir", err, "dir", abs)
	}

	span.SetAttributes(
		attribute.String(tracing.AttrSessionID, id),
		attribute.String(tracing.AttrAgentKind, string(kind)),
		attribute.String(tracing.AttrWorkingDir, abs),
	)
	log.Info(log.CatSession, "session created", "session", id, "kind", kind, "dir", abs)
	o.events.Publish(pubsub.SessionEvent, SessionEvent{SessionID: id, Lifecycle: StateLive})
	return info, nil
}

// registerLocked adds a session to the registry. Caller holds o.mu.
func (o *Orchestrator) registerLocked(info SessionInfo) {
	copied := info
	o.sessions[info.SessionID] = &copied
	o.order = append(o.order, info.SessionID)
	o.runtime[info.SessionID] = &runtimeState{}
}

// RegisterExisting adopts a tmux session that already exists as live.
func (o *Orchestrator) RegisterExisting(id, workingDir string, kind agent.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registerLocked(SessionInfo{
		SessionID:  id,
		AgentKind:  kind,
		WorkingDir: workingDir,
		IsAlive:    true,
	})
}

// RegisterDead records a session that is no longer alive, typically found
// in the output log at startup.
func (o *Orchestrator) RegisterDead(id, workingDir string, endedAt float64, kind agent.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registerLocked(SessionInfo{
		SessionID:  id,
		AgentKind:  kind,
		WorkingDir: workingDir,
		IsAlive:    false,
		EndedAt:    &endedAt,
	})
}

// buildSessionIDLocked derives a unique session id. Caller holds o.mu.
//
// The id is agent-<kind>-<slug> where slug comes from the title or the
// directory basename. A numeric suffix is appended when the id is taken or
// another session already uses the same working directory.
func (o *Orchestrator) buildSessionIDLocked(absDir, title string, kind agent.Kind) string {
	source := strings.TrimSpace(title)
	if source == "" {
		source = filepath.Base(absDir)
	}
	slug := slugify(source)
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	if slug == "" {
		slug = "session"
	}
	base := sessionIDPrefix + string(kind) + "-" + slug

	sameDir := false
	for _, info := range o.sessions {
		if info.WorkingDir == absDir {
			sameDir = true
			break
		}
	}
	if _, taken := o.sessions[base]; !taken && !sameDir {
		return base
	}
	for suffix := 2; ; suffix++ {
		candidate := fmt.Sprintf("%s-%d", base, suffix)
		if _, taken := o.sessions[candidate]; !taken {
			return candidate
		}
	}
}

// slugify lowercases and keeps [a-z0-9-_], replacing everything else with
// "-" and trimming leading/trailing dashes.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// lockSession returns the per-session send mutex, creating it on first use.
// Holding it serializes whole keystroke sequences including their delays.
func (o *Orchestrator) lockSession(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.sendMu[id]
	if !ok {
		m = &sync.Mutex{}
		o.sendMu[id] = m
	}
	return m
}

// get returns a copy of the session record.
func (o *Orchestrator) get(id string) (SessionInfo, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	info, ok := o.sessions[id]
	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return *info, nil
}

// requireAlive returns the session if it exists and is live.
func (o *Orchestrator) requireAlive(id string) (SessionInfo, error) {
	info, err := o.get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	if !info.IsAlive {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}
	return info, nil
}

// markDead transitions a session to dead exactly once.
func (o *Orchestrator) markDead(id string) {
	o.mu.Lock()
	info, ok := o.sessions[id]
	transitioned := false
	if ok && info.State().CanTransitionTo(StateDead) {
		now := unixNow()
		info.IsAlive = false
		info.EndedAt = &now
		transitioned = true
	}
	o.mu.Unlock()

	if transitioned {
		log.Info(log.CatSession, "session dead", "session", id)
		o.events.Publish(pubsub.SessionEvent, SessionEvent{SessionID: id, Lifecycle: StateDead})
	}
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// clearRuntime drops all per-session capture state.
func (o *Orchestrator) clearRuntime(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runtime, id)
}

// Kill kills a session's pane and marks it dead. Killing a session that is
// already dead only re-marks it.
func (o *Orchestrator) Kill(ctx context.Context, id string) error {
	_, span := o.tracer.Start(ctx, tracing.SpanPrefixSession+"kill")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrSessionID, id))

	if _, err := o.get(id); err != nil {
		return err
	}
	if err := o.backend.KillSession(id); err != nil {
		span.SetAttributes(attribute.String(tracing.AttrErrorMessage, err.Error()))
		return fmt.Errorf("kill session: %w", err)
	}
	o.markDead(id)
	o.clearRuntime(id)
	o.liveness.Delete(id)
	return nil
}

// RemoveDead forgets a dead session and soft-deletes its log data.
func (o *Orchestrator) RemoveDead(id string) error {
	info, err := o.get(id)
	if err != nil {
		return err
	}
	if info.IsAlive {
		return fmt.Errorf("%w: session is still alive: %s", ErrBadInput, id)
	}
	if o.outputLog != nil {
		if err := o.outputLog.SoftDelete(id); err != nil {
			return err
		}
	}

	o.mu.Lock()
	delete(o.sessions, id)
	delete(o.runtime, id)
	delete(o.sendMu, id)
	for i, sid := range o.order {
		if sid == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	log.Info(log.CatSession, "session removed", "session", id)
	return nil
}

// checkAlive probes the backend for liveness, with a short TTL cache so
// polling clients do not hammer tmux.
func (o *Orchestrator) checkAlive(id string) bool {
	if cached, ok := o.liveness.Get(id); ok {
		return cached.(bool)
	}
	alive, err := o.backend.IsAlive(id)
	if err != nil {
		// Probe failure says nothing about the session; assume alive.
		log.Debug(log.CatSession, "liveness probe failed", "session", id, "error", err)
		return true
	}
	o.liveness.SetDefault(id, alive)
	return alive
}

// List returns all tracked sessions in creation order.
// Sessions still marked live are opportunistically re-probed; if the
// backend no longer knows them they are marked dead.
func (o *Orchestrator) List(ctx context.Context) []SessionInfo {
	o.mu.RLock()
	ids := make([]string, len(o.order))
	copy(ids, o.order)
	o.mu.RUnlock()

	var out []SessionInfo
	for _, id := range ids {
		info, err := o.get(id)
		if err != nil {
			continue // removed concurrently
		}
		if info.IsAlive && !o.checkAlive(id) {
			o.markDead(id)
			info, _ = o.get(id)
		}
		out = append(out, info)
	}
	return out
}

// Get returns one session, re-probing liveness like List.
func (o *Orchestrator) Get(ctx context.Context, id string) (SessionInfo, error) {
	info, err := o.get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	if info.IsAlive && !o.checkAlive(id) {
		o.markDead(id)
		info, err = o.get(id)
		if err != nil {
			return SessionInfo{}, err
		}
	}
	return info, nil
}

// ActiveSessionIDs returns ids of sessions still marked live, for the
// capture loop.
func (o *Orchestrator) ActiveSessionIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var ids []string
	for _, id := range o.order {
		if info, ok := o.sessions[id]; ok && info.IsAlive {
			ids = append(ids, id)
		}
	}
	return ids
}

// RecentDirs lists recently used working directories, newest first.
func (o *Orchestrator) RecentDirs() []string {
	return o.recent.List()
}
