package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/agentdeck/internal/log"
	"github.com/zjrosen/agentdeck/internal/tracing"
)

// fingerprintSize is how many trailing lines of the previous scrollback
// snapshot are used to find the splice point in the next one.
const fingerprintSize = 5

// RunCaptureLoop ticks every capture interval, appending scrollback deltas
// for every live session until ctx is cancelled. A failure on one session
// is logged at debug level and never stops the loop.
func (o *Orchestrator) RunCaptureLoop(ctx context.Context) {
	interval := time.Duration(o.cfg.Capture.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info(log.CatCapture, "capture loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			log.Info(log.CatCapture, "capture loop stopped")
			return
		case <-ticker.C:
			o.captureTick(ctx)
		}
	}
}

func (o *Orchestrator) captureTick(ctx context.Context) {
	tickCtx, span := o.tracer.Start(ctx, tracing.SpanPrefixCapture+"tick")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrTickID, uuid.NewString()))

	for _, id := range o.ActiveSessionIDs() {
		if err := o.CaptureToLog(tickCtx, id); err != nil {
			log.Debug(log.CatCapture, "capture failed", "session", id, "error", err)
		}
	}
}

// CaptureToLog captures the scrollback delta for one session and appends
// it to the output log.
//
// Only lines that have scrolled above the visible pane are captured, so a
// chunk never contains half-drawn screen state. When nothing has scrolled
// since the last tick the capture is skipped entirely. On process death a
// final full capture preserves the dying pane's on-screen content.
func (o *Orchestrator) CaptureToLog(ctx context.Context, id string) error {
	if o.outputLog == nil {
		return nil
	}

	ctx, span := o.tracer.Start(ctx, tracing.SpanPrefixCapture+"delta")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrSessionID, id))

	dead, err := o.backend.IsProcessDead(id)
	if err != nil {
		return fmt.Errorf("dead check: %w", err)
	}
	if dead {
		log.Info(log.CatCapture, "process dead", "session", id)
		return o.captureFinal(ctx, id)
	}

	historySize, err := o.backend.HistorySize(id)
	if err != nil {
		return fmt.Errorf("history size: %w", err)
	}
	span.SetAttributes(attribute.Int(tracing.AttrHistorySize, historySize))

	o.mu.RLock()
	rt, ok := o.runtime[id]
	var prevSize int
	var hadSize bool
	var prevTail []string
	if ok {
		prevSize, hadSize = rt.lastHistorySize, rt.hasHistorySize
		prevTail = rt.lastTail
	}
	o.mu.RUnlock()

	if hadSize && historySize == prevSize {
		return nil // nothing scrolled
	}

	lines, err := o.backend.CaptureScrollback(id)
	if err != nil {
		return fmt.Errorf("capture scrollback: %w", err)
	}
	// Keep only lines truly in history, excluding the live pane.
	scrollback := lines
	if len(scrollback) > historySize {
		scrollback = scrollback[:historySize]
	}

	if len(scrollback) == 0 {
		o.setCaptureState(id, nil, historySize, false)
		return nil
	}

	var newLines []string
	if prevTail == nil {
		newLines = scrollback
	} else {
		idx := findOverlap(prevTail, scrollback)
		if idx >= 0 {
			newLines = scrollback[idx:]
		} else {
			newLines = scrollback
		}
	}

	if len(newLines) > 0 {
		if err := o.outputLog.Append(id, newLines); err != nil {
			return err
		}
	}
	span.SetAttributes(attribute.Int(tracing.AttrNewLines, len(newLines)))
	o.setCaptureState(id, scrollback, historySize, true)
	return nil
}

// setCaptureState updates the per-session delta bookkeeping. keepTail=false
// records only the history size.
func (o *Orchestrator) setCaptureState(id string, tail []string, historySize int, keepTail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.runtime[id]
	if !ok {
		rt = &runtimeState{}
		o.runtime[id] = rt
	}
	if keepTail {
		rt.lastTail = tail
	}
	rt.lastHistorySize = historySize
	rt.hasHistorySize = true
}

// captureFinal runs the overlap computation over the entire buffer
// (scrollback plus visible pane) so the dying pane's last screen is
// preserved, then kills the session and clears its runtime state.
func (o *Orchestrator) captureFinal(ctx context.Context, id string) error {
	_, span := o.tracer.Start(ctx, tracing.SpanPrefixCapture+"final")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrSessionID, id))

	lines, err := o.backend.CaptureScrollback(id)
	if err != nil {
		return fmt.Errorf("final capture: %w", err)
	}

	o.mu.RLock()
	var prevTail []string
	if rt, ok := o.runtime[id]; ok {
		prevTail = rt.lastTail
	}
	o.mu.RUnlock()

	newLines := lines
	if len(prevTail) > 0 {
		if idx := findOverlap(prevTail, lines); idx >= 0 {
			newLines = lines[idx:]
		}
	}

	if len(newLines) > 0 && o.outputLog != nil {
		if err := o.outputLog.Append(id, newLines); err != nil {
			return err
		}
	}

	span.SetAttributes(attribute.Int(tracing.AttrNewLines, len(newLines)))
	log.Info(log.CatCapture, "final capture", "session", id,
		"total_lines", len(lines), "new_lines", len(newLines), "had_prev", prevTail != nil)

	if err := o.backend.KillSession(id); err != nil {
		return fmt.Errorf("kill dead session: %w", err)
	}
	o.markDead(id)
	o.clearRuntime(id)
	o.liveness.Delete(id)
	return nil
}

// findOverlap locates where new content starts in current.
//
// The last fingerprintSize lines of previous form a fingerprint; the first
// matching window in current marks the splice point. Returns the index in
// current just past the overlap, or -1 when the fingerprint is not found
// (the scrollback rotated past it, so everything counts as new).
func findOverlap(previous, current []string) int {
	fpSize := fingerprintSize
	if len(previous) < fpSize {
		fpSize = len(previous)
	}
	if fpSize == 0 {
		return 0
	}
	fingerprint := previous[len(previous)-fpSize:]
	limit := len(current) - fpSize + 1
	for i := 0; i < limit; i++ {
		if equalLines(current[i:i+fpSize], fingerprint) {
			return i + fpSize
		}
	}
	return -1
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
