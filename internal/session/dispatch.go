package session

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/agentdeck/internal/agent"
	"github.com/zjrosen/agentdeck/internal/detect"
	"github.com/zjrosen/agentdeck/internal/log"
	"github.com/zjrosen/agentdeck/internal/pubsub"
	"github.com/zjrosen/agentdeck/internal/tracing"
)

// SendInput sends text or a shortcut name to a live session.
//
// The text is first checked against the agent's shortcut table; a match is
// sent as its mapped keys. Anything else is sent literally, followed after
// a short settle delay by Enter.
func (o *Orchestrator) SendInput(ctx context.Context, id, text string) error {
	_, span := o.tracer.Start(ctx, tracing.SpanPrefixSession+"send_input")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrSessionID, id))

	info, err := o.requireAlive(id)
	if err != nil {
		return err
	}
	adapter, err := agent.For(info.AgentKind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadInput, err)
	}

	mu := o.lockSession(id)
	mu.Lock()
	defer mu.Unlock()

	if sc, ok := adapter.ExpandShortcut(text); ok {
		span.SetAttributes(attribute.String(tracing.AttrShortcut, text))
		log.Info(log.CatSession, "shortcut expanded", "session", id, "shortcut", text, "keys", sc.Keys)
		if err := o.backend.SendKeys(id, sc.Keys, sc.PressEnter, false); err != nil {
			return fmt.Errorf("send shortcut: %w", err)
		}
		return nil
	}

	if err := o.backend.SendKeys(id, text, false, true); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	o.sleep(preEnterDelay)
	if err := o.backend.SendKeys(id, "Enter", false, false); err != nil {
		return fmt.Errorf("send enter: %w", err)
	}
	return nil
}

// SendRawKeys sends keys literally with no shortcut expansion.
// Used for detector auto-responses.
func (o *Orchestrator) SendRawKeys(ctx context.Context, id, keys string, enter bool) error {
	if _, err := o.requireAlive(id); err != nil {
		return err
	}

	mu := o.lockSession(id)
	mu.Lock()
	defer mu.Unlock()

	if err := o.backend.SendKeys(id, keys, enter, true); err != nil {
		return fmt.Errorf("send raw keys: %w", err)
	}
	return nil
}

// SendSelection selects item itemNumber in the session's current selection
// list. The pane is re-captured and re-parsed at dispatch time so the
// choice applies to what is on screen now, not what a client last saw.
//
// Arrow-navigable lists are driven with Up/Down plus Enter; number-input
// lists get the typed digits plus Enter. freeformText, when the chosen item
// is a free-input option, is typed after a settle delay.
func (o *Orchestrator) SendSelection(ctx context.Context, id string, itemNumber int, freeformText string) error {
	_, span := o.tracer.Start(ctx, tracing.SpanPrefixSession+"send_selection")
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrSessionID, id),
		attribute.Int(tracing.AttrItemNumber, itemNumber),
	)

	if _, err := o.requireAlive(id); err != nil {
		return err
	}

	mu := o.lockSession(id)
	mu.Lock()
	defer mu.Unlock()

	raw, err := o.backend.CapturePane(id)
	if err != nil {
		return fmt.Errorf("capture pane: %w", err)
	}
	parsed := o.detector.Parse(raw)
	span.SetAttributes(attribute.String(tracing.AttrUIState, string(parsed.State)))

	targetIndex := -1
	for i, item := range parsed.Items {
		if item.Number == itemNumber {
			targetIndex = i
			break
		}
	}
	if targetIndex < 0 {
		return fmt.Errorf("%w: item %d not found in selection", ErrBadInput, itemNumber)
	}

	if parsed.ArrowNavigable {
		span.SetAttributes(attribute.String(tracing.AttrSelectionMode, "arrow"))
		delta := targetIndex - parsed.SelectedIndex
		key := "Down"
		if delta < 0 {
			key = "Up"
			delta = -delta
		}
		for i := 0; i < delta; i++ {
			if err := o.backend.SendKeys(id, key, false, false); err != nil {
				return fmt.Errorf("send %s: %w", key, err)
			}
			o.sleep(arrowKeyDelay)
		}
		o.sleep(preEnterDelay)
		if err := o.backend.SendKeys(id, "Enter", false, false); err != nil {
			return fmt.Errorf("send enter: %w", err)
		}
	} else {
		span.SetAttributes(attribute.String(tracing.AttrSelectionMode, "number"))
		if err := o.backend.SendKeys(id, strconv.Itoa(itemNumber), false, true); err != nil {
			return fmt.Errorf("send number: %w", err)
		}
		o.sleep(preEnterDelay)
		if err := o.backend.SendKeys(id, "Enter", false, false); err != nil {
			return fmt.Errorf("send enter: %w", err)
		}
	}

	if freeformText != "" {
		o.sleep(freeformDelay)
		if err := o.backend.SendKeys(id, freeformText, true, true); err != nil {
			return fmt.Errorf("send freeform text: %w", err)
		}
	}
	return nil
}

// PasteImage copies an image to the system clipboard and sends a paste
// keystroke to the session. format must be "png" or "jpeg".
func (o *Orchestrator) PasteImage(ctx context.Context, id, path, format string) error {
	if format != "png" && format != "jpeg" {
		return fmt.Errorf("%w: unsupported image format %q", ErrBadInput, format)
	}
	if _, err := o.requireAlive(id); err != nil {
		return err
	}

	mu := o.lockSession(id)
	mu.Lock()
	defer mu.Unlock()

	if err := copyImageToClipboard(path, format); err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	o.sleep(clipboardDelay)
	if err := o.backend.SendKeys(id, "C-v", false, false); err != nil {
		return fmt.Errorf("send paste: %w", err)
	}
	return nil
}

// CaptureOutput captures the visible pane and flags whether it changed
// since the previous capture.
func (o *Orchestrator) CaptureOutput(id string) (SessionOutput, error) {
	if _, err := o.get(id); err != nil {
		return SessionOutput{}, err
	}

	content, err := o.backend.CapturePane(id)
	if err != nil {
		return SessionOutput{}, fmt.Errorf("capture pane: %w", err)
	}

	o.mu.Lock()
	rt, ok := o.runtime[id]
	if !ok {
		rt = &runtimeState{}
		o.runtime[id] = rt
	}
	changed := content != rt.lastOutput
	rt.lastOutput = content
	o.mu.Unlock()

	return SessionOutput{SessionID: id, Content: content, Changed: changed}, nil
}

// ParseOutput classifies raw pane text and publishes the detected state on
// the event broker.
func (o *Orchestrator) ParseOutput(id, raw string) detect.ParsedOutput {
	parsed := o.detector.Parse(raw)
	o.events.Publish(pubsub.StateEvent, SessionEvent{SessionID: id, UIState: parsed.State})
	return parsed
}
