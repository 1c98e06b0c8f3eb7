package session

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/agentdeck/internal/agent"
	"github.com/zjrosen/agentdeck/internal/detect"
	"github.com/zjrosen/agentdeck/internal/log"
)

const (
	debugPollInterval = 2 * time.Second
	debugPollAttempts = 30
)

// SendDebugPrompt waits for the session to reach its input prompt, then
// sends a root-cause-analysis request including a pane capture of the
// session being debugged.
//
// Polls every 2 seconds for up to a minute; gives up quietly on timeout or
// when the session disappears.
func (o *Orchestrator) SendDebugPrompt(ctx context.Context, id, description, paneCapture string, debugged agent.Kind) {
	ready := false
	for attempt := 0; attempt < debugPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(debugPollInterval):
		}
		out, err := o.CaptureOutput(id)
		if err != nil {
			return
		}
		if o.detector.Parse(out.Content).State == detect.StatePrompt {
			ready = true
			break
		}
	}
	if !ready {
		log.Warn(log.CatSession, "debug prompt timeout", "session", id)
		return
	}

	message := fmt.Sprintf(
		"first read docs/architecture.md to understand the application architecture.\n\n"+
			"User using %s reported this issue:\n%s\n\n"+
			"just analyze the root cause and do not change the code just yet. "+
			"below is the tmux capture :\n\n<tmux-capture>\n%s\n</tmux-capture>",
		debugged, description, paneCapture,
	)
	if err := o.SendInput(ctx, id, message); err != nil {
		log.ErrorErr(log.CatSession, "debug prompt send", err, "session", id)
		return
	}
	o.sleep(debugEnterDelay)
	if err := o.backend.SendKeys(id, "Enter", false, false); err != nil {
		log.ErrorErr(log.CatSession, "debug prompt enter", err, "session", id)
	}
}
