package tracing

// Span attribute keys. These constants define the semantic conventions for
// span attributes emitted by the orchestrator and capture loop.
const (
	// Session attributes
	AttrSessionID  = "session.id"
	AttrAgentKind  = "agent.kind"
	AttrWorkingDir = "session.working_dir"

	// Dispatch attributes
	AttrItemNumber    = "selection.item"
	AttrSelectionMode = "selection.mode"
	AttrShortcut      = "input.shortcut"

	// Capture attributes
	AttrTickID      = "capture.tick_id"
	AttrHistorySize = "capture.history_size"
	AttrNewLines    = "capture.new_lines"
	AttrUIState     = "capture.ui_state"

	// Error attributes
	AttrErrorMessage = "error.message"
)

// Span name prefixes for consistent naming.
const (
	SpanPrefixSession = "session."
	SpanPrefixCapture = "capture."
)
