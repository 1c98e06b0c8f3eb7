// Package detect classifies captured pane text into a structured UI state.
// Parsing is a pure function of the input text: no backend calls, no clock,
// no shared state.
package detect

import (
	"regexp"
	"strconv"
	"strings"
)

// State is the detected UI state of an agent pane.
type State string

const (
	// StateWorking means the agent is busy; inputs should be held.
	StateWorking State = "working"
	// StateSelection means a numbered selection list is awaiting a choice.
	StateSelection State = "selection"
	// StatePrompt means the agent is idle at its input prompt.
	StatePrompt State = "prompt"
)

// SelectionItem is a numbered option in an agent's selection list.
type SelectionItem struct {
	Number      int    `json:"number"`
	Label       string `json:"label"`
	Description string `json:"description"`
	IsFreeform  bool   `json:"is_freeform"`
}

// ParsedOutput is the structured result of parsing pane text.
type ParsedOutput struct {
	State State `json:"state"`
	// Items is populated only for StateSelection.
	Items []SelectionItem `json:"items,omitempty"`
	// SelectedIndex is the 0-based index of the cursor-marked item.
	SelectedIndex int `json:"selected_index"`
	// ArrowNavigable is true when a cursor marker was seen, meaning the
	// list is driven with arrow keys rather than typed digits.
	ArrowNavigable bool `json:"arrow_navigable"`
	// Question is the text immediately above the selection list.
	Question string `json:"question"`
	// AutoResponse, when non-empty, is input the orchestrator should send
	// on the session's behalf without user involvement.
	AutoResponse string `json:"auto_response,omitempty"`
}

// DefaultSpinnerGlyphs is the empirically captured alphabet of activity
// spinner characters used by current agent CLIs. Treat as a living set.
const DefaultSpinnerGlyphs = "·⏺✢✳✶✻✽"

var (
	// Numbered list items, with optional › or ❯ cursor marker.
	itemRe = regexp.MustCompile(`^(\s*[›❯]?\s*)(\d+)\.\s+(.+)$`)

	// Horizontal rule of box-drawing dashes.
	hruleRe = regexp.MustCompile(`^\s*[─╌╍┄┅┈┉━]{3,}\s*$`)

	// Footer confirming a selection prompt:
	//   "Enter to select · ↑/↓ to navigate · Esc to cancel"
	//   "Enter to confirm · Esc to cancel"
	//   "Esc to cancel · Tab to amend"
	//   "Press enter to continue"
	footerRe = regexp.MustCompile(`(?i)(Enter to (select|confirm)|Esc to cancel).*(Esc to cancel|Tab to amend|↑/↓)|Press enter to continue`)

	// Codex working line: "• Working (0s • esc to interrupt)"
	codexWorkingRe = regexp.MustCompile(`^\s*•\s+.*\(\d+s\s*•\s*esc to interrupt\)`)

	// Quality survey: "1: Bad  2: Fine  3: Good  0: Dismiss"
	surveyRe = regexp.MustCompile(`(?i)\d:\s*Good\s+0:\s*Dismiss`)

	// Agent chrome at the bottom of the pane, stripped alongside blank
	// lines so proximity checks see actual content:
	//   "? for shortcuts", "82% context left",
	//   "shift+tab to cycle", "› placeholder" (input cursor)
	chromeRe = regexp.MustCompile(`(?i)\?\s+for\s+shortcuts|\d+%\s+context left|shift\+tab to cycle|^\s*[›❯]\s+\S`)
)

// Claude uses "Type something" to mark a free-input option.
const freeformHint = "type something"

// bottomLines is how many lines from the bottom to search for
// spinner/survey lines.
const bottomLines = 5

// Detector parses pane text into ParsedOutput.
type Detector struct {
	spinnerRe *regexp.Regexp
}

// New creates a Detector with the given spinner glyph alphabet.
// An empty alphabet falls back to DefaultSpinnerGlyphs.
func New(spinnerGlyphs string) *Detector {
	if spinnerGlyphs == "" {
		spinnerGlyphs = DefaultSpinnerGlyphs
	}
	// Spinner status line: glyph + space + text containing "…".
	// Examples: "✳ Moonwalking…", "⏺ Reading 1 file…"
	return &Detector{
		spinnerRe: regexp.MustCompile(`^\s*[` + escapeClass(spinnerGlyphs) + `]\s+.*…`),
	}
}

// escapeClass escapes characters that are special inside a regexp
// character class.
func escapeClass(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', ']', '^', '-':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Parse classifies raw pane text.
//
// Detection priority:
//  1. Working: spinner or survey line near the bottom
//  2. Selection: numbered list + navigation footer or question header
//  3. Prompt: default fallback
func (d *Detector) Parse(raw string) ParsedOutput {
	lines := strings.Split(raw, "\n")

	// Strip trailing blank lines and status-bar chrome so position
	// checks use the actual content bottom.
	for len(lines) > 0 {
		last := lines[len(lines)-1]
		if strings.TrimSpace(last) == "" || chromeRe.MatchString(last) {
			lines = lines[:len(lines)-1]
			continue
		}
		break
	}

	if out, ok := d.tryWorking(lines); ok {
		return out
	}
	if out, ok := d.trySelection(lines); ok {
		return out
	}
	return ParsedOutput{State: StatePrompt}
}

// tryWorking detects the working state from a spinner near the bottom.
// A quality survey also counts as working, with an auto-dismiss response.
func (d *Detector) tryWorking(lines []string) (ParsedOutput, bool) {
	tail := lines
	if len(tail) > bottomLines {
		tail = tail[len(tail)-bottomLines:]
	}

	for _, line := range tail {
		if surveyRe.MatchString(line) {
			return ParsedOutput{State: StateWorking, AutoResponse: "0"}, true
		}
	}

	for _, line := range tail {
		if d.spinnerRe.MatchString(line) || codexWorkingRe.MatchString(line) {
			return ParsedOutput{State: StateWorking}, true
		}
	}

	return ParsedOutput{}, false
}

type foundItem struct {
	lineIdx int
	label   string
	marker  bool
}

// trySelection parses a numbered selection list.
//
// Scans bottom-up so stale selections above the current one are never
// reached. Requires 2+ items numbered contiguously from 1, the bottom item
// within 5 lines of the content end, and either the navigation footer or a
// question header above the list.
func (d *Detector) trySelection(lines []string) (ParsedOutput, bool) {
	n := len(lines)
	if n == 0 {
		return ParsedOutput{}, false
	}

	// Phase 1: bottom-up scan for numbered items.
	found := map[int]foundItem{}
	bottomAnchored := false
	i := n - 1

	// Skip footer lines at the very bottom
	for i >= 0 {
		line := lines[i]
		if strings.TrimSpace(line) == "" || footerRe.MatchString(line) {
			i--
			continue
		}
		break
	}

	prevItemLine := -1
	for i >= 0 {
		line := lines[i]
		if m := itemRe.FindStringSubmatch(line); m != nil {
			num, err := strconv.Atoi(m[2])
			if err == nil {
				label := strings.TrimSpace(m[3])
				prefix := m[1]
				marker := strings.Contains(prefix, "›") || strings.Contains(prefix, "❯")

				if !bottomAnchored {
					// First item from bottom must be near the end
					if i < n-5 {
						return ParsedOutput{}, false
					}
					bottomAnchored = true
				}

				// Each item must be within 3 lines of the item below it
				if prevItemLine >= 0 && prevItemLine-i > 3 {
					break
				}

				found[num] = foundItem{lineIdx: i, label: label, marker: marker}
				prevItemLine = i

				if num == 1 {
					break
				}
			}
		}
		// Footer, blank, hrule and description lines between items are
		// all tolerated; the gap budget above bounds everything else.
		i--
	}

	// Need item 1 and at least 2 items
	if _, ok := found[1]; !ok || len(found) < 2 {
		return ParsedOutput{}, false
	}

	maxNum := 0
	for num := range found {
		if num > maxNum {
			maxNum = num
		}
	}

	// Numbering must be contiguous 1..max
	items := make([]SelectionItem, 0, maxNum)
	itemLines := make([]int, 0, maxNum)
	selectedIndex := 0
	hasMarker := false
	for num := 1; num <= maxNum; num++ {
		f, ok := found[num]
		if !ok {
			return ParsedOutput{}, false
		}
		items = append(items, SelectionItem{Number: num, Label: f.label})
		itemLines = append(itemLines, f.lineIdx)
		if f.marker {
			selectedIndex = len(items) - 1
			hasMarker = true
		}
	}

	// Phase 2: forward pass collecting indented description lines.
	for pos := range items {
		start := itemLines[pos] + 1
		end := n
		if pos+1 < len(items) {
			end = itemLines[pos+1]
		}
		for j := start; j < end; j++ {
			line := lines[j]
			if itemRe.MatchString(line) || footerRe.MatchString(line) {
				break
			}
			if hruleRe.MatchString(line) || strings.TrimSpace(line) == "" {
				continue
			}
			if strings.HasPrefix(line, "    ") {
				desc := strings.TrimSpace(line)
				if items[pos].Description != "" {
					items[pos].Description += " " + desc
				} else {
					items[pos].Description = desc
				}
			}
		}
	}

	// Phase 3: validation gates.
	hasFooter := false
	for _, line := range lines {
		if footerRe.MatchString(line) {
			hasFooter = true
			break
		}
	}

	firstIdx := itemLines[0]
	hasQuestion := false
	for k := firstIdx - 1; k >= 0 && k >= firstIdx-2; k-- {
		line := strings.TrimSpace(lines[k])
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, "?") || strings.HasSuffix(line, ":") {
			hasQuestion = true
			break
		}
	}

	if !hasFooter && !hasQuestion {
		return ParsedOutput{}, false
	}

	if !hasMarker {
		selectedIndex = 0
	}

	for pos := range items {
		if strings.Contains(strings.ToLower(items[pos].Label), freeformHint) {
			items[pos].IsFreeform = true
		}
	}

	// Question text: consecutive non-blank lines directly above the list.
	var questionLines []string
	for k := firstIdx - 1; k >= 0; k-- {
		line := strings.TrimSpace(lines[k])
		if line == "" || hruleRe.MatchString(lines[k]) {
			break
		}
		questionLines = append([]string{line}, questionLines...)
	}

	return ParsedOutput{
		State:          StateSelection,
		Items:          items,
		SelectedIndex:  selectedIndex,
		ArrowNavigable: hasMarker,
		Question:       strings.Join(questionLines, " "),
	}, true
}
