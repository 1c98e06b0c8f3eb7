package server

import (
	"html"
	"regexp"
	"strings"
)

// Terminal output is rendered server-side into HTML fragments so the web
// client can swap them in directly. Box-drawing tables and panels become
// real <table>/<div> elements; everything else is escaped text.

var (
	hruleRe = regexp.MustCompile(`^\s*[─╌╍┄┅┈┉━]{3,}\s*$`)

	// Status-bar tokens right-aligned with long space runs; collapse them.
	//   "? for shortcuts"
	//   "82% context left"
	//   "shift+tab to cycle"
	statusBarRe = regexp.MustCompile(`\s{3,}(\?\s+for\s+shortcuts|\d+% context left|shift\+tab to cycle)`)

	tableTopRe = regexp.MustCompile(`^[│┌][─┬]+[┐│]?\s*$`)
	tableSepRe = regexp.MustCompile(`^[│├][─┼]+[┤│]?\s*$`)
	tableBotRe = regexp.MustCompile(`^[│└][─┴]+[┘│]?\s*$`)
	panelTopRe = regexp.MustCompile(`^[╭┌][─]+[╮┐]\s*$`)
	panelBotRe = regexp.MustCompile(`^[╰└][─]+[╯┘]\s*$`)
	panelMidRe = regexp.MustCompile(`^│(.*)│\s*$`)
)

// terminalToHTML converts raw pane text to an HTML fragment.
// Handles horizontal rules, box-drawing tables, and panels.
func terminalToHTML(raw string) string {
	return strings.Join(convertBlocks(strings.Split(raw, "\n")), "\n")
}

// escapeCell escapes HTML and inserts <wbr> after underscores so long
// identifiers can wrap inside table cells.
func escapeCell(text string) string {
	return strings.ReplaceAll(html.EscapeString(text), "_", "_<wbr>")
}

// splitTableRow splits a table data row by │ separators.
func splitTableRow(line string) []string {
	s := strings.TrimSpace(line)
	s = strings.TrimPrefix(s, "│")
	s = strings.TrimSuffix(s, "│")
	cells := strings.Split(s, "│")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}

// renderTable converts box-drawing table lines to an HTML table.
// The first data row becomes the header.
func renderTable(lines []string) string {
	var rows [][]string
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if tableTopRe.MatchString(s) || tableSepRe.MatchString(s) || tableBotRe.MatchString(s) {
			continue
		}
		if strings.Contains(s, "│") {
			rows = append(rows, splitTableRow(s))
		}
	}
	if len(rows) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<table class="terminal-table">`)
	b.WriteString("<thead><tr>")
	for _, cell := range rows[0] {
		b.WriteString("<th>")
		b.WriteString(escapeCell(cell))
		b.WriteString("</th>")
	}
	b.WriteString("</tr></thead>")
	if len(rows) > 1 {
		b.WriteString("<tbody>")
		for _, row := range rows[1:] {
			b.WriteString("<tr>")
			for _, cell := range row {
				b.WriteString("<td>")
				b.WriteString(escapeCell(cell))
				b.WriteString("</td>")
			}
			b.WriteString("</tr>")
		}
		b.WriteString("</tbody>")
	}
	b.WriteString("</table>")
	return b.String()
}

// renderPanel converts box-drawing panel lines to an HTML div.
// Inner content is fed back through convertBlocks so nested tables,
// hrules, etc. are rendered properly.
func renderPanel(lines []string) string {
	var content []string
	for _, line := range lines {
		m := panelMidRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := m[1]
		text = strings.TrimSuffix(text, " ")
		text = strings.TrimPrefix(text, " ")
		content = append(content, text)
	}
	inner := strings.Join(convertBlocks(content), "\n")
	return `<div class="terminal-panel">` + inner + `</div>`
}

func isTableTop(line string) bool {
	s := strings.TrimSpace(line)
	return tableTopRe.MatchString(s) && strings.Contains(s, "┬")
}

func isPanelTop(line string) bool {
	s := strings.TrimSpace(line)
	return panelTopRe.MatchString(s) && !strings.Contains(s, "┬")
}

// convertBlocks scans lines for box-drawing blocks and converts them
// to HTML, escaping everything else.
func convertBlocks(lines []string) []string {
	var result []string
	i := 0
	for i < len(lines) {
		line := lines[i]

		if isTableTop(line) {
			block := []string{line}
			j := i + 1
			for j < len(lines) {
				block = append(block, lines[j])
				if tableBotRe.MatchString(strings.TrimSpace(lines[j])) {
					break
				}
				j++
			}
			if rendered := renderTable(block); rendered != "" {
				result = append(result, rendered)
			} else {
				for _, ln := range block {
					result = append(result, html.EscapeString(ln))
				}
			}
			i = j + 1
			continue
		}

		if isPanelTop(line) {
			block := []string{line}
			j := i + 1
			for j < len(lines) {
				block = append(block, lines[j])
				if panelBotRe.MatchString(strings.TrimSpace(lines[j])) {
					break
				}
				j++
			}
			result = append(result, renderPanel(block))
			i = j + 1
			continue
		}

		// Headless panel: │...│ lines without a top border (the top
		// border landed in a previous chunk).
		if panelMidRe.MatchString(line) {
			block := []string{line}
			j := i + 1
			sawBottom := false
			for j < len(lines) {
				if panelBotRe.MatchString(strings.TrimSpace(lines[j])) {
					block = append(block, lines[j])
					sawBottom = true
					break
				}
				if panelMidRe.MatchString(lines[j]) {
					block = append(block, lines[j])
					j++
					continue
				}
				break
			}
			if sawBottom || j < len(lines) {
				result = append(result, renderPanel(block))
				i = j + 1
				continue
			}
			// Not a panel, fall through.
		}

		if hruleRe.MatchString(line) {
			result = append(result, `<hr class="terminal-hr">`)
		} else {
			escaped := html.EscapeString(line)
			escaped = statusBarRe.ReplaceAllString(escaped, "  $1")
			result = append(result, escaped)
		}
		i++
	}
	return result
}
