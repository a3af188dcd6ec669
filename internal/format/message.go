package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sessiond/internal/claude"
	"sessiond/internal/timeline"
)

// RenderMessageLines returns the formatted body lines for one timeline
// message.
func RenderMessageLines(msg timeline.Message, wrapWidth int) []string {
	if msg.Kind == timeline.KindTools {
		return renderToolLines(msg.Tools)
	}
	body := wrapBody(strings.TrimSpace(msg.Text), wrapWidth)
	if body == "" {
		return nil
	}
	return strings.Split(body, "\n")
}

func renderToolLines(tools []timeline.ToolInvocation) []string {
	var lines []string
	for _, tool := range tools {
		name := tool.Name
		if name == "" {
			name = "tool"
		}
		lines = append(lines, fmt.Sprintf("%s %s", statusMark(tool.Status), name))
		input := string(tool.Input)
		if input != "" && input != "{}" && input != "null" {
			for _, inputLine := range strings.Split(formatJSON(input), "\n") {
				lines = append(lines, "  "+inputLine)
			}
		}
	}
	return lines
}

func statusMark(status timeline.ToolStatus) string {
	switch status {
	case timeline.ToolStatusError:
		return "✗"
	case timeline.ToolStatusRunning:
		return "…"
	default:
		return "✓"
	}
}

// RenderEntryLines returns the formatted body lines for one raw log entry.
// This is the uncorrelated rendering used when tailing a live transcript,
// where tool outcomes may not have arrived yet.
func RenderEntryLines(entry claude.LogEntry, wrapWidth int) []string {
	switch entry.Type {
	case claude.EntryTypeUser, claude.EntryTypeAssistant:
		return renderEntryMessage(entry, wrapWidth)
	case claude.EntryTypeResult:
		return renderEntryResult(entry, wrapWidth)
	case claude.EntryTypeSummary:
		if entry.SummaryText == "" {
			return nil
		}
		return []string{fmt.Sprintf("Summary: %s", entry.SummaryText)}
	case claude.EntryTypeSystem:
		if !entry.IsCompactBoundary() {
			return nil
		}
		if entry.CompactMetadata == nil {
			return []string{"Context compacted"}
		}
		return []string{fmt.Sprintf("Context compacted (%s, %d tokens before)",
			entry.CompactMetadata.Trigger, entry.CompactMetadata.PreTokens)}
	default:
		return nil
	}
}

func renderEntryMessage(entry claude.LogEntry, wrapWidth int) []string {
	msg := entry.Message
	if msg == nil {
		return nil
	}
	if msg.Text != "" {
		return strings.Split(wrapBody(strings.TrimSpace(msg.Text), wrapWidth), "\n")
	}

	var lines []string
	for _, block := range msg.Content {
		switch block.Type {
		case claude.ContentBlockTypeText:
			body := wrapBody(strings.TrimSpace(block.Text), wrapWidth)
			if body != "" {
				lines = append(lines, strings.Split(body, "\n")...)
			}
		case claude.ContentBlockTypeToolUse:
			name := block.Name
			if name == "" {
				name = "tool"
			}
			lines = append(lines, fmt.Sprintf("Tool: %s", name))
			input := string(block.Input)
			if input != "" && input != "{}" {
				for _, inputLine := range strings.Split(formatJSON(input), "\n") {
					lines = append(lines, "  "+inputLine)
				}
			}
		case claude.ContentBlockTypeToolResult:
			label := "Tool result"
			if block.IsError {
				label = "Tool error"
			}
			text := ToolResultText(block.Content)
			if text == "" {
				lines = append(lines, label)
				continue
			}
			lines = append(lines, label+":")
			for _, resultLine := range strings.Split(wrapBody(strings.TrimSpace(text), wrapWidth), "\n") {
				lines = append(lines, "  "+resultLine)
			}
		}
	}
	return lines
}

func renderEntryResult(entry claude.LogEntry, wrapWidth int) []string {
	status := "success"
	if entry.IsError {
		status = "error"
	}
	head := fmt.Sprintf("Result: %s", status)
	if entry.DurationMS > 0 {
		head += fmt.Sprintf(" in %s", (time.Duration(entry.DurationMS) * time.Millisecond).Round(100*time.Millisecond))
	}
	if entry.NumTurns > 0 {
		head += fmt.Sprintf(" after %d turns", entry.NumTurns)
	}

	lines := []string{head}
	if entry.TotalCostUSD > 0 {
		lines = append(lines, fmt.Sprintf("Cost: $%.4f", entry.TotalCostUSD))
	}
	if entry.Result != "" {
		body := wrapBody(strings.TrimSpace(entry.Result), wrapWidth)
		lines = append(lines, strings.Split(body, "\n")...)
	}
	return lines
}

// ToolResultText extracts the printable text of a tool_result content
// payload, which the wire encodes as either a plain string or a block
// array.
func ToolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func wrapBody(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			lines = append(lines, current)
			current = word
		} else {
			current += " " + word
		}
	}
	lines = append(lines, current)

	return strings.Join(lines, "\n")
}

func formatJSON(raw string) string {
	if raw == "" {
		return raw
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err == nil {
		return buf.String()
	}
	return raw
}
