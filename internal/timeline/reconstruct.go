package timeline

import (
	"strings"

	"sessiond/internal/claude"
)

// maxTitleRunes bounds the derived FirstUserText display field.
const maxTitleRunes = 160

// Reconstruct builds the timeline for one ordered entry sequence. It is
// pure and reentrant: the same input always yields the same output and no
// state survives the call.
//
// Two passes, single direction. The scan pass records the last compaction
// cut and a tool_use id to outcome side table; tool results always trail
// the tool_use that spawned them in entry order, but can be arbitrarily far
// behind, attached to a later user entry. The build pass then materializes
// messages starting after the compaction cut, resolving each invocation
// from the side table.
func Reconstruct(entries []claude.LogEntry) Result {
	var res Result

	start := 0
	outcomes := make(map[string]bool)
	for i := range entries {
		entry := &entries[i]
		if entry.IsCompactBoundary() {
			res.Compacted = true
			// The boundary and the one summary entry after it are skipped;
			// everything before is semantically discarded for redisplay.
			start = i + 2
		}
		if entry.Type != claude.EntryTypeUser || entry.Message == nil {
			continue
		}
		for _, block := range entry.Message.Content {
			if block.Type != claude.ContentBlockTypeToolResult || block.ToolUseID == "" {
				continue
			}
			if _, seen := outcomes[block.ToolUseID]; !seen {
				outcomes[block.ToolUseID] = block.IsError
			}
		}
	}

	for i := start; i < len(entries); i++ {
		entry := &entries[i]
		if entry.IsSidechain {
			continue
		}

		switch entry.Type {
		case claude.EntryTypeUser:
			if !entry.IsUserAuthored() {
				continue
			}
			text, _ := entry.UserText()
			res.Timeline = append(res.Timeline, Message{
				Kind:      KindUser,
				Text:      text,
				Timestamp: entry.Timestamp,
			})

		case claude.EntryTypeAssistant:
			appendAssistant(&res, entry, outcomes)

		case claude.EntryTypeResult:
			if entry.IsError {
				res.Timeline = append(res.Timeline, Message{
					Kind:      KindError,
					Text:      errorText(entry),
					Timestamp: entry.Timestamp,
				})
			}
		}
	}

	for _, msg := range res.Timeline {
		if msg.Kind == KindUser {
			res.FirstUserText = clipRunes(msg.Text, maxTitleRunes)
			break
		}
	}

	return res
}

// appendAssistant turns one assistant entry into at most one assistant
// message for its text blocks plus one tools message for its tool_use
// blocks. A tools message lands in the previous timeline slot when that
// slot is already a tools message, so one burst of tool activity stays one
// group no matter how many entries carried it.
func appendAssistant(res *Result, entry *claude.LogEntry, outcomes map[string]bool) {
	if entry.Message == nil {
		return
	}

	var parts []string
	var tools []ToolInvocation
	if entry.Message.Text != "" {
		parts = append(parts, entry.Message.Text)
	}
	for _, block := range entry.Message.Content {
		switch block.Type {
		case claude.ContentBlockTypeText:
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case claude.ContentBlockTypeToolUse:
			tools = append(tools, ToolInvocation{
				ID:     block.ID,
				Name:   block.Name,
				Input:  block.Input,
				Status: resolveStatus(block.ID, outcomes),
			})
		}
	}

	if len(parts) > 0 {
		res.Timeline = append(res.Timeline, Message{
			Kind:      KindAssistant,
			Text:      strings.Join(parts, "\n\n"),
			Timestamp: entry.Timestamp,
		})
	}
	if len(tools) == 0 {
		return
	}
	if n := len(res.Timeline); n > 0 && res.Timeline[n-1].Kind == KindTools {
		res.Timeline[n-1].Tools = append(res.Timeline[n-1].Tools, tools...)
		return
	}
	res.Timeline = append(res.Timeline, Message{
		Kind:      KindTools,
		Tools:     tools,
		Timestamp: entry.Timestamp,
	})
}

// resolveStatus maps a recorded outcome to a terminal status. An invocation
// with no recorded result reports complete rather than running: a closed log
// has no further results coming, it may simply have stopped before the
// result was written.
func resolveStatus(id string, outcomes map[string]bool) ToolStatus {
	isError, ok := outcomes[id]
	if !ok {
		return ToolStatusComplete
	}
	if isError {
		return ToolStatusError
	}
	return ToolStatusComplete
}

func errorText(entry *claude.LogEntry) string {
	if entry.Result != "" {
		return entry.Result
	}
	if entry.Subtype != "" {
		return entry.Subtype
	}
	return "agent run failed"
}

func clipRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}
