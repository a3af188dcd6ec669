// Package claude decodes the Claude Code wire format: the stream-json output
// of a live agent process and the append-only session JSONL logs it writes.
// Both carry the same line-oriented records.
package claude

import (
	"encoding/json"
	"strings"
	"time"
)

// EntryType represents the top-level "type" field values in the stream and
// in session logs.
type EntryType string

const (
	EntryTypeSystem      EntryType = "system"
	EntryTypeUser        EntryType = "user"
	EntryTypeAssistant   EntryType = "assistant"
	EntryTypeResult      EntryType = "result"
	EntryTypeSummary     EntryType = "summary"
	EntryTypeStreamEvent EntryType = "stream_event"
)

// SubtypeCompactBoundary marks the system entry emitted when the agent
// summarizes its context. Only entries after the boundary and its summary
// remain relevant for redisplay.
const SubtypeCompactBoundary = "compact_boundary"

// ContentBlockType represents the "type" field in message content blocks.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeThinking   ContentBlockType = "thinking"
	ContentBlockTypeImage      ContentBlockType = "image"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// LogEntry is one decoded line of the wire protocol or of a session log
// file. Entries are immutable once decoded; Raw keeps the original line so
// the live relay can forward it verbatim.
type LogEntry struct {
	Type       EntryType
	Subtype    string
	UUID       string
	ParentUUID string
	SessionID  string
	CWD        string
	Version    string
	GitBranch  string
	Timestamp  time.Time

	IsMeta           bool
	IsCompactSummary bool
	IsSidechain      bool

	// Populated for user and assistant entries.
	Message *Message

	// Populated for result entries.
	Result       string
	IsError      bool
	NumTurns     int
	DurationMS   int
	TotalCostUSD float64
	Usage        *TokenUsage

	// Populated for summary entries.
	SummaryText string
	LeafUUID    string

	// Populated for system compact_boundary entries.
	CompactMetadata *CompactMetadata

	Raw []byte
}

// Message is the API-shaped payload carried by user and assistant entries.
// Exactly one of Text and Content is set: Text when the wire content was a
// plain string, Content when it was an array of blocks.
type Message struct {
	ID      string
	Role    string
	Model   string
	Text    string
	Content []ContentBlock
	Usage   *TokenUsage
}

// ContentBlock models one element of a message content array.
type ContentBlock struct {
	Type ContentBlockType
	Text string

	// tool_use fields
	ID    string
	Name  string
	Input json.RawMessage

	// tool_result fields
	ToolUseID string
	Content   json.RawMessage
	IsError   bool
}

// TokenUsage represents token accounting attached to assistant and result
// entries.
type TokenUsage struct {
	InputTokens              int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	OutputTokens             int
	ServiceTier              string
}

// CompactMetadata describes why a compaction happened.
type CompactMetadata struct {
	Trigger   string
	PreTokens int
}

// IsCompactBoundary reports whether the entry marks a context compaction.
func (e *LogEntry) IsCompactBoundary() bool {
	return e.Type == EntryTypeSystem && e.Subtype == SubtypeCompactBoundary
}

// UserText returns the plain text of a string-content user entry. Entries
// whose content is an array (tool results) or empty report ok=false.
func (e *LogEntry) UserText() (string, bool) {
	if e.Type != EntryTypeUser || e.Message == nil || e.Message.Text == "" {
		return "", false
	}
	return e.Message.Text, true
}

// IsUserAuthored reports whether the entry is a message the user actually
// typed: a string-content user entry that is not meta plumbing, not part of
// a sidechain, not a compaction summary, and not a CLI control record.
func (e *LogEntry) IsUserAuthored() bool {
	text, ok := e.UserText()
	if !ok {
		return false
	}
	if e.IsMeta || e.IsSidechain || e.IsCompactSummary {
		return false
	}
	return !isControlText(text)
}

// isControlText matches the markers the CLI prepends to slash-command
// plumbing recorded under the user role.
func isControlText(text string) bool {
	return strings.HasPrefix(text, "<command-") || strings.HasPrefix(text, "<local-command-")
}
