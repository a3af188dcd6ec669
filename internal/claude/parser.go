package claude

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrMalformedEntry wraps every per-line decode failure. Callers must skip
// the offending line and continue; one bad line never aborts a stream or a
// reconstruction.
var ErrMalformedEntry = errors.New("malformed log entry")

// rawEntry mirrors the wire field names. Session logs use camelCase ids
// while the live stream uses session_id; both are accepted.
type rawEntry struct {
	Type             string          `json:"type"`
	Subtype          string          `json:"subtype"`
	UUID             string          `json:"uuid"`
	ParentUUID       string          `json:"parentUuid"`
	SessionID        string          `json:"sessionId"`
	SessionIDStream  string          `json:"session_id"`
	CWD              string          `json:"cwd"`
	Version          string          `json:"version"`
	GitBranch        string          `json:"gitBranch"`
	Timestamp        string          `json:"timestamp"`
	IsMeta           bool            `json:"isMeta"`
	IsCompactSummary bool            `json:"isCompactSummary"`
	IsSidechain      bool            `json:"isSidechain"`
	Message          json.RawMessage `json:"message"`
	Summary          string          `json:"summary"`
	LeafUUID         string          `json:"leafUuid"`
	Result           string          `json:"result"`
	IsError          bool            `json:"is_error"`
	NumTurns         int             `json:"num_turns"`
	DurationMS       int             `json:"duration_ms"`
	TotalCostUSD     float64         `json:"total_cost_usd"`
	Usage            *rawUsage       `json:"usage"`
	CompactMetadata  *struct {
		Trigger   string `json:"trigger"`
		PreTokens int    `json:"pre_tokens"`
	} `json:"compact_metadata"`
}

type rawUsage struct {
	InputTokens              int    `json:"input_tokens"`
	CacheCreationInputTokens int    `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int    `json:"cache_read_input_tokens"`
	OutputTokens             int    `json:"output_tokens"`
	ServiceTier              string `json:"service_tier"`
}

type rawMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *rawUsage       `json:"usage"`
}

type rawContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// DecodeEntry parses one line into a LogEntry. Unknown entry types decode
// successfully and keep their raw payload; anything that is not a JSON
// object on one line is reported as ErrMalformedEntry.
func DecodeEntry(line []byte) (LogEntry, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return LogEntry{}, fmt.Errorf("%w: empty line", ErrMalformedEntry)
	}

	var raw rawEntry
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return LogEntry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}

	var ts time.Time
	if raw.Timestamp != "" {
		parsed, err := parseTimestamp(raw.Timestamp)
		if err != nil {
			return LogEntry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
		}
		ts = parsed
	}

	sessionID := raw.SessionID
	if sessionID == "" {
		sessionID = raw.SessionIDStream
	}

	entry := LogEntry{
		Type:             EntryType(raw.Type),
		Subtype:          raw.Subtype,
		UUID:             raw.UUID,
		ParentUUID:       raw.ParentUUID,
		SessionID:        sessionID,
		CWD:              raw.CWD,
		Version:          raw.Version,
		GitBranch:        raw.GitBranch,
		Timestamp:        ts,
		IsMeta:           raw.IsMeta,
		IsCompactSummary: raw.IsCompactSummary,
		IsSidechain:      raw.IsSidechain,
		Raw:              append([]byte(nil), trimmed...),
	}

	switch entry.Type {
	case EntryTypeUser, EntryTypeAssistant:
		if len(raw.Message) > 0 {
			msg, err := decodeMessage(raw.Message)
			if err != nil {
				return LogEntry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
			}
			entry.Message = msg
		}

	case EntryTypeResult:
		entry.Result = raw.Result
		entry.IsError = raw.IsError
		entry.NumTurns = raw.NumTurns
		entry.DurationMS = raw.DurationMS
		entry.TotalCostUSD = raw.TotalCostUSD
		entry.Usage = convertUsage(raw.Usage)

	case EntryTypeSummary:
		entry.SummaryText = raw.Summary
		entry.LeafUUID = raw.LeafUUID

	case EntryTypeSystem:
		if raw.CompactMetadata != nil {
			entry.CompactMetadata = &CompactMetadata{
				Trigger:   raw.CompactMetadata.Trigger,
				PreTokens: raw.CompactMetadata.PreTokens,
			}
		}
	}

	return entry, nil
}

// DecodeAll decodes every line read from r. Malformed lines are collected
// as warnings, one per line, and never stop the scan. The returned error
// reports scanner-level failures only.
func DecodeAll(r io.Reader) ([]LogEntry, []error, error) {
	scanner := NewScanner(r)

	var entries []LogEntry
	var warnings []error
	line := 0
	for scanner.Scan() {
		line++
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		entry, err := DecodeEntry(scanner.Bytes())
		if err != nil {
			warnings = append(warnings, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, warnings, fmt.Errorf("scan entries: %w", err)
	}

	return entries, warnings, nil
}

// NewScanner returns a line scanner sized for agent output. Tool results
// can carry whole files on a single line.
func NewScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 8 * 1024 * 1024
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxCapacity)
	return scanner
}

func decodeMessage(raw json.RawMessage) (*Message, error) {
	var payload rawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	msg := &Message{
		ID:    payload.ID,
		Role:  payload.Role,
		Model: payload.Model,
		Usage: convertUsage(payload.Usage),
	}

	if len(payload.Content) == 0 {
		return msg, nil
	}

	// String content is the common case for typed user messages.
	var asString string
	if err := json.Unmarshal(payload.Content, &asString); err == nil {
		msg.Text = asString
		return msg, nil
	}

	var blocks []rawContentBlock
	if err := json.Unmarshal(payload.Content, &blocks); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	msg.Content = make([]ContentBlock, 0, len(blocks))
	for _, block := range blocks {
		converted := ContentBlock{
			Type:      ContentBlockType(block.Type),
			Text:      block.Text,
			ID:        block.ID,
			Name:      block.Name,
			Input:     block.Input,
			ToolUseID: block.ToolUseID,
			Content:   block.Content,
			IsError:   block.IsError,
		}
		if converted.Type == ContentBlockTypeThinking && converted.Text == "" {
			converted.Text = block.Thinking
		}
		msg.Content = append(msg.Content, converted)
	}

	return msg, nil
}

func convertUsage(raw *rawUsage) *TokenUsage {
	if raw == nil {
		return nil
	}
	return &TokenUsage{
		InputTokens:              raw.InputTokens,
		CacheCreationInputTokens: raw.CacheCreationInputTokens,
		CacheReadInputTokens:     raw.CacheReadInputTokens,
		OutputTokens:             raw.OutputTokens,
		ServiceTier:              raw.ServiceTier,
	}
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
