// Package timeline reconstructs a display-ready message sequence from the
// ordered entries of one session. The same reconstruction backs the live
// relay and the historical reader, so both produce the same shape of output
// from their two sources of truth.
package timeline

import (
	"encoding/json"
	"time"
)

// ToolStatus tracks one tool invocation through its lifecycle. An
// invocation starts running the moment its tool_use block is observed and
// receives at most one terminal transition.
type ToolStatus string

const (
	ToolStatusRunning  ToolStatus = "running"
	ToolStatusComplete ToolStatus = "complete"
	ToolStatusError    ToolStatus = "error"
)

// ToolInvocation is one request by the agent to run a named capability,
// identified by the tool_use id from the assistant entry that issued it.
type ToolInvocation struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
	Status ToolStatus      `json:"status"`
}

// MessageKind discriminates the reconstructed message union.
type MessageKind string

const (
	KindUser      MessageKind = "user"
	KindAssistant MessageKind = "assistant"
	KindTools     MessageKind = "tools"
	KindError     MessageKind = "error"
)

// Message is one element of the reconstructed timeline. Text is set for
// user, assistant and error messages; Tools for tools messages. Consecutive
// tools messages are merged during reconstruction; user and assistant
// messages never are.
type Message struct {
	Kind      MessageKind      `json:"kind"`
	Text      string           `json:"text,omitempty"`
	Tools     []ToolInvocation `json:"tools,omitempty"`
	Timestamp time.Time        `json:"timestamp,omitzero"`
}

// Result is the outcome of one reconstruction. FirstUserText is derived for
// display only and clipped to a fixed length.
type Result struct {
	Timeline      []Message `json:"messages"`
	Compacted     bool      `json:"compacted"`
	FirstUserText string    `json:"title,omitempty"`
}
