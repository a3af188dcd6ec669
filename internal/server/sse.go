package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// sseSink frames payloads as server-sent events. Payloads are single JSON
// lines, so each becomes exactly one data field.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSESink(w http.ResponseWriter, flusher http.Flusher) *sseSink {
	return &sseSink{w: w, flusher: flusher}
}

// begin commits the streaming response headers.
func (s *sseSink) begin() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// Send writes one data frame. Callers send from a single goroutine.
func (s *sseSink) Send(_ context.Context, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// sendError emits the error sentinel frame clients key on.
func (s *sseSink) sendError(err error) {
	msg := "agent run failed"
	if err != nil {
		msg = err.Error()
	}
	payload, merr := json.Marshal(errorEvent{Type: "error", Error: msg})
	if merr != nil {
		return
	}
	s.Send(context.Background(), payload)
}

// sendDone emits the terminal frame.
func (s *sseSink) sendDone() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}
