package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"sessiond/internal/agent"
	"sessiond/internal/registry"
	"sessiond/internal/relay"
	"sessiond/internal/store"
	"sessiond/internal/timeline"
)

type chatRequest struct {
	Message          string      `json:"message"`
	SessionID        string      `json:"sessionId,omitempty"`
	WorkingDirectory string      `json:"workingDirectory,omitempty"`
	Images           []chatImage `json:"images,omitempty"`
}

type chatImage struct {
	MediaType string `json:"mediaType"`
	Data      string `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type historyResponse struct {
	SessionID string             `json:"sessionId"`
	Messages  []timeline.Message `json:"messages"`
	Compacted bool               `json:"compacted"`
	Title     string             `json:"title,omitempty"`
}

type listResponse struct {
	Sessions []store.SessionSummary `json:"sessions"`
}

type statusResponse struct {
	SessionID string `json:"sessionId"`
	Busy      bool   `json:"busy"`
}

type cancelResponse struct {
	SessionID string `json:"sessionId"`
	Cancelled bool   `json:"cancelled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// handleChat runs one agent request and streams its events back as SSE
// frames. The stream always ends with a [DONE] frame; failures surface as
// an error event before it, since the 200 status is already on the wire by
// the time the run can fail.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	if req.SessionID != "" && s.registry.Busy(req.SessionID) {
		s.writeError(w, http.StatusConflict, registry.ErrBusy)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	images := make([]agent.Image, 0, len(req.Images))
	for _, img := range req.Images {
		images = append(images, agent.Image{MediaType: img.MediaType, Data: img.Data})
	}

	sink := newSSESink(w, flusher)
	sink.begin()

	outcome := s.relay.Run(r.Context(), relay.Request{
		Prompt:    req.Message,
		SessionID: req.SessionID,
		WorkDir:   req.WorkingDirectory,
		Images:    images,
	}, sink)

	if outcome.State == relay.StateFailed {
		sink.sendError(outcome.Err)
	}
	sink.sendDone()
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{CWD: r.URL.Query().Get("cwd")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		opts.Limit = n
	}

	result, err := s.store.ListSessions(opts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, warn := range result.Warnings {
		s.logger.Warn("session listing", "warning", warn)
	}
	if result.Summaries == nil {
		result.Summaries = []store.SessionSummary{}
	}
	s.writeJSON(w, http.StatusOK, listResponse{Sessions: result.Summaries})
}

// handleHistory returns the reconstructed timeline for a session. Unknown
// ids answer with an empty timeline rather than 404: a session with no
// transcript and a session with an empty one are the same thing here.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, warnings, err := s.store.ReadSession(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, warn := range warnings {
		s.logger.Warn("skipping transcript line", "session", id, "warning", warn)
	}
	if result.Timeline == nil {
		result.Timeline = []timeline.Message{}
	}
	s.writeJSON(w, http.StatusOK, historyResponse{
		SessionID: id,
		Messages:  result.Timeline,
		Compacted: result.Compacted,
		Title:     result.FirstUserText,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.writeJSON(w, http.StatusOK, statusResponse{SessionID: id, Busy: s.registry.Busy(id)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled := s.registry.Cancel(id)
	if cancelled {
		s.logger.Info("session cancelled", "session", id)
	}
	s.writeJSON(w, http.StatusOK, cancelResponse{SessionID: id, Cancelled: cancelled})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.registry.Busy(id) {
		s.writeError(w, http.StatusConflict, registry.ErrBusy)
		return
	}
	if err := s.store.DeleteSession(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("session deleted", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents attaches an observer to a live run's event feed. The feed
// is best effort; the authoritative stream belongs to the chat request
// that started the run.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.registry.Lookup(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("session is not active"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sink := newSSESink(w, flusher)
	sink.begin()

	events := sess.Events.Subscribe(r.Context())
	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-events:
			if !ok {
				sink.sendDone()
				return
			}
			if err := sink.Send(r.Context(), entry.Raw); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
