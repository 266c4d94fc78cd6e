package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kavarel/gigpilot/internal/api/response"
	"github.com/kavarel/gigpilot/internal/config"
	"github.com/kavarel/gigpilot/internal/session"
)

// SessionHandler exposes session CRUD and export/import
type SessionHandler struct {
	sessions *session.Manager
	cfg      config.SessionConfig
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Manager, cfg config.SessionConfig) *SessionHandler {
	return &SessionHandler{sessions: sessions, cfg: cfg}
}

type sessionSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	MessageCount  int    `json:"message_count"`
	FiverrContext string `json:"fiverr_context,omitempty"`
	Created       string `json:"created"`
	LastUpdated   string `json:"last_updated"`
}

// List returns all known sessions, most recently updated first
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.AllSessions(r.Context())
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		meta := s.Meta()
		out = append(out, sessionSummary{
			ID:            s.ID,
			Title:         meta.Title,
			MessageCount:  meta.MessageCount,
			FiverrContext: meta.FiverrContext,
			Created:       meta.Created.Format("2006-01-02T15:04:05Z07:00"),
			LastUpdated:   meta.LastUpdated.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	response.OK(w, out)
}

// Create creates a new session
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title         string `json:"title"`
		FiverrContext string `json:"fiverr_context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Optional body
	}

	s := h.sessions.Create(r.Context(), session.Options{
		Title:         req.Title,
		FiverrContext: req.FiverrContext,
	})
	response.Created(w, map[string]any{
		"id":    s.ID,
		"title": s.Meta().Title,
	})
}

// Get returns a session's metadata and transcript
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}
	response.OK(w, map[string]any{
		"id":       s.ID,
		"metadata": s.Meta(),
		"messages": s.Messages(),
	})
}

// Delete removes a session
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	h.sessions.DeleteSession(r.Context(), id)
	response.OK(w, map[string]string{"message": "session deleted"})
}

// Clear wipes a session's transcript
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}
	s.Clear()
	s.Save(r.Context())
	response.OK(w, map[string]string{"message": "session cleared"})
}

// Stats returns session statistics
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}
	response.OK(w, s.Stats())
}

// Context returns the budgeted transcript string
func (h *SessionHandler) Context(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	maxLength := h.cfg.ContextMaxLength
	if v := r.URL.Query().Get("max_length"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			maxLength = parsed
		}
	}
	response.OK(w, map[string]string{"context": s.ConversationContext(maxLength)})
}

// Export serializes every known session
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.sessions.ExportSessions(r.Context()))
}

// Import recreates sessions from an export payload
func (h *SessionHandler) Import(w http.ResponseWriter, r *http.Request) {
	var data session.ExportData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if !h.sessions.ImportSessions(r.Context(), data) {
		response.BadRequest(w, "payload has no sessions list")
		return
	}
	response.OK(w, map[string]any{"imported": len(data.Sessions)})
}

// Cleanup runs an eviction pass immediately
func (h *SessionHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed := h.sessions.CleanupOldSessions(r.Context())
	response.OK(w, map[string]int{"removed": removed})
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) *session.Session {
	id := chi.URLParam(r, "sessionID")
	s := h.sessions.GetSession(r.Context(), id)
	if s == nil {
		response.NotFound(w, "session not found")
		return nil
	}
	return s
}
