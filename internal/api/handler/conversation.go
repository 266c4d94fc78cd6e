package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kavarel/gigpilot/internal/api/response"
	"github.com/kavarel/gigpilot/internal/conversation"
	"github.com/kavarel/gigpilot/internal/domain"
)

// ConversationHandler accepts conversation snapshots scraped by the
// extension content script.
type ConversationHandler struct {
	conversations *conversation.Service
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *conversation.Service) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// Push stores a snapshot for a conversation context
func (h *ConversationHandler) Push(w http.ResponseWriter, r *http.Request) {
	var conv domain.Conversation
	if err := json.NewDecoder(r.Body).Decode(&conv); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	conv.ContextID = chi.URLParam(r, "contextID")
	if conv.ContextID == "" {
		response.BadRequest(w, "missing context ID")
		return
	}

	persisted := h.conversations.Push(r.Context(), conv)
	response.OK(w, map[string]any{
		"context_id": conv.ContextID,
		"messages":   len(conv.Messages),
		"persisted":  persisted,
	})
}

// Get returns the stored snapshot for a conversation context
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	contextID := chi.URLParam(r, "contextID")
	conv := h.conversations.Get(r.Context(), contextID)
	if conv == nil {
		response.NotFound(w, "conversation not found")
		return
	}
	response.OK(w, conv)
}

// Current returns the most recently pushed snapshot
func (h *ConversationHandler) Current(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversations.Current(r.Context())
	if err != nil || conv == nil {
		response.NotFound(w, "no current conversation")
		return
	}
	response.OK(w, conv)
}
