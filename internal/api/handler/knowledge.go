package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kavarel/gigpilot/internal/api/response"
	"github.com/kavarel/gigpilot/internal/knowledge"
)

// KnowledgeHandler exposes knowledge-base variables and files
type KnowledgeHandler struct {
	kb *knowledge.Base
}

// NewKnowledgeHandler creates a new knowledge handler
func NewKnowledgeHandler(kb *knowledge.Base) *KnowledgeHandler {
	return &KnowledgeHandler{kb: kb}
}

// ListVariables returns every stored snippet
func (h *KnowledgeHandler) ListVariables(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.kb.Variables(r.Context()))
}

type variableRequest struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// PutVariable stores a snippet
func (h *KnowledgeHandler) PutVariable(w http.ResponseWriter, r *http.Request) {
	var input variableRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationErrors(err))
		return
	}

	persisted := h.kb.SetVariable(r.Context(), input.Name, input.Value)
	response.OK(w, map[string]any{"name": input.Name, "persisted": persisted})
}

// DeleteVariable removes a snippet
func (h *KnowledgeHandler) DeleteVariable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.kb.DeleteVariable(r.Context(), name)
	response.OK(w, map[string]string{"message": "variable deleted"})
}

// ListFiles returns every registered file handle
func (h *KnowledgeHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.kb.AllFiles(r.Context())
	if err != nil {
		response.InternalError(w, "failed to list files")
		return
	}
	response.OK(w, files)
}

type fileUploadRequest struct {
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data" validate:"required"`
}

// UploadFile registers a file and pushes it to the AI backend
func (h *KnowledgeHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	var input fileUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationErrors(err))
		return
	}

	handle, err := h.kb.PutFile(r.Context(), input.Name, input.MimeType, input.Data)
	if err != nil {
		response.Error(w, http.StatusBadGateway, "failed to upload file")
		return
	}
	response.Created(w, handle)
}

// DeleteFile removes a registered file
func (h *KnowledgeHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.kb.DeleteFile(r.Context(), name)
	response.OK(w, map[string]string{"message": "file deleted"})
}
