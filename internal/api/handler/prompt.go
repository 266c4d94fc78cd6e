package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/kavarel/gigpilot/internal/api/response"
	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/kavarel/gigpilot/internal/service"
)

var validate = validator.New()

// PromptHandler exposes the prompt pipeline
type PromptHandler struct {
	assistant *service.AssistantService
}

// NewPromptHandler creates a new prompt handler
func NewPromptHandler(assistant *service.AssistantService) *PromptHandler {
	return &PromptHandler{assistant: assistant}
}

type processRequest struct {
	Template string              `json:"template" validate:"required"`
	Context  map[string]string   `json:"context"`
	Files    []domain.FileHandle `json:"files"`
}

// Process resolves and compiles a prompt template
func (h *PromptHandler) Process(w http.ResponseWriter, r *http.Request) {
	var input processRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationErrors(err))
		return
	}

	result := h.assistant.ProcessPrompt(r.Context(), input.Template, input.Context, input.Files)
	response.OK(w, result)
}

type replyRequest struct {
	ContextID string              `json:"context_id" validate:"required"`
	Template  string              `json:"template" validate:"required"`
	Context   map[string]string   `json:"context"`
	Files     []domain.FileHandle `json:"files"`
}

// Reply generates an assistant reply for a conversation
func (h *PromptHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var input replyRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationErrors(err))
		return
	}

	result, err := h.assistant.GenerateReply(r.Context(), input.ContextID, input.Template, input.Context, input.Files)
	if err != nil {
		response.Error(w, http.StatusBadGateway, "failed to generate reply")
		return
	}
	response.OK(w, result)
}

// validationErrors flattens validator output into a field->message map
func validationErrors(err error) any {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	out := make(map[string]string)
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			out[e.Field()] = "field is required"
		case "min":
			out[e.Field()] = "must be at least " + e.Param() + " characters"
		case "max":
			out[e.Field()] = "must be at most " + e.Param() + " characters"
		default:
			out[e.Field()] = "validation failed on " + e.Tag()
		}
	}
	return out
}
