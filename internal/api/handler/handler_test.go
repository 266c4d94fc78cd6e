package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kavarel/gigpilot/internal/api/handler"
	"github.com/kavarel/gigpilot/internal/config"
	"github.com/kavarel/gigpilot/internal/session"
	"github.com/kavarel/gigpilot/internal/storage"
)

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["success"] != true {
		t.Error("expected success to be true")
	}

	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected data to be a map")
	}

	if data["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", data["status"])
	}
}

func TestReadyCheck(t *testing.T) {
	store := storage.NewStore(storage.NewMemoryBackend())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil)
	rec := httptest.NewRecorder()
	handler.ReadyCheck(store)(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	// Degraded store reports unavailable.
	store.MarkInvalidated()
	rec = httptest.NewRecorder()
	handler.ReadyCheck(store)(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestSessionHandler_CreateAndGet(t *testing.T) {
	cfg := config.SessionConfig{Timeout: 30 * time.Minute, MaxSessions: 50, ContextMaxLength: 4000}
	manager := session.NewManager(storage.NewStore(storage.NewMemoryBackend()), cfg)
	h := handler.NewSessionHandler(manager, cfg)

	r := chi.NewRouter()
	r.Post("/sessions", h.Create)
	r.Get("/sessions/{sessionID}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/sessions", map[string]string{"title": "Test Chat"}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}

	var created struct {
		Data struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.Data.Title != "Test Chat" {
		t.Errorf("expected title 'Test Chat', got %q", created.Data.Title)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+created.Data.ID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	// Unknown id yields 404.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSessionHandler_ImportRejectsMissingList(t *testing.T) {
	cfg := config.SessionConfig{Timeout: 30 * time.Minute, MaxSessions: 50}
	manager := session.NewManager(storage.NewStore(storage.NewMemoryBackend()), cfg)
	h := handler.NewSessionHandler(manager, cfg)

	rec := httptest.NewRecorder()
	h.Import(rec, makeJSONRequest(http.MethodPost, "/sessions/import", map[string]any{"version": 1}))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

// Helper to make JSON request
func makeJSONRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}
