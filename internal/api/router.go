package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kavarel/gigpilot/internal/api/handler"
	customMiddleware "github.com/kavarel/gigpilot/internal/api/middleware"
	"github.com/kavarel/gigpilot/internal/config"
	"github.com/kavarel/gigpilot/internal/conversation"
	"github.com/kavarel/gigpilot/internal/gemini"
	"github.com/kavarel/gigpilot/internal/knowledge"
	"github.com/kavarel/gigpilot/internal/prompt"
	"github.com/kavarel/gigpilot/internal/security"
	"github.com/kavarel/gigpilot/internal/service"
	"github.com/kavarel/gigpilot/internal/session"
	"github.com/kavarel/gigpilot/internal/storage"
	"github.com/rs/zerolog/log"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, store *storage.Store, sessions *session.Manager) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// CORS: the extension calls from chrome-extension:// origins
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	jwtManager := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	geminiClient := gemini.NewClient(cfg.Gemini)
	if !geminiClient.IsConfigured() {
		log.Warn().Msg("no Gemini API key configured, reply generation and file upload disabled")
	}

	var uploader knowledge.Uploader
	if geminiClient.IsConfigured() {
		uploader = geminiClient
	}
	kb := knowledge.NewBase(store, uploader)
	conversations := conversation.NewService(store)

	var resolverOpts []prompt.ResolverOption
	if cfg.Prompt.LooseFileMatch {
		resolverOpts = append(resolverOpts, prompt.WithLooseFileMatch())
	}
	resolver := prompt.NewResolver(kb, conversations, resolverOpts...)
	compiler := prompt.NewCompiler(kb)

	assistant := service.NewAssistantService(resolver, compiler, sessions, geminiClient, cfg.Session)

	// Initialize handlers
	promptHandler := handler.NewPromptHandler(assistant)
	sessionHandler := handler.NewSessionHandler(sessions, cfg.Session)
	knowledgeHandler := handler.NewKnowledgeHandler(kb)
	conversationHandler := handler.NewConversationHandler(conversations)

	authMiddleware := customMiddleware.NewAuthMiddleware(jwtManager)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(store))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			// Prompt pipeline
			r.Post("/prompts/process", promptHandler.Process)
			r.Post("/replies", promptHandler.Reply)

			// Session routes
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)
				r.Get("/export", sessionHandler.Export)
				r.Post("/import", sessionHandler.Import)
				r.Post("/cleanup", sessionHandler.Cleanup)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Delete("/", sessionHandler.Delete)
					r.Post("/clear", sessionHandler.Clear)
					r.Get("/stats", sessionHandler.Stats)
					r.Get("/context", sessionHandler.Context)
				})
			})

			// Knowledge base routes
			r.Route("/knowledge", func(r chi.Router) {
				r.Get("/variables", knowledgeHandler.ListVariables)
				r.Post("/variables", knowledgeHandler.PutVariable)
				r.Delete("/variables/{name}", knowledgeHandler.DeleteVariable)

				r.Get("/files", knowledgeHandler.ListFiles)
				r.Post("/files", knowledgeHandler.UploadFile)
				r.Delete("/files/{name}", knowledgeHandler.DeleteFile)
			})

			// Conversation snapshot routes
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/current", conversationHandler.Current)
				r.Put("/{contextID}", conversationHandler.Push)
				r.Get("/{contextID}", conversationHandler.Get)
			})
		})
	})

	return r
}
