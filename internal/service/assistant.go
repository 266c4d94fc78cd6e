package service

import (
	"context"
	"fmt"

	"github.com/kavarel/gigpilot/internal/config"
	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/kavarel/gigpilot/internal/gemini"
	"github.com/kavarel/gigpilot/internal/prompt"
	"github.com/kavarel/gigpilot/internal/session"
	"github.com/rs/zerolog/log"
)

// Generator abstracts the Gemini client for reply generation.
type Generator interface {
	GenerateReply(ctx context.Context, req gemini.Request) (*gemini.Reply, error)
	IsConfigured() bool
	KeyCount() int
}

// ProcessedPrompt is the result of resolving and compiling a template.
type ProcessedPrompt struct {
	Prompt             string              `json:"prompt"`
	KnowledgeBaseFiles []domain.FileHandle `json:"knowledge_base_files"`
	UsedVariables      []string            `json:"used_variables"`
	UsedFiles          []string            `json:"used_files"`
}

// ReplyResult is a generated assistant reply plus bookkeeping.
type ReplyResult struct {
	SessionID  string `json:"session_id"`
	Reply      string `json:"reply"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	LatencyMs  int64  `json:"latency_ms"`
}

// AssistantService combines the prompt pipeline with session memory
// and reply generation.
type AssistantService struct {
	resolver  *prompt.Resolver
	compiler  *prompt.Compiler
	sessions  *session.Manager
	generator Generator
	cfg       config.SessionConfig
}

// NewAssistantService creates the assistant service.
func NewAssistantService(
	resolver *prompt.Resolver,
	compiler *prompt.Compiler,
	sessions *session.Manager,
	generator Generator,
	cfg config.SessionConfig,
) *AssistantService {
	return &AssistantService{
		resolver:  resolver,
		compiler:  compiler,
		sessions:  sessions,
		generator: generator,
		cfg:       cfg,
	}
}

// ProcessPrompt resolves and compiles a template. It never fails:
// worst case the caller gets the original template back with no
// substitutions.
func (s *AssistantService) ProcessPrompt(ctx context.Context, template string, additionalContext map[string]string, manualFiles []domain.FileHandle) ProcessedPrompt {
	contextMap, files := s.resolver.Resolve(ctx, template, additionalContext, manualFiles)
	compiled := s.compiler.Compile(ctx, template, contextMap, files)

	if files == nil {
		files = []domain.FileHandle{}
	}
	return ProcessedPrompt{
		Prompt:             compiled.Text,
		KnowledgeBaseFiles: files,
		UsedVariables:      compiled.UsedVariables,
		UsedFiles:          compiled.UsedFiles,
	}
}

// GenerateReply runs the full pipeline for one conversation turn:
// prompt processing, session history, Gemini generation with key
// rotation, and transcript recording. The session sticks to the API
// key index that last worked for it.
func (s *AssistantService) GenerateReply(ctx context.Context, contextID, template string, additionalContext map[string]string, manualFiles []domain.FileHandle) (*ReplyResult, error) {
	if s.generator == nil || !s.generator.IsConfigured() {
		return nil, fmt.Errorf("reply generation is not configured")
	}

	processed := s.ProcessPrompt(ctx, template, additionalContext, manualFiles)
	sess := s.sessions.GetOrCreateSession(ctx, contextID)
	history := sess.MessagesForAPI(s.cfg.MaxAPIMessages)

	startIndex := 0
	if index, ok := sess.APIKeyIndex(); ok {
		startIndex = index
	}

	var reply *gemini.Reply
	var err error
	keyCount := s.generator.KeyCount()
	for attempt := 0; attempt < keyCount; attempt++ {
		index := (startIndex + attempt) % keyCount
		reply, err = s.generator.GenerateReply(ctx, gemini.Request{
			Prompt:   processed.Prompt,
			History:  history,
			Files:    processed.KnowledgeBaseFiles,
			KeyIndex: index,
		})
		if err == nil {
			sess.SetAPIKeyIndex(index)
			break
		}
		log.Warn().Err(err).Int("key_index", index).Msg("generation failed, rotating API key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}

	sess.AddMessage(domain.RoleUser, template, map[string]any{
		"used_variables": processed.UsedVariables,
		"used_files":     processed.UsedFiles,
	})
	sess.AddMessage(domain.RoleAssistant, reply.Text, map[string]any{
		"model":       reply.Model,
		"tokens_used": reply.TokensUsed,
	})
	sess.Save(ctx)

	return &ReplyResult{
		SessionID:  sess.ID,
		Reply:      reply.Text,
		Model:      reply.Model,
		TokensUsed: reply.TokensUsed,
		LatencyMs:  reply.LatencyMs,
	}, nil
}

// SessionContext returns the budgeted transcript for a session, for
// callers that embed history into their own prompts.
func (s *AssistantService) SessionContext(ctx context.Context, sessionID string) (string, bool) {
	sess := s.sessions.GetSession(ctx, sessionID)
	if sess == nil {
		return "", false
	}
	return sess.ConversationContext(s.cfg.ContextMaxLength), true
}

// Sessions exposes the session manager for handlers that operate on
// sessions directly.
func (s *AssistantService) Sessions() *session.Manager {
	return s.sessions
}
