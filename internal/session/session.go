package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/kavarel/gigpilot/internal/storage"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix    = "session:"
	defaultTitle = "New Conversation"
	titleLimit   = 50

	contextLabel          = "Fiverr Context: "
	contextTruncatedLabel = "Fiverr Context (truncated): "
	contextMinRemaining   = 100
)

// Metadata carries session bookkeeping persisted alongside the
// transcript.
type Metadata struct {
	Created         time.Time `json:"created"`
	LastUpdated     time.Time `json:"last_updated"`
	MessageCount    int       `json:"message_count"`
	Title           string    `json:"title"`
	FiverrContext   string    `json:"fiverr_context,omitempty"`
	ContextStrategy string    `json:"context_strategy,omitempty"`
}

// Session is one persisted conversation transcript. All mutable state
// sits behind the mutex: the cleanup ticker reads sessions while
// request handlers mutate them, so access goes through the accessor
// methods. Persistence is explicit via Save.
type Session struct {
	ID string

	mu          sync.RWMutex
	meta        Metadata
	contextMap  map[string]string
	apiKeyIndex *int
	messages    []domain.Message
	store       *storage.Store
}

// Options configures session creation.
type Options struct {
	Title         string
	FiverrContext string
}

// record is the JSON shape written to the key-value store.
type record struct {
	Messages    []domain.Message  `json:"messages"`
	Context     map[string]string `json:"context,omitempty"`
	Metadata    Metadata          `json:"metadata"`
	APIKeyIndex *int              `json:"api_key_index,omitempty"`
}

// New creates a fresh session with a random id and empty transcript.
func New(store *storage.Store, opts Options) *Session {
	title := opts.Title
	if title == "" {
		title = defaultTitle
	}
	now := time.Now()
	return &Session{
		ID:         uuid.New().String(),
		contextMap: make(map[string]string),
		meta: Metadata{
			Created:       now,
			LastUpdated:   now,
			Title:         title,
			FiverrContext: opts.FiverrContext,
		},
		messages: []domain.Message{},
		store:    store,
	}
}

// Load reads a session from the store. An absent record yields nil,
// not an error.
func Load(ctx context.Context, store *storage.Store, id string) *Session {
	var rec record
	if !store.GetJSON(ctx, keyPrefix+id, &rec) {
		return nil
	}
	return fromRecord(store, id, rec)
}

func fromRecord(store *storage.Store, id string, rec record) *Session {
	s := &Session{
		ID:          id,
		contextMap:  rec.Context,
		meta:        rec.Metadata,
		apiKeyIndex: rec.APIKeyIndex,
		messages:    rec.Messages,
		store:       store,
	}
	if s.contextMap == nil {
		s.contextMap = make(map[string]string)
	}
	if s.messages == nil {
		s.messages = []domain.Message{}
	}
	return s
}

// Meta returns a copy of the session metadata.
func (s *Session) Meta() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// ContextMap returns a copy of the session's resolved-context map.
func (s *Session) ContextMap() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.contextMap))
	for k, v := range s.contextMap {
		out[k] = v
	}
	return out
}

// SetContextValue stores one resolved-context entry.
func (s *Session) SetContextValue(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextMap[key] = value
}

// APIKeyIndex returns the sticky credential index, if one is set.
func (s *Session) APIKeyIndex() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.apiKeyIndex == nil {
		return 0, false
	}
	return *s.apiKeyIndex, true
}

// SetAPIKeyIndex records the credential index that last worked for
// this session.
func (s *Session) SetAPIKeyIndex(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeyIndex = &index
}

// Save persists the session keyed by its id. Persistence is
// best-effort: failure is logged and reported as false, never thrown.
func (s *Session) Save(ctx context.Context) bool {
	s.mu.RLock()
	contextCopy := make(map[string]string, len(s.contextMap))
	for k, v := range s.contextMap {
		contextCopy[k] = v
	}
	rec := record{
		Messages:    append([]domain.Message(nil), s.messages...),
		Context:     contextCopy,
		Metadata:    s.meta,
		APIKeyIndex: s.apiKeyIndex,
	}
	s.mu.RUnlock()

	ok := s.store.Put(ctx, keyPrefix+s.ID, rec)
	if !ok {
		log.Warn().Str("session_id", s.ID).Msg("failed to persist session")
	}
	return ok
}

// Delete removes the session's record from the store.
func (s *Session) Delete(ctx context.Context) bool {
	return s.store.Remove(ctx, keyPrefix+s.ID)
}

// AddMessage appends a message to the transcript. The very first
// user message also titles the session from its content.
func (s *Session) AddMessage(role domain.MessageRole, content string, metadata map[string]any) *domain.Message {
	msg := domain.Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	firstUserMessage := role == domain.RoleUser && s.userCountLocked() == 0
	s.messages = append(s.messages, msg)
	s.meta.MessageCount = len(s.messages)
	s.meta.LastUpdated = msg.Timestamp

	if firstUserMessage {
		s.meta.Title = truncateTitle(content)
	}

	return &msg
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message(nil), s.messages...)
}

// Clear wipes the transcript and resets counters. The session id and
// title are untouched.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = []domain.Message{}
	s.meta.MessageCount = 0
	s.meta.LastUpdated = time.Now()
}

// ConversationContext builds a budgeted transcript string. Messages
// are taken newest-first until the next one would overflow maxLength;
// the Fiverr context tag is then prepended whole if it fits, truncated
// if at least contextMinRemaining characters remain, else omitted.
func (s *Session) ConversationContext(maxLength int) string {
	if maxLength <= 0 {
		return ""
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var lines []string
	total := 0
	for i := len(s.messages) - 1; i >= 0; i-- {
		msg := s.messages[i]
		line := fmt.Sprintf("%s: %s\n\n", msg.Role, msg.Content)
		if total+len(line) > maxLength {
			break
		}
		lines = append(lines, line)
		total += len(line)
	}

	// lines were collected newest-first; restore conversation order.
	var b strings.Builder
	if header := s.contextHeaderLocked(maxLength - total); header != "" {
		b.WriteString(header)
	}
	for i := len(lines) - 1; i >= 0; i-- {
		b.WriteString(lines[i])
	}

	return strings.TrimSpace(b.String())
}

func (s *Session) contextHeaderLocked(remaining int) string {
	fc := s.meta.FiverrContext
	if fc == "" {
		return ""
	}

	full := contextLabel + fc + "\n\n"
	if len(full) <= remaining {
		return full
	}
	if remaining < contextMinRemaining {
		return ""
	}

	avail := remaining - len(contextTruncatedLabel) - len("...\n\n")
	if avail <= 0 {
		return ""
	}
	return contextTruncatedLabel + truncateBytes(fc, avail) + "...\n\n"
}

// Turn is one conversation turn in the shape the Gemini API expects.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a single content part of a turn.
type Part struct {
	Text string `json:"text"`
}

// MessagesForAPI returns the last maxMessages messages as API turns,
// with the assistant role relabeled to the API's "model" role.
func (s *Session) MessagesForAPI(maxMessages int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if maxMessages > 0 && len(s.messages) > maxMessages {
		start = len(s.messages) - maxMessages
	}

	turns := make([]Turn, 0, len(s.messages)-start)
	for _, msg := range s.messages[start:] {
		role := string(msg.Role)
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		turns = append(turns, Turn{
			Role:  role,
			Parts: []Part{{Text: msg.Content}},
		})
	}
	return turns
}

// Stats summarizes the session.
type Stats struct {
	TotalMessages        int           `json:"total_messages"`
	UserMessages         int           `json:"user_messages"`
	AssistantMessages    int           `json:"assistant_messages"`
	TotalCharacters      int           `json:"total_characters"`
	AverageMessageLength int           `json:"average_message_length"`
	Duration             time.Duration `json:"duration_ms"`
	Title                string        `json:"title"`
}

// Stats returns counts and derived figures for the session.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalMessages: len(s.messages),
		Duration:      s.meta.LastUpdated.Sub(s.meta.Created),
		Title:         s.meta.Title,
	}
	for _, msg := range s.messages {
		switch msg.Role {
		case domain.RoleUser:
			stats.UserMessages++
		case domain.RoleAssistant:
			stats.AssistantMessages++
		}
		stats.TotalCharacters += len(msg.Content)
	}
	if stats.TotalMessages > 0 {
		stats.AverageMessageLength = stats.TotalCharacters / stats.TotalMessages
	}
	return stats
}

func (s *Session) userCountLocked() int {
	count := 0
	for _, msg := range s.messages {
		if msg.Role == domain.RoleUser {
			count++
		}
	}
	return count
}

// truncateTitle derives a session title from message content: the
// first titleLimit runes plus an ellipsis when longer.
func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleLimit {
		return content
	}
	return string(runes[:titleLimit]) + "..."
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
