package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/kavarel/gigpilot/internal/storage"
)

const (
	keyPrefix  = "conversation:"
	currentKey = "conversation:current"

	// summaryTail is how many trailing messages a summary keeps in full.
	summaryTail = 3
	// summaryBodyLimit bounds each message body inside a summary.
	summaryBodyLimit = 200
)

// Service stores marketplace conversation snapshots pushed by the
// extension and serves them back for prompt resolution. It implements
// prompt.ConversationSource.
type Service struct {
	store *storage.Store
}

// NewService creates a conversation service over the given store.
func NewService(store *storage.Store) *Service {
	return &Service{store: store}
}

// Push stores a snapshot and marks its context as the current one.
func (s *Service) Push(ctx context.Context, conv domain.Conversation) bool {
	if conv.ContextID == "" {
		return false
	}
	return s.store.Set(ctx, map[string]any{
		keyPrefix + conv.ContextID: conv,
		currentKey:                 conv.ContextID,
	})
}

// Get returns the snapshot for a context id, or nil when absent.
func (s *Service) Get(ctx context.Context, contextID string) *domain.Conversation {
	var conv domain.Conversation
	if !s.store.GetJSON(ctx, keyPrefix+contextID, &conv) {
		return nil
	}
	return &conv
}

// Current returns the most recently pushed snapshot. Absence is not
// an error.
func (s *Service) Current(ctx context.Context) (*domain.Conversation, error) {
	var contextID string
	if !s.store.GetJSON(ctx, currentKey, &contextID) {
		return nil, nil
	}
	return s.Get(ctx, contextID), nil
}

// Summary renders a condensed digest of a conversation: the opening
// message, an elision marker, and the last few messages, with long
// bodies trimmed.
func (s *Service) Summary(conv *domain.Conversation) string {
	if conv == nil || len(conv.Messages) == 0 {
		return ""
	}

	var b strings.Builder
	if conv.Username != "" {
		fmt.Fprintf(&b, "Conversation with %s (%d messages)\n", conv.Username, len(conv.Messages))
	}

	if len(conv.Messages) <= summaryTail+1 {
		for _, msg := range conv.Messages {
			writeSummaryLine(&b, msg)
		}
		return strings.TrimSpace(b.String())
	}

	writeSummaryLine(&b, conv.Messages[0])
	b.WriteString("...\n")
	for _, msg := range conv.Messages[len(conv.Messages)-summaryTail:] {
		writeSummaryLine(&b, msg)
	}
	return strings.TrimSpace(b.String())
}

func writeSummaryLine(b *strings.Builder, msg domain.ConversationMessage) {
	body := msg.Body
	if len(body) > summaryBodyLimit {
		body = body[:summaryBodyLimit] + "..."
	}
	fmt.Fprintf(b, "%s: %s\n", msg.Sender, body)
}
