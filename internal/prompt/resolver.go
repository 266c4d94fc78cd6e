package prompt

import (
	"context"
	"strconv"
	"strings"

	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/rs/zerolog/log"
)

// KnowledgeSource is the knowledge-base collaborator consumed by the
// resolver and compiler.
type KnowledgeSource interface {
	GetVariable(ctx context.Context, name string) (string, bool)
	AllFiles(ctx context.Context) ([]domain.FileHandle, error)
	ResolveFiles(ctx context.Context, handles []domain.FileHandle) ([]domain.FileHandle, error)
	ReplaceVariables(ctx context.Context, text string) (string, error)
	ReplaceFileReferences(ctx context.Context, text string) (string, error)
}

// ConversationSource provides the current marketplace conversation
// snapshot for system-variable derivation.
type ConversationSource interface {
	Current(ctx context.Context) (*domain.Conversation, error)
	Summary(conv *domain.Conversation) string
}

// Resolver computes the minimal variable/file set a template needs.
// Either collaborator may be nil: resolution then falls back to the
// documented defaults instead of failing.
type Resolver struct {
	kb             KnowledgeSource
	conv           ConversationSource
	looseFileMatch bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLooseFileMatch enables substring matching of `{{file:name}}`
// references against registered file names. Exact match is the
// default; substring matching can over-match and must be opted into.
func WithLooseFileMatch() ResolverOption {
	return func(r *Resolver) {
		r.looseFileMatch = true
	}
}

// NewResolver creates a resolver over the given collaborators.
func NewResolver(kb KnowledgeSource, conv ConversationSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{kb: kb, conv: conv}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve parses the template and builds the context map and file list
// for compilation. Supplied context wins over derived values; names
// that cannot be resolved are omitted, never errors. Manually supplied
// files take priority over template references.
func (r *Resolver) Resolve(ctx context.Context, template string, supplied map[string]string, manualFiles []domain.FileHandle) (map[string]string, []domain.FileHandle) {
	parsed := Parse(template)

	contextMap := make(map[string]string)
	for _, name := range parsed.Variables {
		if value, ok := supplied[name]; ok {
			contextMap[name] = value
			continue
		}
		if value, ok := r.systemVariable(ctx, name); ok {
			contextMap[name] = value
		}
	}

	if r.kb != nil {
		for _, name := range parsed.KnowledgeBaseVariables {
			if value, ok := r.kb.GetVariable(ctx, name); ok {
				contextMap[name] = value
			}
		}
	}

	files := r.resolveFiles(ctx, parsed.FileReferences, manualFiles)
	return contextMap, files
}

// systemVariable derives a value from the fixed catalogue of
// system-provided variables. Unknown names yield (_, false).
func (r *Resolver) systemVariable(ctx context.Context, name string) (string, bool) {
	switch name {
	case "username":
		if r.conv == nil {
			return "User", true
		}
		conv, err := r.conv.Current(ctx)
		if err != nil || conv == nil || conv.Username == "" {
			return "Client", true
		}
		return conv.Username, true

	case "conversation":
		conv := r.currentConversation(ctx)
		if conv == nil {
			return "", false
		}
		return formatTranscript(conv), true

	case "conversation_summary":
		conv := r.currentConversation(ctx)
		if conv == nil || r.conv == nil {
			return "", false
		}
		return r.conv.Summary(conv), true

	case "conversation_count":
		conv := r.currentConversation(ctx)
		if conv == nil {
			return "0", true
		}
		return strconv.Itoa(len(conv.Messages)), true

	case "conversation_last_message":
		conv := r.currentConversation(ctx)
		if conv == nil {
			return "", true
		}
		return conv.LastMessage(), true
	}
	return "", false
}

func (r *Resolver) currentConversation(ctx context.Context) *domain.Conversation {
	if r.conv == nil {
		return nil
	}
	conv, err := r.conv.Current(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load current conversation")
		return nil
	}
	return conv
}

// formatTranscript renders a conversation snapshot as plain text.
func formatTranscript(conv *domain.Conversation) string {
	var b strings.Builder
	for _, msg := range conv.Messages {
		b.WriteString(msg.Sender)
		b.WriteString(": ")
		b.WriteString(msg.Body)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// resolveFiles merges manual attachments with template file
// references. Manual files win; the output carries no duplicates.
func (r *Resolver) resolveFiles(ctx context.Context, references []string, manualFiles []domain.FileHandle) []domain.FileHandle {
	files := make([]domain.FileHandle, 0, len(manualFiles)+len(references))
	seen := make(map[string]bool)

	include := func(f domain.FileHandle) {
		key := fileKey(f)
		if seen[key] {
			return
		}
		seen[key] = true
		files = append(files, f)
	}

	var unresolved []domain.FileHandle
	for _, f := range manualFiles {
		if f.Attachable() {
			include(f)
		} else {
			unresolved = append(unresolved, f)
		}
	}

	if len(unresolved) > 0 && r.kb != nil {
		resolved, err := r.kb.ResolveFiles(ctx, unresolved)
		if err != nil {
			log.Warn().Err(err).Int("count", len(unresolved)).Msg("failed to resolve manually attached files, dropping")
		} else {
			for _, f := range resolved {
				if f.Attachable() {
					include(f)
				}
			}
		}
	}

	if len(references) == 0 || r.kb == nil {
		return files
	}

	registered, err := r.kb.AllFiles(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list knowledge-base files")
		return files
	}

	for _, ref := range references {
		if r.covered(files, ref) {
			continue
		}
		match, ok := r.findFile(registered, ref)
		if !ok {
			log.Debug().Str("file", ref).Msg("referenced file not found in knowledge base")
			continue
		}
		if !match.Attachable() {
			log.Debug().Str("file", ref).Msg("referenced file has no upload handle, skipping")
			continue
		}
		include(match)
	}

	return files
}

// covered reports whether a reference is already satisfied by an
// included file, matched by name (exact, or substring when loose
// matching is on).
func (r *Resolver) covered(files []domain.FileHandle, ref string) bool {
	for _, f := range files {
		if r.nameMatches(f.Name, ref) {
			return true
		}
	}
	return false
}

func (r *Resolver) findFile(files []domain.FileHandle, ref string) (domain.FileHandle, bool) {
	for _, f := range files {
		if f.Name == ref {
			return f, true
		}
	}
	if r.looseFileMatch {
		for _, f := range files {
			if strings.Contains(f.Name, ref) {
				return f, true
			}
		}
	}
	return domain.FileHandle{}, false
}

func (r *Resolver) nameMatches(name, ref string) bool {
	if name == ref {
		return true
	}
	return r.looseFileMatch && strings.Contains(name, ref)
}

func fileKey(f domain.FileHandle) string {
	if f.GeminiURI != "" {
		return f.GeminiURI
	}
	return f.Name
}
