package prompt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/stretchr/testify/assert"
)

func testConversation() *domain.Conversation {
	return &domain.Conversation{
		ContextID: "ctx-1",
		Username:  "buyer42",
		Messages: []domain.ConversationMessage{
			{Sender: "buyer42", Body: "Hi, can you build a logo?", SentAt: time.Now()},
			{Sender: "me", Body: "Sure, tell me more", SentAt: time.Now()},
			{Sender: "buyer42", Body: "Budget is $200", SentAt: time.Now()},
		},
	}
}

func TestResolver_SuppliedContextWins(t *testing.T) {
	ctx := context.Background()
	conv := new(MockConversationSource)
	r := NewResolver(nil, conv)

	// Supplied value short-circuits system derivation entirely.
	contextMap, files := r.Resolve(ctx, "Hi {username}", map[string]string{
		"username": "override",
	}, nil)

	assert.Equal(t, "override", contextMap["username"])
	assert.Empty(t, files)
	conv.AssertNotCalled(t, "Current")
}

func TestResolver_SystemVariables(t *testing.T) {
	ctx := context.Background()

	t.Run("username from conversation", func(t *testing.T) {
		conv := new(MockConversationSource)
		conv.On("Current", ctx).Return(testConversation(), nil)
		r := NewResolver(nil, conv)

		contextMap, _ := r.Resolve(ctx, "Hi {username}", nil, nil)
		assert.Equal(t, "buyer42", contextMap["username"])
	})

	t.Run("username without conversation source", func(t *testing.T) {
		r := NewResolver(nil, nil)
		contextMap, _ := r.Resolve(ctx, "Hi {username}", nil, nil)
		assert.Equal(t, "User", contextMap["username"])
	})

	t.Run("username with empty snapshot name", func(t *testing.T) {
		conv := new(MockConversationSource)
		conv.On("Current", ctx).Return(&domain.Conversation{ContextID: "ctx-2"}, nil)
		r := NewResolver(nil, conv)

		contextMap, _ := r.Resolve(ctx, "Hi {username}", nil, nil)
		assert.Equal(t, "Client", contextMap["username"])
	})

	t.Run("conversation transcript", func(t *testing.T) {
		conv := new(MockConversationSource)
		conv.On("Current", ctx).Return(testConversation(), nil)
		r := NewResolver(nil, conv)

		contextMap, _ := r.Resolve(ctx, "{conversation}", nil, nil)
		assert.Contains(t, contextMap["conversation"], "buyer42: Hi, can you build a logo?")
		assert.Contains(t, contextMap["conversation"], "me: Sure, tell me more")
	})

	t.Run("conversation count and last message", func(t *testing.T) {
		conv := new(MockConversationSource)
		conv.On("Current", ctx).Return(testConversation(), nil)
		r := NewResolver(nil, conv)

		contextMap, _ := r.Resolve(ctx, "{conversation_count} {conversation_last_message}", nil, nil)
		assert.Equal(t, "3", contextMap["conversation_count"])
		assert.Equal(t, "Budget is $200", contextMap["conversation_last_message"])
	})

	t.Run("conversation summary", func(t *testing.T) {
		conv := new(MockConversationSource)
		snapshot := testConversation()
		conv.On("Current", ctx).Return(snapshot, nil)
		conv.On("Summary", snapshot).Return("summary text")
		r := NewResolver(nil, conv)

		contextMap, _ := r.Resolve(ctx, "{conversation_summary}", nil, nil)
		assert.Equal(t, "summary text", contextMap["conversation_summary"])
	})

	t.Run("unknown names omitted", func(t *testing.T) {
		r := NewResolver(nil, nil)
		contextMap, _ := r.Resolve(ctx, "{no_such_variable}", nil, nil)
		_, ok := contextMap["no_such_variable"]
		assert.False(t, ok)
	})

	t.Run("conversation omitted on source error", func(t *testing.T) {
		conv := new(MockConversationSource)
		conv.On("Current", ctx).Return(nil, errors.New("storage down"))
		r := NewResolver(nil, conv)

		contextMap, _ := r.Resolve(ctx, "{conversation} {conversation_count}", nil, nil)
		_, ok := contextMap["conversation"]
		assert.False(t, ok)
		assert.Equal(t, "0", contextMap["conversation_count"])
	})
}

func TestResolver_KnowledgeBaseVariables(t *testing.T) {
	ctx := context.Background()
	kb := new(MockKnowledgeSource)
	kb.On("GetVariable", ctx, "hourly_rate").Return("$50", true)
	kb.On("GetVariable", ctx, "missing").Return("", false)
	r := NewResolver(kb, nil)

	contextMap, _ := r.Resolve(ctx, "{{hourly_rate}} {{missing}}", nil, nil)

	assert.Equal(t, "$50", contextMap["hourly_rate"])
	_, ok := contextMap["missing"]
	assert.False(t, ok)
}

func TestResolver_ManualFilesAlwaysIncluded(t *testing.T) {
	ctx := context.Background()
	kb := new(MockKnowledgeSource)
	kb.On("AllFiles", ctx).Return([]domain.FileHandle{
		{Name: "resume.pdf", GeminiURI: "files/resume"},
	}, nil)
	r := NewResolver(kb, nil)

	manual := []domain.FileHandle{{Name: "draft.png", GeminiURI: "files/draft"}}
	_, files := r.Resolve(ctx, "See {{file:resume.pdf}}", nil, manual)

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "draft.png")
	assert.Contains(t, names, "resume.pdf")
	// Manual attachments come first.
	assert.Equal(t, "draft.png", files[0].Name)
}

func TestResolver_FileMatching(t *testing.T) {
	ctx := context.Background()
	registered := []domain.FileHandle{
		{Name: "resume.pdf", GeminiURI: "files/resume"},
		{Name: "old-resume.pdf", GeminiURI: "files/old-resume"},
	}

	t.Run("exact match by default", func(t *testing.T) {
		kb := new(MockKnowledgeSource)
		kb.On("AllFiles", ctx).Return(registered, nil)
		r := NewResolver(kb, nil)

		_, files := r.Resolve(ctx, "{{file:resume.pdf}}", nil, nil)
		assert.Len(t, files, 1)
		assert.Equal(t, "resume.pdf", files[0].Name)
	})

	t.Run("no exact match omits reference", func(t *testing.T) {
		kb := new(MockKnowledgeSource)
		kb.On("AllFiles", ctx).Return(registered, nil)
		r := NewResolver(kb, nil)

		_, files := r.Resolve(ctx, "{{file:resume}}", nil, nil)
		assert.Empty(t, files)
	})

	t.Run("loose match opt-in", func(t *testing.T) {
		kb := new(MockKnowledgeSource)
		kb.On("AllFiles", ctx).Return(registered, nil)
		r := NewResolver(kb, nil, WithLooseFileMatch())

		_, files := r.Resolve(ctx, "{{file:resume}}", nil, nil)
		assert.Len(t, files, 1)
		assert.Equal(t, "resume.pdf", files[0].Name)
	})

	t.Run("duplicate references collapse", func(t *testing.T) {
		kb := new(MockKnowledgeSource)
		kb.On("AllFiles", ctx).Return(registered, nil)
		r := NewResolver(kb, nil)

		_, files := r.Resolve(ctx, "{{file:resume.pdf}} again {{file:resume.pdf}}", nil, nil)
		assert.Len(t, files, 1)
	})

	t.Run("listing failure drops references silently", func(t *testing.T) {
		kb := new(MockKnowledgeSource)
		kb.On("AllFiles", ctx).Return(nil, errors.New("storage down"))
		r := NewResolver(kb, nil)

		_, files := r.Resolve(ctx, "{{file:resume.pdf}}", nil, nil)
		assert.Empty(t, files)
	})

	t.Run("unattachable registered file skipped", func(t *testing.T) {
		kb := new(MockKnowledgeSource)
		kb.On("AllFiles", ctx).Return([]domain.FileHandle{{Name: "notes.txt"}}, nil)
		r := NewResolver(kb, nil)

		_, files := r.Resolve(ctx, "{{file:notes.txt}}", nil, nil)
		assert.Empty(t, files)
	})
}

func TestResolver_UnresolvedManualFilesResolvedThroughKB(t *testing.T) {
	ctx := context.Background()
	kb := new(MockKnowledgeSource)
	pending := []domain.FileHandle{{Name: "draft.png"}}
	kb.On("ResolveFiles", ctx, pending).Return([]domain.FileHandle{
		{Name: "draft.png", GeminiURI: "files/draft"},
	}, nil)
	r := NewResolver(kb, nil)

	_, files := r.Resolve(ctx, "no refs here", nil, pending)

	assert.Len(t, files, 1)
	assert.Equal(t, "files/draft", files[0].GeminiURI)
	kb.AssertExpectations(t)
}
