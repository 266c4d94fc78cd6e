package prompt

import (
	"context"

	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockKnowledgeSource mocks the KnowledgeSource interface
type MockKnowledgeSource struct {
	mock.Mock
}

func (m *MockKnowledgeSource) GetVariable(ctx context.Context, name string) (string, bool) {
	args := m.Called(ctx, name)
	return args.String(0), args.Bool(1)
}

func (m *MockKnowledgeSource) AllFiles(ctx context.Context) ([]domain.FileHandle, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FileHandle), args.Error(1)
}

func (m *MockKnowledgeSource) ResolveFiles(ctx context.Context, handles []domain.FileHandle) ([]domain.FileHandle, error) {
	args := m.Called(ctx, handles)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FileHandle), args.Error(1)
}

func (m *MockKnowledgeSource) ReplaceVariables(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

func (m *MockKnowledgeSource) ReplaceFileReferences(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

// MockConversationSource mocks the ConversationSource interface
type MockConversationSource struct {
	mock.Mock
}

func (m *MockConversationSource) Current(ctx context.Context) (*domain.Conversation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationSource) Summary(conv *domain.Conversation) string {
	args := m.Called(conv)
	return args.String(0)
}
