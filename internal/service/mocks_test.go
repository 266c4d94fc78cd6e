package service

import (
	"context"

	"github.com/kavarel/gigpilot/internal/gemini"
	"github.com/stretchr/testify/mock"
)

// MockGenerator mocks the Generator interface
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateReply(ctx context.Context, req gemini.Request) (*gemini.Reply, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gemini.Reply), args.Error(1)
}

func (m *MockGenerator) IsConfigured() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockGenerator) KeyCount() int {
	args := m.Called()
	return args.Int(0)
}
