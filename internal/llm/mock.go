package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// MockModel is a canned llms.Model used by tests instead of a live endpoint.
type MockModel struct {
	Response string
	Err      error

	// Calls records the content of each GenerateContent invocation.
	Calls [][]llms.MessageContent
}

func NewMockModel(response string) *MockModel {
	return &MockModel{Response: response}
}

func (m *MockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.Calls = append(m.Calls, messages)
	if m.Err != nil {
		return nil, m.Err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.Response}},
	}, nil
}

func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}
