package llm

import (
	"context"
	"sync"
)

// MockClient 用于测试的 Mock LLM 客户端：按顺序返回预设回复，用完后重复最后一条。
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	CallCount int
	// LastMessages 记录最近一次调用的消息，便于断言 Prompt。
	LastMessages []Message
	LastSchema   *JSONSchema
}

func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

func (m *MockClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount++
	m.LastMessages = messages
	m.LastSchema = schema

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "{}", nil
	}
	idx := m.CallCount - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// Calls 返回调用次数（并发安全）。
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}
