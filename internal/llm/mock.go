package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse 模拟客户端的单次预期响应
type MockResponse struct {
	Content string
	Error   error
}

// MockChatModel 测试用的model.ChatModel实现
// 按调用顺序依次返回预设响应，并记录收到的消息供断言
type MockChatModel struct {
	mu        sync.Mutex
	responses []MockResponse
	index     int

	ReceivedMessages [][]*schema.Message
}

// NewMockChatModel 创建按顺序返回预设响应的模拟模型
func NewMockChatModel(responses ...MockResponse) *MockChatModel {
	return &MockChatModel{responses: responses}
}

// Generate 返回下一条预设响应，预设耗尽后报错
func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := make([]*schema.Message, len(input))
	copy(recorded, input)
	m.ReceivedMessages = append(m.ReceivedMessages, recorded)

	if m.index >= len(m.responses) {
		return nil, errors.New("模拟模型的预设响应已耗尽")
	}
	resp := m.responses[m.index]
	m.index++

	if resp.Error != nil {
		return nil, resp.Error
	}
	return schema.AssistantMessage(resp.Content, nil), nil
}

// Stream 模拟模型不支持流式输出
func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("MockChatModel不支持流式输出")
}

// BindTools 空实现
func (m *MockChatModel) BindTools(tools []*schema.ToolInfo) error {
	return nil
}

// CallCount 返回Generate被调用的次数
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ReceivedMessages)
}

var _ model.ChatModel = (*MockChatModel)(nil)
