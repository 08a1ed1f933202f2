package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/satriahrh/arunika/voicelink/domain/repositories"
)

// MockGeminiClient is an offline stand-in for Gemini that echoes the user
type MockGeminiClient struct{}

// Ensure MockGeminiClient implements the LargeLanguageModel interface
var _ repositories.LargeLanguageModel = (*MockGeminiClient)(nil)

// NewMockGeminiClient creates a new mock Gemini client
func NewMockGeminiClient() *MockGeminiClient {
	return &MockGeminiClient{}
}

// GenerateChat implements repositories.LargeLanguageModel
func (g *MockGeminiClient) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return &MockGeminiChatSession{
		history: append([]repositories.ChatMessage(nil), history...),
	}, nil
}

// MockGeminiChatSession implements repositories.ChatSession
type MockGeminiChatSession struct {
	mu      sync.Mutex
	history []repositories.ChatMessage
}

func mockReply(message repositories.ChatMessage) string {
	if strings.TrimSpace(message.Content) == "" {
		return "Hi! What can I get started for you today?"
	}
	return fmt.Sprintf("You said: %s. What else would you like on your sandwich?", message.Content)
}

// SendMessage implements repositories.ChatSession
func (g *MockGeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	reply := repositories.ChatMessage{
		Role:    repositories.AssistantRole,
		Content: mockReply(message),
	}

	g.mu.Lock()
	g.history = append(g.history, message, reply)
	g.mu.Unlock()

	return reply, nil
}

// SendMessageStream implements repositories.ChatSession, one word per chunk
func (g *MockGeminiChatSession) SendMessageStream(ctx context.Context, message repositories.ChatMessage, handler repositories.StreamHandler) (repositories.ChatMessage, error) {
	reply, err := g.SendMessage(ctx, message)
	if err != nil {
		return repositories.ChatMessage{}, err
	}

	words := strings.Fields(reply.Content)
	for i, word := range words {
		if err := ctx.Err(); err != nil {
			return repositories.ChatMessage{}, err
		}
		if i < len(words)-1 {
			word += " "
		}
		if err := handler.Text(word); err != nil {
			return repositories.ChatMessage{}, err
		}
	}
	return reply, nil
}

// History implements repositories.ChatSession
func (g *MockGeminiChatSession) History() ([]repositories.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]repositories.ChatMessage(nil), g.history...), nil
}
