package repositories

import (
	"context"

	"github.com/satriahrh/arunika/voicelink/domain"
)

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// GenerateChat creates a chat session with history
	GenerateChat(ctx context.Context, history []ChatMessage) (ChatSession, error)
}

// ChatSession represents an ongoing conversation session
type ChatSession interface {
	SendMessage(ctx context.Context, message ChatMessage) (ChatMessage, error)
	// SendMessageStream behaves like SendMessage but reports reply text and
	// tool activity to handler as it happens. The returned message holds the
	// full reply text.
	SendMessageStream(ctx context.Context, message ChatMessage, handler StreamHandler) (ChatMessage, error)
	History() ([]ChatMessage, error)
}

// StreamHandler receives the pieces of a streamed reply. Nil funcs are
// skipped; an error from any of them aborts the stream.
type StreamHandler struct {
	OnText       func(text string) error
	OnToolCall   func(call domain.ToolCall) error
	OnToolResult func(result domain.ToolResult) error
}

// Text reports a chunk of reply text
func (h StreamHandler) Text(text string) error {
	if h.OnText == nil {
		return nil
	}
	return h.OnText(text)
}

// ToolCall reports a tool invocation
func (h StreamHandler) ToolCall(call domain.ToolCall) error {
	if h.OnToolCall == nil {
		return nil
	}
	return h.OnToolCall(call)
}

// ToolResult reports a tool's output
func (h StreamHandler) ToolResult(result domain.ToolResult) error {
	if h.OnToolResult == nil {
		return nil
	}
	return h.OnToolResult(result)
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"
)
