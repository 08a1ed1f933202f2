package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voicelink/domain"
	"github.com/satriahrh/arunika/voicelink/domain/repositories"
)

// ChatService turns final transcripts into streamed agent replies
type ChatService struct {
	llm    repositories.LargeLanguageModel
	logger *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(llm repositories.LargeLanguageModel, logger *zap.Logger) *ChatService {
	return &ChatService{llm: llm, logger: logger}
}

// Execute answers each transcript from input in one chat session. Every
// reply is emitted as agent_chunk events, interleaved with tool_call and
// tool_result events when the agent uses tools, followed by one agent_end.
// The full reply text is sent on replies. Execute returns when input is closed.
func (s *ChatService) Execute(ctx context.Context, sessionID string, input <-chan string, emit func(domain.Event) error, replies chan<- string) error {
	logger := s.logger.With(zap.String("sessionID", sessionID))

	chatSession, err := s.llm.GenerateChat(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to create chat session: %w", err)
	}

	defer func() {
		if history, err := chatSession.History(); err == nil {
			logger.Info("Chat session finished", zap.Int("historyLength", len(history)))
		}
	}()

	for {
		var transcript string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-input:
			if !ok {
				return nil
			}
			transcript = msg
		}

		reply, err := chatSession.SendMessageStream(ctx, repositories.ChatMessage{
			Role:    repositories.UserRole,
			Content: transcript,
		}, repositories.StreamHandler{
			OnText: func(chunk string) error {
				return emit(domain.NewAgentChunkEvent(chunk))
			},
			OnToolCall: func(call domain.ToolCall) error {
				return emit(domain.NewToolCallEvent(call))
			},
			OnToolResult: func(result domain.ToolResult) error {
				return emit(domain.NewToolResultEvent(result))
			},
		})
		if err != nil {
			return fmt.Errorf("failed to generate reply: %w", err)
		}

		if err := emit(domain.NewAgentEndEvent()); err != nil {
			return err
		}

		logger.Debug("Agent replied",
			zap.Int("transcriptLength", len(transcript)),
			zap.Int("replyLength", len(reply.Content)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case replies <- reply.Content:
		}
	}
}
