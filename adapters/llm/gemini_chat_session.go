package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/arunika/voicelink/domain"
	"github.com/satriahrh/arunika/voicelink/domain/repositories"
)

const maxAttempts = 3

// GeminiChatSession implements the ChatSession interface
type GeminiChatSession struct {
	models          contentGenerator
	logger          *zap.Logger
	model           string
	temperature     float32
	topP            float32
	topK            float32
	maxOutputTokens int
	timeoutSeconds  int
	safetySettings  []*genai.SafetySetting
	systemPrompt    string

	mu      sync.Mutex
	history []*genai.Content
}

// Ensure GeminiChatSession implements the ChatSession interface
var _ repositories.ChatSession = (*GeminiChatSession)(nil)

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return ErrMissingAPIKey
	}

	// Validate temperature is in the valid range
	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}

	// Validate topP is in the valid range
	if config.TopP != 0 && (config.TopP < 0 || config.TopP > 1) {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}

	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}

// NewGeminiChatSession creates a new chat session with config and history
func NewGeminiChatSession(models contentGenerator, config GeminiConfig, logger *zap.Logger, history []repositories.ChatMessage) (*GeminiChatSession, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = float32(defaultTemperature)
		logger.Info("Using default temperature", zap.Float32("temperature", temperature))
	}

	topP := config.TopP
	if topP == 0 {
		topP = float32(defaultTopP)
	}

	topK := config.TopK
	if topK == 0 {
		topK = float32(defaultTopK)
	}

	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxTokens
		logger.Info("Using default maxOutputTokens", zap.Int("maxOutputTokens", maxOutputTokens))
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	systemPrompt := config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = geminiDefaults.SystemPrompt
	}

	return &GeminiChatSession{
		models:          models,
		logger:          logger,
		model:           model,
		temperature:     temperature,
		topP:            topP,
		topK:            topK,
		maxOutputTokens: maxOutputTokens,
		timeoutSeconds:  timeoutSeconds,
		safetySettings:  geminiDefaults.SafetySettings,
		systemPrompt:    systemPrompt,
		history:         convertRepositoryToGeminiFormat(history),
	}, nil
}

func (s *GeminiChatSession) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(s.systemPrompt, genai.RoleUser),
		SafetySettings:    s.safetySettings,
		Temperature:       genai.Ptr(s.temperature),
		TopP:              genai.Ptr(s.topP),
		TopK:              genai.Ptr(s.topK),
		MaxOutputTokens:   int32(s.maxOutputTokens),
		Tools:             orderToolset(),
	}
}

// contentsFor returns history plus the turn in progress
func (s *GeminiChatSession) contentsFor(turn []*genai.Content) []*genai.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	contents := make([]*genai.Content, 0, len(s.history)+len(turn))
	contents = append(contents, s.history...)
	return append(contents, turn...)
}

func (s *GeminiChatSession) remember(contents ...*genai.Content) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, contents...)
	return len(s.history)
}

// generateFunc produces the responses of one model round
type generateFunc func(ctx context.Context, contents []*genai.Content) iter.Seq2[*genai.GenerateContentResponse, error]

func (s *GeminiChatSession) streamRound(ctx context.Context, contents []*genai.Content) iter.Seq2[*genai.GenerateContentResponse, error] {
	return s.models.GenerateContentStream(ctx, s.model, contents, s.generateConfig())
}

// retryRound makes one non-streaming request, retrying with a linear backoff
func (s *GeminiChatSession) retryRound(ctx context.Context, contents []*genai.Content) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		var response *genai.GenerateContentResponse
		var err error
		for attempt := 0; attempt < maxAttempts; attempt++ {
			response, err = s.models.GenerateContent(ctx, s.model, contents, s.generateConfig())
			if err == nil {
				break
			}

			s.logger.Warn("Failed to generate content, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err))

			if attempt < maxAttempts-1 {
				select {
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				case <-time.After(time.Duration(attempt+1) * time.Second):
				}
			}
		}
		yield(response, err)
	}
}

// SendMessage sends a message and gets a response, updating the history
func (s *GeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	return s.converse(ctx, message, s.retryRound, repositories.StreamHandler{})
}

// SendMessageStream streams the reply to handler, running any tools the
// model asks for. A failed stream that produced nothing falls back like
// SendMessage; one that fails midway returns the error.
func (s *GeminiChatSession) SendMessageStream(ctx context.Context, message repositories.ChatMessage, handler repositories.StreamHandler) (repositories.ChatMessage, error) {
	return s.converse(ctx, message, s.streamRound, handler)
}

// converse runs one user turn. Each round either ends the turn with text or
// asks for tool calls, whose results are fed back for another round.
func (s *GeminiChatSession) converse(ctx context.Context, message repositories.ChatMessage, generate generateFunc, handler repositories.StreamHandler) (repositories.ChatMessage, error) {
	turn := []*genai.Content{genai.NewContentFromText(message.Content, genai.RoleUser)}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutSeconds)*time.Second)
	defer cancel()

	var reply, roundText strings.Builder
	progressed := false
	for round := 0; ; round++ {
		roundText.Reset()
		var calls []*genai.FunctionCall

		for response, err := range generate(ctx, s.contentsFor(turn)) {
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return repositories.ChatMessage{}, ctxErr
				}
				if progressed {
					return repositories.ChatMessage{}, fmt.Errorf("failed to stream reply: %w", err)
				}
				s.logger.Error("Failed to generate reply in chat session", zap.Error(err))
				return s.createFallbackResponse(handler, turn...)
			}

			text, chunkCalls := responseParts(response)
			calls = append(calls, chunkCalls...)
			if text == "" {
				continue
			}
			progressed = true
			roundText.WriteString(text)
			reply.WriteString(text)
			if err := handler.Text(text); err != nil {
				return repositories.ChatMessage{}, err
			}
		}

		if len(calls) == 0 {
			break
		}
		if round == maxToolRounds {
			s.logger.Warn("Dropping tool calls past the round limit", zap.Int("calls", len(calls)))
			break
		}
		progressed = true

		modelTurn, toolTurn, err := s.runCalls(roundText.String(), calls, handler)
		if err != nil {
			return repositories.ChatMessage{}, err
		}
		turn = append(turn, modelTurn, toolTurn)
	}

	if reply.Len() == 0 {
		s.logger.Warn("Empty response in chat session")
		return s.createFallbackResponse(handler, turn...)
	}

	if roundText.Len() > 0 {
		turn = append(turn, genai.NewContentFromText(roundText.String(), genai.RoleModel))
	}
	historyLength := s.remember(turn...)

	s.logger.Debug("Chat session message processed",
		zap.String("userMessage", preview(message.Content)),
		zap.String("responsePreview", preview(reply.String())),
		zap.Int("historyLength", historyLength))

	return repositories.ChatMessage{Role: repositories.AssistantRole, Content: reply.String()}, nil
}

// runCalls executes tool calls, reporting each to handler, and returns the
// model turn that asked for them plus the turn carrying their results
func (s *GeminiChatSession) runCalls(text string, calls []*genai.FunctionCall, handler repositories.StreamHandler) (*genai.Content, *genai.Content, error) {
	modelTurn := &genai.Content{Role: genai.RoleModel}
	if text != "" {
		modelTurn.Parts = append(modelTurn.Parts, genai.NewPartFromText(text))
	}
	toolTurn := &genai.Content{Role: genai.RoleUser}

	for _, call := range calls {
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		if err := handler.ToolCall(domain.ToolCall{ID: id, Name: call.Name, Args: call.Args}); err != nil {
			return nil, nil, err
		}

		result, ok := runTool(call.Name, call.Args)
		s.logger.Info("Tool called",
			zap.String("tool", call.Name),
			zap.Bool("ok", ok))

		if err := handler.ToolResult(domain.ToolResult{ToolCallID: id, Name: call.Name, Result: result}); err != nil {
			return nil, nil, err
		}

		modelTurn.Parts = append(modelTurn.Parts, &genai.Part{FunctionCall: call})
		toolTurn.Parts = append(toolTurn.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"output": result},
		}})
	}
	return modelTurn, toolTurn, nil
}

// History returns the current conversation history
func (s *GeminiChatSession) History() ([]repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return convertGeminiToRepositoryFormat(s.history), nil
}

// createFallbackResponse records the turn with a canned reply and hands
// that reply to handler as its only text
func (s *GeminiChatSession) createFallbackResponse(handler repositories.StreamHandler, turn ...*genai.Content) (repositories.ChatMessage, error) {
	fallbacks := geminiDefaults.Fallbacks
	index := int(time.Now().UnixNano()) % len(fallbacks)

	s.remember(append(turn, genai.NewContentFromText(fallbacks[index], genai.RoleModel))...)

	if err := handler.Text(fallbacks[index]); err != nil {
		return repositories.ChatMessage{}, err
	}
	return repositories.ChatMessage{
		Role:    repositories.AssistantRole,
		Content: fallbacks[index],
	}, nil
}

// responseParts splits one response into its text and its function calls
func responseParts(response *genai.GenerateContentResponse) (string, []*genai.FunctionCall) {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", nil
	}
	var text string
	var calls []*genai.FunctionCall
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return text, calls
}

func preview(s string) string {
	return s[:min(50, len(s))]
}

// convertRepositoryToGeminiFormat converts repository messages to Gemini format
func convertRepositoryToGeminiFormat(messages []repositories.ChatMessage) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		var role genai.Role
		switch msg.Role {
		case repositories.AssistantRole:
			role = genai.RoleModel
		default:
			// Gemini has no system turn inside contents
			role = genai.RoleUser
		}

		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	return contents
}

// convertGeminiToRepositoryFormat converts Gemini content to repository messages
func convertGeminiToRepositoryFormat(contents []*genai.Content) []repositories.ChatMessage {
	var messages []repositories.ChatMessage

	for _, content := range contents {
		role := repositories.UserRole
		if content.Role == genai.RoleModel {
			role = repositories.AssistantRole
		}

		var text string
		for _, part := range content.Parts {
			if part.Text != "" {
				text += part.Text
			}
		}

		if text != "" {
			messages = append(messages, repositories.ChatMessage{
				Role:    role,
				Content: text,
			})
		}
	}

	return messages
}
