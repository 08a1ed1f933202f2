package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/arunika/voicelink/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.95
	defaultTopK           = 40
	defaultMaxTokens      = 1024
	defaultTimeoutSeconds = 30
)

// ErrMissingAPIKey is returned when no Gemini credential is configured
var ErrMissingAPIKey = errors.New("Google AI API key is required")

// GeminiConfig holds configuration for Gemini chat sessions
type GeminiConfig struct {
	APIKey          string  // Required: Google AI API key
	Model           string  // Optional: e.g. "gemini-2.0-flash"
	Temperature     float32 // Optional: 0..1
	TopP            float32 // Optional: 0..1
	TopK            float32 // Optional
	MaxOutputTokens int     // Optional
	TimeoutSeconds  int     // Optional: per-request timeout
	SystemPrompt    string  // Optional: overrides the built-in order-taker prompt
}

// geminiDefaults holds settings that are not exposed through configuration
var geminiDefaults = struct {
	SystemPrompt   string
	SafetySettings []*genai.SafetySetting
	Fallbacks      []string
}{
	SystemPrompt: `You are a helpful sandwich shop assistant. Your goal is to take the user's order.
Be concise and friendly. Your replies are spoken aloud, so avoid lists and markup.

Available toppings: lettuce, tomato, onion, pickles, mayo, mustard.
Available meats: turkey, ham, roast beef.
Available cheeses: swiss, cheddar, provolone.`,
	SafetySettings: []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	},
	Fallbacks: []string{
		"Sorry, I didn't catch that. What would you like on your sandwich?",
		"Sorry, could you say that again?",
		"I'm having a little trouble right now. Could you repeat your order?",
	},
}

// contentGenerator is the subset of genai.Models used by chat sessions
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	models contentGenerator
	config GeminiConfig
	logger *zap.Logger
}

// Ensure GeminiLLM implements the LargeLanguageModel interface
var _ repositories.LargeLanguageModel = (*GeminiLLM)(nil)

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiLLM{
		models: client.Models,
		config: config,
		logger: logger.With(zap.String("component", "gemini")),
	}, nil
}

// GenerateChat creates a chat session with history
func (g *GeminiLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return NewGeminiChatSession(g.models, g.config, g.logger, history)
}
