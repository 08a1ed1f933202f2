package llm

import (
	"context"
	"errors"
	"iter"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/satriahrh/arunika/voicelink/domain"
	"github.com/satriahrh/arunika/voicelink/domain/repositories"
)

// fakeModels answers with scripted chunks and records what it was sent.
// When rounds is set, the n-th stream replays rounds[n] instead of chunks.
type fakeModels struct {
	chunks    []string
	rounds    [][]*genai.GenerateContentResponse
	streamErr error
	err       error
	calls     [][]*genai.Content
	configs   []*genai.GenerateContentConfig
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(text, genai.RoleModel),
		}},
	}
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls = append(f.calls, contents)
	f.configs = append(f.configs, config)
	if f.err != nil {
		return nil, f.err
	}
	return textResponse(strings.Join(f.chunks, "")), nil
}

func (f *fakeModels) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.calls = append(f.calls, contents)
	f.configs = append(f.configs, config)
	if round := len(f.calls) - 1; round < len(f.rounds) {
		responses := f.rounds[round]
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			for _, response := range responses {
				if !yield(response, nil) {
					return
				}
			}
		}
	}
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, chunk := range f.chunks {
			if !yield(textResponse(chunk), nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(nil, f.streamErr)
		}
	}
}

func callResponse(calls ...*genai.FunctionCall) *genai.GenerateContentResponse {
	content := &genai.Content{Role: genai.RoleModel}
	for _, call := range calls {
		content.Parts = append(content.Parts, &genai.Part{FunctionCall: call})
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

// collected gathers everything a streamed reply reports
type collected struct {
	chunks  []string
	calls   []domain.ToolCall
	results []domain.ToolResult
}

func (c *collected) handler() repositories.StreamHandler {
	return repositories.StreamHandler{
		OnText:       func(text string) error { c.chunks = append(c.chunks, text); return nil },
		OnToolCall:   func(call domain.ToolCall) error { c.calls = append(c.calls, call); return nil },
		OnToolResult: func(result domain.ToolResult) error { c.results = append(c.results, result); return nil },
	}
}

func textOnly(fn func(string) error) repositories.StreamHandler {
	return repositories.StreamHandler{OnText: fn}
}

func newTestSession(t *testing.T, models *fakeModels, history []repositories.ChatMessage) *GeminiChatSession {
	t.Helper()
	s, err := NewGeminiChatSession(models, GeminiConfig{APIKey: "test-key"}, zaptest.NewLogger(t), history)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return s
}

func TestValidateGeminiConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GeminiConfig
		wantErr bool
	}{
		{"valid", GeminiConfig{APIKey: "k"}, false},
		{"missing key", GeminiConfig{}, true},
		{"temperature too high", GeminiConfig{APIKey: "k", Temperature: 1.5}, true},
		{"negative topK", GeminiConfig{APIKey: "k", TopK: -1}, true},
		{"negative timeout", GeminiConfig{APIKey: "k", TimeoutSeconds: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeminiConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGeminiConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if !errors.Is(ValidateGeminiConfig(GeminiConfig{}), ErrMissingAPIKey) {
		t.Error("Expected ErrMissingAPIKey")
	}
}

func TestGeminiChatSession_SendMessageStream(t *testing.T) {
	models := &fakeModels{chunks: []string{"One turkey ", "on rye, ", "coming up."}}
	s := newTestSession(t, models, []repositories.ChatMessage{
		{Role: repositories.UserRole, Content: "hello"},
		{Role: repositories.AssistantRole, Content: "hi, what can I get you?"},
	})

	var got []string
	reply, err := s.SendMessageStream(context.Background(),
		repositories.ChatMessage{Role: repositories.UserRole, Content: "turkey on rye"},
		textOnly(func(chunk string) error {
			got = append(got, chunk)
			return nil
		}))
	if err != nil {
		t.Fatalf("SendMessageStream failed: %v", err)
	}

	if len(got) != 3 {
		t.Errorf("Expected 3 chunks, got %v", got)
	}
	if reply.Role != repositories.AssistantRole || reply.Content != "One turkey on rye, coming up." {
		t.Errorf("Unexpected reply %+v", reply)
	}

	sent := models.calls[0]
	if len(sent) != 3 || sent[0].Role != genai.RoleUser || sent[1].Role != genai.RoleModel {
		t.Errorf("Expected prior history followed by the user turn, got %d contents", len(sent))
	}
	if models.configs[0].SystemInstruction == nil ||
		!strings.Contains(models.configs[0].SystemInstruction.Parts[0].Text, "sandwich") {
		t.Error("Expected the order-taker system instruction")
	}

	history, _ := s.History()
	if len(history) != 4 || history[3].Content != reply.Content {
		t.Errorf("Expected history to grow by the exchange, got %+v", history)
	}
}

func TestGeminiChatSession_ToolCalls(t *testing.T) {
	models := &fakeModels{rounds: [][]*genai.GenerateContentResponse{
		{
			textResponse("Sure. "),
			callResponse(&genai.FunctionCall{ID: "call-1", Name: "add_to_order", Args: map[string]any{"item": "turkey sandwich", "quantity": float64(2)}}),
		},
		{callResponse(&genai.FunctionCall{Name: "confirm_order", Args: map[string]any{"order_summary": "2 turkey sandwiches"}})},
		{textResponse("Your order is in.")},
	}}
	s := newTestSession(t, models, nil)

	var got collected
	reply, err := s.SendMessageStream(context.Background(),
		repositories.ChatMessage{Role: repositories.UserRole, Content: "two turkey sandwiches, that's all"},
		got.handler())
	if err != nil {
		t.Fatalf("SendMessageStream failed: %v", err)
	}

	if reply.Content != "Sure. Your order is in." {
		t.Errorf("Unexpected reply %q", reply.Content)
	}
	if len(got.calls) != 2 || len(got.results) != 2 {
		t.Fatalf("Expected 2 tool calls and results, got %+v / %+v", got.calls, got.results)
	}
	if got.calls[0].ID != "call-1" || got.calls[0].Name != "add_to_order" {
		t.Errorf("Unexpected first call %+v", got.calls[0])
	}
	if got.results[0].ToolCallID != "call-1" || got.results[0].Result != "Added 2 x turkey sandwich to the order." {
		t.Errorf("Unexpected first result %+v", got.results[0])
	}
	if got.calls[1].ID == "" || got.results[1].ToolCallID != got.calls[1].ID {
		t.Errorf("Expected a generated id shared by call and result, got %+v / %+v", got.calls[1], got.results[1])
	}
	if got.results[1].Result != "Order confirmed: 2 turkey sandwiches. Sending to kitchen." {
		t.Errorf("Unexpected confirm result %q", got.results[1].Result)
	}

	if len(models.calls) != 3 {
		t.Fatalf("Expected 3 model rounds, got %d", len(models.calls))
	}
	second := models.calls[1]
	last := second[len(second)-1]
	if last.Parts[0].FunctionResponse == nil || last.Parts[0].FunctionResponse.Name != "add_to_order" {
		t.Errorf("Expected the tool output fed back to the model, got %+v", last.Parts[0])
	}
	tools := models.configs[0].Tools
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 2 {
		t.Errorf("Expected both order tools declared, got %+v", tools)
	}
}

func TestGeminiChatSession_ToolRoundLimit(t *testing.T) {
	models := &fakeModels{}
	for i := 0; i < maxToolRounds+3; i++ {
		models.rounds = append(models.rounds, []*genai.GenerateContentResponse{
			callResponse(&genai.FunctionCall{Name: "lookup_menu"}),
		})
	}
	s := newTestSession(t, models, nil)

	var got collected
	reply, err := s.SendMessageStream(context.Background(),
		repositories.ChatMessage{Role: repositories.UserRole, Content: "what do you have?"},
		got.handler())
	if err != nil {
		t.Fatalf("SendMessageStream failed: %v", err)
	}

	if len(models.calls) != maxToolRounds+1 {
		t.Errorf("Expected %d model rounds, got %d", maxToolRounds+1, len(models.calls))
	}
	if len(got.results) != maxToolRounds {
		t.Errorf("Expected %d tool results, got %d", maxToolRounds, len(got.results))
	}
	if got.results[0].Result != `Unknown tool "lookup_menu".` {
		t.Errorf("Expected the unknown tool reported back, got %q", got.results[0].Result)
	}
	if len(got.chunks) != 1 || got.chunks[0] != reply.Content {
		t.Errorf("Expected the fallback reply once the limit is hit, got %v / %+v", got.chunks, reply)
	}
}

func TestRunTool(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		args   map[string]any
		want   string
		wantOK bool
	}{
		{"add", "add_to_order", map[string]any{"item": "ham", "quantity": float64(1)}, "Added 1 x ham to the order.", true},
		{"fractional quantity", "add_to_order", map[string]any{"item": "ham", "quantity": 1.5}, "", false},
		{"missing item", "add_to_order", map[string]any{"quantity": float64(1)}, "", false},
		{"confirm", "confirm_order", map[string]any{"order_summary": "one ham"}, "Order confirmed: one ham. Sending to kitchen.", true},
		{"unknown", "refund", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := runTool(tt.tool, tt.args)
			if ok != tt.wantOK {
				t.Errorf("runTool() ok = %v, want %v (%q)", ok, tt.wantOK, got)
			}
			if tt.wantOK && got != tt.want {
				t.Errorf("runTool() = %q, want %q", got, tt.want)
			}
			if got == "" {
				t.Error("Expected a result text even on failure")
			}
		})
	}
}

func TestGeminiChatSession_StreamFailureFallsBack(t *testing.T) {
	models := &fakeModels{streamErr: errors.New("quota")}
	s := newTestSession(t, models, nil)

	var got []string
	reply, err := s.SendMessageStream(context.Background(),
		repositories.ChatMessage{Role: repositories.UserRole, Content: "ham"},
		textOnly(func(chunk string) error {
			got = append(got, chunk)
			return nil
		}))
	if err != nil {
		t.Fatalf("Expected fallback instead of error, got %v", err)
	}
	if len(got) != 1 || got[0] != reply.Content || reply.Content == "" {
		t.Errorf("Expected the fallback as the only chunk, got %v / %+v", got, reply)
	}
}

func TestGeminiChatSession_StreamFailureMidway(t *testing.T) {
	models := &fakeModels{chunks: []string{"partial"}, streamErr: errors.New("reset")}
	s := newTestSession(t, models, nil)

	_, err := s.SendMessageStream(context.Background(),
		repositories.ChatMessage{Role: repositories.UserRole, Content: "ham"},
		textOnly(func(string) error { return nil }))
	if err == nil {
		t.Error("Expected an error when the stream breaks after emitting text")
	}
}

func TestGeminiChatSession_ChunkCallbackStops(t *testing.T) {
	models := &fakeModels{chunks: []string{"a", "b"}}
	s := newTestSession(t, models, nil)

	stop := errors.New("client gone")
	_, err := s.SendMessageStream(context.Background(),
		repositories.ChatMessage{Role: repositories.UserRole, Content: "ham"},
		textOnly(func(string) error { return stop }))
	if !errors.Is(err, stop) {
		t.Errorf("Expected callback error, got %v", err)
	}
}

func TestGeminiChatSession_SendMessage(t *testing.T) {
	models := &fakeModels{chunks: []string{"Swiss or cheddar?"}}
	s := newTestSession(t, models, nil)

	reply, err := s.SendMessage(context.Background(),
		repositories.ChatMessage{Role: repositories.UserRole, Content: "add cheese"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if reply.Content != "Swiss or cheddar?" {
		t.Errorf("Unexpected reply %q", reply.Content)
	}
}

func TestMockGeminiClient(t *testing.T) {
	session, err := NewMockGeminiClient().GenerateChat(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateChat failed: %v", err)
	}

	var chunks []string
	reply, err := session.SendMessageStream(context.Background(),
		repositories.ChatMessage{Role: repositories.UserRole, Content: "turkey"},
		textOnly(func(chunk string) error {
			chunks = append(chunks, chunk)
			return nil
		}))
	if err != nil {
		t.Fatalf("SendMessageStream failed: %v", err)
	}
	if strings.Join(chunks, "") != reply.Content {
		t.Errorf("Chunks %q do not add up to %q", chunks, reply.Content)
	}
	history, _ := session.History()
	if len(history) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(history))
	}
}

// Integration test - only runs if GEMINI_API_KEY is set
func TestGeminiLLM_Integration(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping integration test - set GEMINI_API_KEY environment variable")
	}

	ctx := context.Background()
	model, err := NewGeminiLLM(ctx, GeminiConfig{APIKey: apiKey}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create GeminiLLM: %v", err)
	}
	session, err := model.GenerateChat(ctx, nil)
	if err != nil {
		t.Fatalf("GenerateChat failed: %v", err)
	}
	reply, err := session.SendMessageStream(ctx,
		repositories.ChatMessage{Role: repositories.UserRole, Content: "I'd like a ham sandwich"},
		textOnly(func(string) error { return nil }))
	if err != nil || reply.Content == "" {
		t.Fatalf("Expected a reply, got %q / %v", reply.Content, err)
	}
}
