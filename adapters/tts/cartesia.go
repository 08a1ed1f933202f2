package tts

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voicelink/domain"
	"github.com/satriahrh/arunika/voicelink/domain/repositories"
	"github.com/satriahrh/arunika/voicelink/internal/eventbuffer"
	"github.com/satriahrh/arunika/voicelink/internal/wsconn"
)

const (
	defaultAPIBaseURL       = "wss://api.cartesia.ai/tts/websocket"
	defaultVoiceID          = "f6ff7c0c-e396-40a9-a70b-f7607edb6937"
	defaultModelID          = "sonic-3"
	defaultSampleRate       = 24000
	defaultEncoding         = "pcm_s16le"
	defaultLanguage         = "en"
	defaultVersion          = "2025-04-16"
	defaultCloseGracePeriod = 500 * time.Millisecond
)

// ErrMissingAPIKey is returned when no Cartesia credential is configured
var ErrMissingAPIKey = errors.New("cartesia API key is required")

// CartesiaConfig holds configuration for the CartesiaTTS adapter.
// Only APIKey is required; every other field falls back to a default.
type CartesiaConfig struct {
	APIKey           string        // Required: Cartesia API key
	APIBaseURL       string        // Optional: websocket endpoint
	VoiceID          string        // Optional: voice to synthesize with
	ModelID          string        // Optional: e.g. "sonic-3"
	SampleRate       int           // Optional: output sample rate in Hz
	Encoding         string        // Optional: raw output encoding, e.g. "pcm_s16le"
	Language         string        // Optional: e.g. "en"
	Version          string        // Optional: cartesia_version protocol date
	CloseGracePeriod time.Duration // Optional: wait for trailing audio on Close
	ConnectTimeout   time.Duration // Optional: bound for establishing the socket
	TLSConfig        *tls.Config   // Optional: extra trust roots
}

// CartesiaTTS streams text to Cartesia over one websocket and emits the
// returned audio as tts_chunk events
type CartesiaTTS struct {
	apiKey           string
	apiBaseURL       string
	voiceID          string
	modelID          string
	sampleRate       int
	encoding         string
	language         string
	version          string
	closeGracePeriod time.Duration

	connector *wsconn.Connector
	events    *eventbuffer.Buffer
	logger    *zap.Logger

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	pendingMu sync.Mutex
	pending   int
}

// Ensure CartesiaTTS implements the StreamingTextToSpeech interface
var _ repositories.StreamingTextToSpeech = (*CartesiaTTS)(nil)

// synthesisRequest is one outbound generation request
type synthesisRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceSpec    `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language"`
	ContextID    string       `json:"context_id"`
}

type voiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// synthesisMessage is any inbound frame; at most one of its fields matters
type synthesisMessage struct {
	Type      string `json:"type,omitempty"`
	ContextID string `json:"context_id,omitempty"`
	Data      string `json:"data,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ValidateCartesiaConfig validates the CartesiaConfig
func ValidateCartesiaConfig(config CartesiaConfig) error {
	if config.APIKey == "" {
		return ErrMissingAPIKey
	}
	if config.SampleRate < 0 {
		return fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.CloseGracePeriod < 0 {
		return fmt.Errorf("close grace period must not be negative, got %s", config.CloseGracePeriod)
	}
	return nil
}

// NewCartesiaTTS creates a new Cartesia TTS client. No connection is made
// until the first SendText.
func NewCartesiaTTS(config CartesiaConfig, logger *zap.Logger) (*CartesiaTTS, error) {
	if err := ValidateCartesiaConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", apiBaseURL))
	}

	voiceID := config.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
		logger.Info("Using default voice ID", zap.String("voiceID", voiceID))
	}

	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
		logger.Info("Using default model ID", zap.String("modelID", modelID))
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
		logger.Info("Using default sample rate", zap.Int("sampleRate", sampleRate))
	}

	encoding := config.Encoding
	if encoding == "" {
		encoding = defaultEncoding
		logger.Info("Using default encoding", zap.String("encoding", encoding))
	}

	language := config.Language
	if language == "" {
		language = defaultLanguage
		logger.Info("Using default language", zap.String("language", language))
	}

	version := config.Version
	if version == "" {
		version = defaultVersion
		logger.Info("Using default protocol version", zap.String("version", version))
	}

	closeGracePeriod := config.CloseGracePeriod
	if closeGracePeriod == 0 {
		closeGracePeriod = defaultCloseGracePeriod
	}

	t := &CartesiaTTS{
		apiKey:           config.APIKey,
		apiBaseURL:       apiBaseURL,
		voiceID:          voiceID,
		modelID:          modelID,
		sampleRate:       sampleRate,
		encoding:         encoding,
		language:         language,
		version:          version,
		closeGracePeriod: closeGracePeriod,
		events:           eventbuffer.New(),
		logger:           logger.With(zap.String("component", "cartesia_tts")),
	}

	t.connector = wsconn.New(wsconn.Config{
		URL:            t.connectURL,
		TLSConfig:      config.TLSConfig,
		ConnectTimeout: config.ConnectTimeout,
		OnOpen: func(conn *websocket.Conn) {
			go t.readLoop(conn)
		},
	}, t.logger)

	return t, nil
}

func (t *CartesiaTTS) connectURL() string {
	q := url.Values{}
	q.Set("api_key", t.apiKey)
	q.Set("cartesia_version", t.version)
	return t.apiBaseURL + "?" + q.Encode()
}

// SendText queues text for synthesis. Blank text and calls made after Close
// are ignored without error.
func (t *CartesiaTTS) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if t.closing.Load() {
		t.logger.Warn("Ignoring text sent while closing", zap.Int("textLength", len(text)))
		return nil
	}

	conn, err := t.connector.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Cartesia TTS: %w", err)
	}
	if t.closing.Load() {
		// Close may have run before this socket existed; it must not outlive the client.
		t.logger.Warn("Client closed while connecting, dropping text", zap.Int("textLength", len(text)))
		if err := t.connector.CloseConn(conn); err != nil {
			t.logger.Debug("Failed to close late connection", zap.Error(err))
		}
		return nil
	}

	request := synthesisRequest{
		ModelID:    t.modelID,
		Transcript: text,
		Voice:      voiceSpec{Mode: "id", ID: t.voiceID},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   t.encoding,
			SampleRate: t.sampleRate,
		},
		Language:  t.language,
		ContextID: NewContextID(),
	}

	t.adjustPending(1)
	if err := t.connector.WriteJSON(conn, request); err != nil {
		t.adjustPending(-1)
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	t.logger.Debug("Sent synthesis request",
		zap.String("contextID", request.ContextID),
		zap.Int("textLength", len(text)))
	return nil
}

// Events returns the buffer of tts_chunk events
func (t *CartesiaTTS) Events() *eventbuffer.Buffer {
	return t.events
}

// PendingRequests returns the number of requests sent but not yet completed
func (t *CartesiaTTS) PendingRequests() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return t.pending
}

// adjustPending moves the in-flight counter, never below zero
func (t *CartesiaTTS) adjustPending(delta int) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	t.pending += delta
	if t.pending < 0 {
		t.pending = 0
	}
}

// Close stops accepting text, waits the grace period if requests are still
// in flight (or until ctx is done), then closes the socket and the event buffer.
func (t *CartesiaTTS) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.closing.Store(true)

		if pending := t.PendingRequests(); pending > 0 {
			t.logger.Info("Waiting for trailing audio before close",
				zap.Int("pendingRequests", pending),
				zap.Duration("gracePeriod", t.closeGracePeriod))

			timer := time.NewTimer(t.closeGracePeriod)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				t.logger.Warn("Close grace period cut short", zap.Error(ctx.Err()))
			}
		}

		conn := t.connector.Current()
		if conn == nil && t.connector.Requested() {
			// A dial still in flight would otherwise open a socket nobody closes.
			conn, _ = t.connector.Await(ctx)
		}
		t.closeErr = t.connector.CloseConn(conn)
		t.events.Close()
		t.logger.Info("Cartesia TTS closed")
	})
	return t.closeErr
}

// readLoop converts inbound frames to events until the socket goes away
func (t *CartesiaTTS) readLoop(conn *websocket.Conn) {
	defer func() {
		t.connector.Clear(conn)
		if t.closing.Load() {
			t.events.Close()
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !t.closing.Load() {
				t.logger.Error("Cartesia TTS connection lost", zap.Error(err))
			} else {
				t.logger.Debug("Cartesia TTS connection closed", zap.Error(err))
			}
			return
		}
		t.handleMessage(message)
	}
}

func (t *CartesiaTTS) handleMessage(message []byte) {
	var msg synthesisMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		t.logger.Warn("Failed to parse Cartesia TTS message", zap.Error(err))
		return
	}

	if msg.Data != "" {
		t.events.Push(domain.NewTTSChunkEvent(msg.Data))
	}
	if msg.Done {
		t.adjustPending(-1)
	}
	if msg.Error != "" {
		t.logger.Warn("Cartesia TTS reported an error",
			zap.String("error", msg.Error),
			zap.String("contextID", msg.ContextID))
	}
}
