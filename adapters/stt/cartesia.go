package stt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
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
	defaultAPIBaseURL = "wss://api.cartesia.ai/stt/websocket"
	defaultModelID    = "ink-whisper"
	defaultLanguage   = "en"
	defaultEncoding   = "pcm_s16le"
	defaultSampleRate = 16000
	defaultVersion    = "2025-04-16"

	versionHeader = "Cartesia-Version"
)

// ErrMissingAPIKey is returned when no Cartesia credential is configured
var ErrMissingAPIKey = errors.New("cartesia API key is required")

// CartesiaConfig holds configuration for the CartesiaSTT adapter.
// Session parameters are fixed for the lifetime of the socket.
type CartesiaConfig struct {
	APIKey         string        // Required: Cartesia API key
	APIBaseURL     string        // Optional: websocket endpoint
	ModelID        string        // Optional: e.g. "ink-whisper"
	Language       string        // Optional: e.g. "en"
	Encoding       string        // Optional: e.g. "pcm_s16le"
	SampleRate     int           // Optional: input sample rate in Hz
	Version        string        // Optional: Cartesia-Version header value
	ConnectTimeout time.Duration // Optional: bound for establishing the socket
	TLSConfig      *tls.Config   // Optional: extra trust roots
}

// CartesiaSTT streams raw audio to Cartesia and emits transcript events
type CartesiaSTT struct {
	apiKey     string
	apiBaseURL string
	modelID    string
	language   string
	encoding   string
	sampleRate int
	version    string

	connector *wsconn.Connector
	events    *eventbuffer.Buffer
	logger    *zap.Logger

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Ensure CartesiaSTT implements the StreamingSpeechToText interface
var _ repositories.StreamingSpeechToText = (*CartesiaSTT)(nil)

// transcriptionMessage is any inbound frame, discriminated by Type
type transcriptionMessage struct {
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	IsFinal   bool    `json:"is_final,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Language  string  `json:"language,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// doneMessage tells the vendor no more audio will follow
var doneMessage = []byte(`{"type":"done"}`)

// ValidateCartesiaConfig validates the CartesiaConfig
func ValidateCartesiaConfig(config CartesiaConfig) error {
	if config.APIKey == "" {
		return ErrMissingAPIKey
	}
	if config.SampleRate < 0 {
		return fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	return nil
}

// NewCartesiaSTT creates a new Cartesia STT client. The socket is opened on
// the first SendAudio.
func NewCartesiaSTT(config CartesiaConfig, logger *zap.Logger) (*CartesiaSTT, error) {
	if err := ValidateCartesiaConfig(config); err != nil {
		return nil, err
	}

	s := &CartesiaSTT{
		apiKey:     config.APIKey,
		apiBaseURL: orDefault(config.APIBaseURL, defaultAPIBaseURL),
		modelID:    orDefault(config.ModelID, defaultModelID),
		language:   orDefault(config.Language, defaultLanguage),
		encoding:   orDefault(config.Encoding, defaultEncoding),
		sampleRate: config.SampleRate,
		version:    orDefault(config.Version, defaultVersion),
		events:     eventbuffer.New(),
		logger:     logger.With(zap.String("component", "cartesia_stt")),
	}
	if s.sampleRate == 0 {
		s.sampleRate = defaultSampleRate
	}

	s.logger.Info("Cartesia STT configured",
		zap.String("modelID", s.modelID),
		zap.String("language", s.language),
		zap.String("encoding", s.encoding),
		zap.Int("sampleRate", s.sampleRate))

	header := http.Header{}
	header.Set(versionHeader, s.version)

	s.connector = wsconn.New(wsconn.Config{
		URL:            s.connectURL,
		Header:         header,
		TLSConfig:      config.TLSConfig,
		ConnectTimeout: config.ConnectTimeout,
		OnOpen: func(conn *websocket.Conn) {
			go s.readLoop(conn)
		},
	}, s.logger)

	return s, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (s *CartesiaSTT) connectURL() string {
	q := url.Values{}
	q.Set("api_key", s.apiKey)
	q.Set("model", s.modelID)
	q.Set("language", s.language)
	q.Set("encoding", s.encoding)
	q.Set("sample_rate", strconv.Itoa(s.sampleRate))
	return s.apiBaseURL + "?" + q.Encode()
}

// SendAudio writes one raw audio frame, connecting first if needed
func (s *CartesiaSTT) SendAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	if s.closing.Load() {
		s.logger.Warn("Ignoring audio sent while closing", zap.Int("audioSize", len(audio)))
		return nil
	}

	conn, err := s.connector.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Cartesia STT: %w", err)
	}

	if err := s.connector.WriteMessage(conn, websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Events returns the buffer of stt_chunk and stt_output events
func (s *CartesiaSTT) Events() *eventbuffer.Buffer {
	return s.events
}

// Close ends the session: it waits for a pending connect, tells the vendor no
// more audio is coming, closes the socket and ends the event stream.
func (s *CartesiaSTT) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		defer s.events.Close()

		if !s.connector.Requested() {
			return
		}

		conn, err := s.connector.Await(ctx)
		if err != nil || conn == nil {
			s.logger.Debug("No connection to close", zap.Error(err))
			return
		}

		if err := s.connector.WriteMessage(conn, websocket.TextMessage, doneMessage); err != nil {
			s.logger.Warn("Failed to send done message", zap.Error(err))
		}
		s.closeErr = s.connector.CloseConn(conn)
		s.logger.Info("Cartesia STT closed")
	})
	return s.closeErr
}

// readLoop converts inbound frames to events until the socket goes away
func (s *CartesiaSTT) readLoop(conn *websocket.Conn) {
	defer func() {
		s.connector.Clear(conn)
		if s.closing.Load() {
			s.events.Close()
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !s.closing.Load() {
				s.logger.Error("Cartesia STT connection lost", zap.Error(err))
			} else {
				s.logger.Debug("Cartesia STT connection closed", zap.Error(err))
			}
			return
		}

		if err := s.handleMessage(message); err != nil {
			// Vendor errors end the session: the stream is cancelled and the
			// socket torn down so the next SendAudio starts over.
			s.logger.Error("Cartesia STT session failed", zap.Error(err))
			s.events.Close()
			s.connector.CloseConn(conn)
			return
		}
	}
}

// handleMessage pushes transcript events. It returns an error only for
// vendor-reported failures.
func (s *CartesiaSTT) handleMessage(message []byte) error {
	var msg transcriptionMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Warn("Failed to parse Cartesia STT message", zap.Error(err))
		return nil
	}

	switch msg.Type {
	case "transcript":
		if msg.IsFinal {
			s.logger.Debug("Final transcript",
				zap.String("text", msg.Text),
				zap.String("requestID", msg.RequestID),
				zap.Float64("duration", msg.Duration))
			s.events.Push(domain.NewSTTOutputEvent(msg.Text))
		} else {
			s.events.Push(domain.NewSTTChunkEvent(msg.Text))
		}
	case "error":
		return fmt.Errorf("cartesia STT error: %s (request %s)", msg.Error, msg.RequestID)
	case "done":
		s.logger.Debug("Cartesia STT session finished")
		s.events.Close()
	default:
		s.logger.Debug("Ignoring Cartesia STT message", zap.String("type", msg.Type))
	}
	return nil
}
