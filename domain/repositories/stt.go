package repositories

import (
	"context"

	"github.com/satriahrh/arunika/voicelink/internal/eventbuffer"
)

// StreamingSpeechToText abstracts streaming speech recognition services.
// Interim results arrive as stt_chunk events and final ones as stt_output.
type StreamingSpeechToText interface {
	// SendAudio forwards one raw audio frame
	SendAudio(ctx context.Context, audio []byte) error
	Events() *eventbuffer.Buffer
	// Close ends the recognition session
	Close(ctx context.Context) error
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}
