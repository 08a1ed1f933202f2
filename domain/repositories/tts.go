package repositories

import (
	"context"

	"github.com/satriahrh/arunika/voicelink/internal/eventbuffer"
)

// StreamingTextToSpeech pushes text to a synthesis service and exposes the
// resulting audio as tts_chunk events
type StreamingTextToSpeech interface {
	SendText(ctx context.Context, text string) error
	Events() *eventbuffer.Buffer
	Close(ctx context.Context) error
}
