package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voicelink/domain"
	"github.com/satriahrh/arunika/voicelink/domain/repositories"
	"github.com/satriahrh/arunika/voicelink/internal/eventbuffer"
)

const (
	defaultGoogleLanguage = "en-US"
	defaultGoogleEncoding = "LINEAR16"
)

// recognizeStream is the part of speechpb.Speech_StreamingRecognizeClient we use
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// streamOpener opens a recognize stream and returns a func releasing the client
type streamOpener func(ctx context.Context) (recognizeStream, func() error, error)

// GoogleConfig holds configuration for the Google Cloud recognizer
type GoogleConfig struct {
	Audio repositories.AudioConfig
}

// GoogleSpeechToText streams audio to Google Cloud Speech-to-Text
type GoogleSpeechToText struct {
	audio    repositories.AudioConfig
	encoding speechpb.RecognitionConfig_AudioEncoding
	open     streamOpener

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sendMu   sync.Mutex // gRPC streams allow one sender at a time
	stream   recognizeStream
	release  func() error
	recvDone chan struct{}

	events    *eventbuffer.Buffer
	logger    *zap.Logger
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Ensure GoogleSpeechToText implements the StreamingSpeechToText interface
var _ repositories.StreamingSpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a recognizer backed by Google Cloud.
// Credentials come from the usual application default lookup.
func NewGoogleSpeechToText(config GoogleConfig, logger *zap.Logger) (*GoogleSpeechToText, error) {
	return newGoogleSpeechToText(config, openGoogleStream, logger)
}

func newGoogleSpeechToText(config GoogleConfig, open streamOpener, logger *zap.Logger) (*GoogleSpeechToText, error) {
	audio := config.Audio
	if audio.Encoding == "" {
		audio.Encoding = defaultGoogleEncoding
	}
	if audio.SampleRate == 0 {
		audio.SampleRate = defaultSampleRate
	}
	if audio.Language == "" {
		audio.Language = defaultGoogleLanguage
	}

	encoding, err := getAudioEncoding(audio.Encoding)
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("component", "google_stt"))
	logger.Info("Google STT configured",
		zap.String("encoding", audio.Encoding),
		zap.Int("sampleRate", audio.SampleRate),
		zap.String("language", audio.Language))

	ctx, cancel := context.WithCancel(context.Background())
	return &GoogleSpeechToText{
		audio:    audio,
		encoding: encoding,
		open:     open,
		ctx:      ctx,
		cancel:   cancel,
		events:   eventbuffer.New(),
		logger:   logger,
	}, nil
}

func openGoogleStream(ctx context.Context) (recognizeStream, func() error, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}
	return stream, client.Close, nil
}

// getStream opens the recognize stream on first use. Callers racing here
// share the one stream.
func (g *GoogleSpeechToText) getStream() (recognizeStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stream != nil {
		return g.stream, nil
	}

	stream, release, err := g.open(g.ctx)
	if err != nil {
		return nil, err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        g.encoding,
					SampleRateHertz: int32(g.audio.SampleRate),
					LanguageCode:    g.audio.Language,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		release()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	g.stream = stream
	g.release = release
	g.recvDone = make(chan struct{})
	go g.receiveResults(stream, g.recvDone)

	g.logger.Info("Google STT stream opened")
	return stream, nil
}

// SendAudio forwards one audio chunk, opening the stream first if needed
func (g *GoogleSpeechToText) SendAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	if g.closing.Load() {
		g.logger.Warn("Ignoring audio sent while closing", zap.Int("audioSize", len(audio)))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stream, err := g.getStream()
	if err != nil {
		return fmt.Errorf("failed to open Google STT stream: %w", err)
	}

	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Events returns the buffer of stt_chunk and stt_output events
func (g *GoogleSpeechToText) Events() *eventbuffer.Buffer {
	return g.events
}

// Close half-closes the stream, waits for the remaining results and
// releases the client.
func (g *GoogleSpeechToText) Close(ctx context.Context) error {
	g.closeOnce.Do(func() {
		g.closing.Store(true)
		defer g.events.Close()
		defer g.cancel()

		g.mu.Lock()
		stream, release, recvDone := g.stream, g.release, g.recvDone
		g.mu.Unlock()

		if stream == nil {
			return
		}

		g.sendMu.Lock()
		err := stream.CloseSend()
		g.sendMu.Unlock()
		if err != nil {
			g.logger.Warn("Failed to close send stream", zap.Error(err))
		}

		select {
		case <-recvDone:
		case <-ctx.Done():
			g.logger.Warn("Gave up waiting for final results", zap.Error(ctx.Err()))
		}

		g.closeErr = release()
		g.logger.Info("Google STT closed")
	})
	return g.closeErr
}

func (g *GoogleSpeechToText) receiveResults(stream recognizeStream, done chan struct{}) {
	defer close(done)
	defer g.events.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			g.logger.Debug("Google STT stream ended")
			return
		}
		if err != nil {
			if g.closing.Load() || g.ctx.Err() != nil {
				g.logger.Debug("Google STT stream stopped", zap.Error(err))
			} else {
				g.logger.Error("Failed to receive response", zap.Error(err))
			}
			return
		}

		for _, result := range resp.GetResults() {
			if len(result.GetAlternatives()) == 0 {
				continue
			}
			transcript := result.GetAlternatives()[0].GetTranscript()
			if result.GetIsFinal() {
				g.events.Push(domain.NewSTTOutputEvent(transcript))
			} else {
				g.events.Push(domain.NewSTTChunkEvent(transcript))
			}
		}
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16", "pcm_s16le":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW", "pcm_mulaw":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
