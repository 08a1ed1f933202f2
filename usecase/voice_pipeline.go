package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/arunika/voicelink/domain"
	"github.com/satriahrh/arunika/voicelink/domain/repositories"
	"github.com/satriahrh/arunika/voicelink/internal/eventbuffer"
)

const (
	stageBuffer  = 16
	closeTimeout = 5 * time.Second
)

// RecognizerFactory creates a fresh recognizer for one pipeline run
type RecognizerFactory func() (repositories.StreamingSpeechToText, error)

// SynthesizerFactory creates a fresh synthesizer for one pipeline run
type SynthesizerFactory func() (repositories.StreamingTextToSpeech, error)

// VoicePipeline wires speech recognition, the dialogue agent and speech
// synthesis into one event stream per caller
type VoicePipeline struct {
	newRecognizer  RecognizerFactory
	newSynthesizer SynthesizerFactory
	chat           *ChatService
	logger         *zap.Logger
}

// NewVoicePipeline creates a new voice pipeline
func NewVoicePipeline(newRecognizer RecognizerFactory, newSynthesizer SynthesizerFactory, chat *ChatService, logger *zap.Logger) *VoicePipeline {
	return &VoicePipeline{
		newRecognizer:  newRecognizer,
		newSynthesizer: newSynthesizer,
		chat:           chat,
		logger:         logger,
	}
}

// Run feeds audio through the pipeline until audio is closed and every
// stage has drained, or until ctx is done or emit fails. Events from all
// stages are passed to emit one at a time.
func (p *VoicePipeline) Run(ctx context.Context, audio <-chan []byte, emit func(domain.Event) error) error {
	sessionID := uuid.NewString()
	logger := p.logger.With(zap.String("sessionID", sessionID))

	recognizer, err := p.newRecognizer()
	if err != nil {
		return fmt.Errorf("failed to create recognizer: %w", err)
	}
	synthesizer, err := p.newSynthesizer()
	if err != nil {
		closeQuietly(logger, "recognizer", recognizer.Close)
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}
	// Both clients close idempotently; this only matters on early exit.
	defer closeQuietly(logger, "recognizer", recognizer.Close)
	defer closeQuietly(logger, "synthesizer", synthesizer.Close)

	var emitMu sync.Mutex
	serialEmit := func(event domain.Event) error {
		emitMu.Lock()
		defer emitMu.Unlock()
		return emit(event)
	}

	transcripts := make(chan string, stageBuffer)
	replies := make(chan string, stageBuffer)

	logger.Info("Voice pipeline started")
	g, ctx := errgroup.WithContext(ctx)

	// audio -> recognizer
	g.Go(func() error {
		defer recognizer.Close(ctx)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case chunk, ok := <-audio:
				if !ok {
					logger.Debug("Audio input ended")
					return nil
				}
				if err := recognizer.SendAudio(ctx, chunk); err != nil {
					return fmt.Errorf("failed to forward audio: %w", err)
				}
			}
		}
	})

	// recognizer events -> client, final transcripts -> agent
	g.Go(func() error {
		defer close(transcripts)
		return relay(ctx, recognizer.Events(), func(event domain.Event) error {
			if err := serialEmit(event); err != nil {
				return err
			}
			if event.Kind != domain.EventKindSTTOutput || strings.TrimSpace(event.Payload) == "" {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case transcripts <- event.Payload:
				return nil
			}
		})
	})

	// transcripts -> agent replies
	g.Go(func() error {
		defer close(replies)
		return p.chat.Execute(ctx, sessionID, transcripts, serialEmit, replies)
	})

	// agent replies -> synthesizer
	g.Go(func() error {
		defer synthesizer.Close(ctx)
		for reply := range replies {
			if err := synthesizer.SendText(ctx, reply); err != nil {
				return fmt.Errorf("failed to synthesize reply: %w", err)
			}
		}
		return nil
	})

	// synthesizer events -> client
	g.Go(func() error {
		return relay(ctx, synthesizer.Events(), serialEmit)
	})

	err = g.Wait()
	logger.Info("Voice pipeline finished", zap.Error(err))
	return err
}

// relay hands every buffered event to fn until the buffer is drained
func relay(ctx context.Context, events *eventbuffer.Buffer, fn func(domain.Event) error) error {
	for {
		event, err := events.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

func closeQuietly(logger *zap.Logger, name string, closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := closeFn(ctx); err != nil {
		logger.Debug("Close failed", zap.String("client", name), zap.Error(err))
	}
}
