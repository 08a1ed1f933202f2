package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/arunika/voicelink/adapters/stt"
	"github.com/satriahrh/arunika/voicelink/domain"
	"github.com/satriahrh/arunika/voicelink/domain/repositories"
	"github.com/satriahrh/arunika/voicelink/internal/config"
)

const transcribeChunkSize = 3200 // 100ms of 16kHz pcm_s16le

func newTranscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <file.pcm>",
		Short: "Stream a raw audio file to the recognizer and print transcripts",
		Args:  cobra.ExactArgs(1),
		RunE:  runTranscribe,
	}
	cmd.Flags().String("provider", "", "cartesia or google (defaults to STT_PROVIDER)")
	cmd.Flags().Bool("interim", false, "also print interim transcripts")
	cmd.Flags().Duration("pace", 0, "sleep between chunks to mimic a live microphone")
	cmd.Flags().Duration("timeout", time.Minute, "give up after this long")
	return cmd
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	provider, _ := cmd.Flags().GetString("provider")
	if provider == "" {
		provider = cfg.STTProvider
	}
	interim, _ := cmd.Flags().GetBool("interim")
	pace, _ := cmd.Flags().GetDuration("pace")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	var recognizer repositories.StreamingSpeechToText
	switch provider {
	case config.STTProviderGoogle:
		recognizer, err = stt.NewGoogleSpeechToText(cfg.Google, logger)
	case config.STTProviderCartesia:
		recognizer, err = stt.NewCartesiaSTT(cfg.STT, logger)
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	if err != nil {
		return fmt.Errorf("failed to create recognizer: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer recognizer.Close(ctx)
		return streamFile(gctx, recognizer, file, pace)
	})

	g.Go(func() error {
		events := recognizer.Events()
		for {
			event, err := events.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			switch event.Kind {
			case domain.EventKindSTTOutput:
				fmt.Fprintln(out, event.Payload)
			case domain.EventKindSTTChunk:
				if interim {
					fmt.Fprintf(out, "... %s\n", event.Payload)
				}
			}
		}
	})

	return g.Wait()
}

// streamFile sends r to the recognizer in fixed-size chunks
func streamFile(ctx context.Context, recognizer repositories.StreamingSpeechToText, r io.Reader, pace time.Duration) error {
	buf := make([]byte, transcribeChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := recognizer.SendAudio(ctx, chunk); sendErr != nil {
				return fmt.Errorf("failed to send audio: %w", sendErr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read audio file: %w", err)
		}

		if pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pace):
			}
		}
	}
}
