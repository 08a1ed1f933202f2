package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voicelink/adapters/tts"
	"github.com/satriahrh/arunika/voicelink/domain"
	"github.com/satriahrh/arunika/voicelink/domain/repositories"
)

func newSpeakCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speak <text>...",
		Short: "Synthesize text with Cartesia and save the raw audio",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSpeak,
	}
	cmd.Flags().StringP("output", "o", "output.pcm", "file to write the raw audio to")
	cmd.Flags().Duration("timeout", 30*time.Second, "give up after this long")
	return cmd
}

func runSpeak(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	output, _ := cmd.Flags().GetString("output")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	synthesizer, err := tts.NewCartesiaTTS(cfg.TTS, logger)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	text := strings.Join(args, " ")
	if err := synthesizer.SendText(ctx, text); err != nil {
		synthesizer.Close(ctx)
		return fmt.Errorf("failed to send text: %w", err)
	}
	if err := synthesizer.Close(ctx); err != nil {
		logger.Warn("Synthesizer did not close cleanly", zap.Error(err))
	}

	chunks, total, err := saveAudio(ctx, synthesizer, file)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d bytes in %d chunks to %s\n", total, chunks, output)
	printPlaybackInstructions(cmd.OutOrStdout(), output, sampleRateOrDefault(cfg.TTS.SampleRate))
	return nil
}

// saveAudio drains the synthesizer's events into w until the buffer ends
func saveAudio(ctx context.Context, synthesizer repositories.StreamingTextToSpeech, w io.Writer) (chunks, total int, err error) {
	events := synthesizer.Events()
	for {
		event, err := events.Next(ctx)
		if errors.Is(err, io.EOF) {
			return chunks, total, nil
		}
		if err != nil {
			return chunks, total, fmt.Errorf("failed waiting for audio: %w", err)
		}
		if event.Kind != domain.EventKindTTSChunk {
			continue
		}

		audio, err := event.Audio()
		if err != nil {
			return chunks, total, fmt.Errorf("failed to decode audio chunk: %w", err)
		}
		n, err := w.Write(audio)
		if err != nil {
			return chunks, total, fmt.Errorf("failed to write audio chunk: %w", err)
		}
		chunks++
		total += n
	}
}

func sampleRateOrDefault(rate int) int {
	if rate <= 0 {
		return 24000
	}
	return rate
}

// printPlaybackInstructions lists the usual ways to play signed 16-bit mono PCM
func printPlaybackInstructions(w io.Writer, filename string, sampleRate int) {
	fmt.Fprintf(w, "  # Using SoX:\n")
	fmt.Fprintf(w, "  play -t raw -r %d -e signed -b 16 -c 1 %s\n\n", sampleRate, filename)

	fmt.Fprintf(w, "  # Using FFplay:\n")
	fmt.Fprintf(w, "  ffplay -f s16le -ar %d -ac 1 -nodisp -autoexit %s\n", sampleRate, filename)

	if runtime.GOOS == "linux" {
		fmt.Fprintf(w, "\n  # Using ALSA:\n")
		fmt.Fprintf(w, "  aplay -f S16_LE -r %d -c 1 %s\n", sampleRate, filename)
	}
}
