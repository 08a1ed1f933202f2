package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voicelink/internal/config"
	"github.com/satriahrh/arunika/voicelink/internal/wsconn"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "voicectl",
		Short:         "Talk to the speech providers from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().Bool("verbose", false, "log adapter activity to stderr")

	cmd.AddCommand(newSpeakCommand())
	cmd.AddCommand(newTranscribeCommand())
	cmd.AddCommand(newTokenCommand())
	return cmd
}

// loadEnvironment reads config the same way the server does and builds a
// logger honouring --verbose
func loadEnvironment(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfg := config.Load()

	logger := zap.NewNop()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return cfg, nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	cfg.SetTLSConfig(wsconn.LoadTLSConfig(cfg.ExtraCACertPath, logger))
	return cfg, logger, nil
}
