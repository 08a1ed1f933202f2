package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/satriahrh/arunika/voicelink/internal/auth"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <device-id>",
		Short: "Issue a device token for the /ws endpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")

	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret, ttl)
	if err != nil {
		return fmt.Errorf("AUTH_JWT_SECRET must be set: %w", err)
	}

	token, expiresAt, err := issuer.GenerateDeviceToken(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
