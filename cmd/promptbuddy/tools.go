package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/promptbuddy/pkg/config"
	"github.com/mihaimyh/promptbuddy/pkg/token"
)

// tokenCmd groups operator helpers for bearer tokens
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect bearer tokens",
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify a token against TOKEN_SECRET and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenVerify,
}

var subjectCmd = &cobra.Command{
	Use:   "subject <passphrase> [device]",
	Short: "Print the counter subject a passphrase (and device) maps to",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSubject,
}

func runTokenVerify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	codec, err := token.NewCodec(cfg.TokenSecret)
	if err != nil {
		return err
	}

	claims, err := codec.Verify(args[0])
	if err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "subject: %s\n", claims.Subject)
	fmt.Fprintf(out, "expires: %s\n", claims.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func runSubject(cmd *cobra.Command, args []string) error {
	device := ""
	if len(args) == 2 {
		device = args[1]
	}
	fmt.Fprintln(cmd.OutOrStdout(), token.DeriveSubject(args[0], device))
	return nil
}
