package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/phone-signin/internal/config"
	"github.com/iliyamo/phone-signin/internal/logging"
)

// NewRootCmd creates the root command for the authctl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authctl",
		Short: "Operations tooling for the phone sign-in service",
		Long: `authctl runs one-off maintenance against the sign-in service's
database, rate-limit buckets, audit queue and bot registration. It reads the
same environment (and .env file) as the server.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewRateLimitCmd())
	cmd.AddCommand(NewAuditCmd())
	cmd.AddCommand(NewExpireStaleCmd())
	cmd.AddCommand(NewTelegramCmd())

	return cmd
}

// loadConfig reads the service configuration and installs the logger.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, logging.SetDefault(cfg.LogLevel, cfg.LogFormat), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
