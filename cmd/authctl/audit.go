package main

import (
	"context"
	"errors"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/phone-signin/internal/queue"
)

// NewAuditCmd groups the login audit commands.
func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Login audit trail",
	}
	cmd.AddCommand(newAuditConsumeCmd())
	return cmd
}

func newAuditConsumeCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Append published login events to a log file",
		Long: `Consume the auth.login queue and append one line per login to
<dir>/login.log. Runs until interrupted, reconnecting when the broker drops.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AMQPURL == "" {
				return oops.Code("CONFIG_INVALID").Errorf("RABBITMQ_URL is required")
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			log.Info("audit.consume.start", "queue", queue.LoginQueueName, "dir", dir)
			err = queue.NewLoginConsumer(cfg.AMQPURL, dir, log).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "logs", "directory that receives login.log")
	return cmd
}
