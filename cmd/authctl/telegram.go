package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/phone-signin/internal/telegram"
)

// NewTelegramCmd groups the bot registration commands.
func NewTelegramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Bot registration",
	}
	cmd.AddCommand(newSetWebhookCmd())
	return cmd
}

func newSetWebhookCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "set-webhook",
		Short: "Point the bot at this service's webhook",
		Long: `Register --url (normally https://<host>/v1/tg/webhook) with the Bot API.
TG_WEBHOOK_SECRET, when set, is registered as the secret header value.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				return oops.Code("INVALID_ARGS").Errorf("--url is required")
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Telegram.BotToken == "" {
				return oops.Code("CONFIG_INVALID").Errorf("TG_BOT_TOKEN is required")
			}
			client := telegram.NewClient(cfg.Telegram, telegram.WithLogger(log))
			if err := client.SetWebhook(cmd.Context(), url, cfg.Telegram.WebhookSecret); err != nil {
				return err
			}
			cmd.Println("Webhook registered")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "public webhook URL")
	return cmd
}
