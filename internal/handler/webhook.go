package handler

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/phone-signin/internal/botflow"
	"github.com/iliyamo/phone-signin/internal/logging"
	"github.com/iliyamo/phone-signin/internal/telegram"
)

// SecretHeader carries the token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBody = 64 << 10

// EventHandler consumes decoded conversation events.
type EventHandler interface {
	Handle(ctx context.Context, ev botflow.Event) error
}

// WebhookHandler receives bot updates.
type WebhookHandler struct {
	Secret string // empty disables the header check
	Events EventHandler
	Log    *slog.Logger
}

func NewWebhookHandler(secret string, events EventHandler, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{Secret: secret, Events: events, Log: log}
}

// Telegram answers every accepted update with 200 so the Bot API does not
// redeliver it; problems are logged.
func (h *WebhookHandler) Telegram(c echo.Context) error {
	if h.Secret != "" {
		got := c.Request().Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "signature_invalid"})
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxUpdateBody))
	if err != nil {
		h.Log.Warn("bot.webhook.read_failed", "error", err)
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	}
	ev, err := telegram.DecodeUpdate(body)
	if err != nil {
		h.Log.Warn("bot.webhook.decode_failed", "error", err)
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 20*time.Second)
	defer cancel()
	if err := h.Events.Handle(ctx, ev); err != nil {
		logging.LogError(h.Log, "bot.webhook.handle_failed", err, "event", ev.Kind.String())
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}
