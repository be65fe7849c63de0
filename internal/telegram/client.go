// Package telegram talks to the Telegram Bot API: outbound notices for the
// bot conversation and decoding of inbound webhook updates.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/iliyamo/phone-signin/internal/botflow"
	"github.com/iliyamo/phone-signin/internal/config"
)

// Client calls Bot API methods with bounded retries on transient faults.
type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	maxRetries uint64
	baseDelay  time.Duration
	log        *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithRetries sets the retry budget and the first backoff delay.
func WithRetries(n uint64, base time.Duration) Option {
	return func(c *Client) { c.maxRetries, c.baseDelay = n, base }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func NewClient(cfg config.TelegramConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		token:      cfg.BotToken,
		http:       &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
		baseDelay:  200 * time.Millisecond,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type keyboardButton struct {
	Text           string `json:"text"`
	RequestContact bool   `json:"request_contact,omitempty"`
}

type replyMarkup struct {
	Keyboard        [][]keyboardButton `json:"keyboard,omitempty"`
	OneTimeKeyboard bool               `json:"one_time_keyboard,omitempty"`
	ResizeKeyboard  bool               `json:"resize_keyboard,omitempty"`
	RemoveKeyboard  bool               `json:"remove_keyboard,omitempty"`
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

func toMarkup(m *botflow.Markup) *replyMarkup {
	switch {
	case m == nil:
		return nil
	case m.RequestContact:
		text := m.ButtonText
		if text == "" {
			text = botflow.MsgShareButton
		}
		return &replyMarkup{
			Keyboard:        [][]keyboardButton{{{Text: text, RequestContact: true}}},
			OneTimeKeyboard: true,
			ResizeKeyboard:  true,
		}
	case m.RemoveKeyboard:
		return &replyMarkup{RemoveKeyboard: true}
	}
	return nil
}

// Notify sends text to chatRef, optionally with a reply keyboard.
func (c *Client) Notify(ctx context.Context, chatRef, text string, markup *botflow.Markup) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatRef, Text: text, ReplyMarkup: toMarkup(markup)})
}

type setWebhookRequest struct {
	URL            string   `json:"url"`
	SecretToken    string   `json:"secret_token,omitempty"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// SetWebhook registers url as the update endpoint, with the header secret
// Telegram will echo on every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	return c.call(ctx, "setWebhook", setWebhookRequest{URL: url, SecretToken: secret, AllowedUpdates: []string{"message"}})
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	if c.token == "" {
		return oops.Code("TELEGRAM_NO_TOKEN").Errorf("telegram bot token is not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return oops.Code("TELEGRAM_ENCODE").Wrap(err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	b := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return oops.Code("TELEGRAM_REQUEST").Wrap(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Warn("telegram.call.retry", "method", method, "error", err)
			return retry.RetryableError(oops.Code("TELEGRAM_TRANSPORT").With("method", method).Wrap(err))
		}
		defer func() { _ = resp.Body.Close() }()

		var out apiResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &out)

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.log.Warn("telegram.call.retry", "method", method, "status", resp.StatusCode)
			return retry.RetryableError(oops.Code("TELEGRAM_UNAVAILABLE").
				With("method", method, "status", resp.StatusCode).
				Errorf("telegram %s: %s", method, out.Description))
		}
		if resp.StatusCode != http.StatusOK || !out.OK {
			return oops.Code("TELEGRAM_REJECTED").
				With("method", method, "status", resp.StatusCode).
				Errorf("telegram %s: %s", method, out.Description)
		}
		return nil
	})
}
