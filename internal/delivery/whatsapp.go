// Package delivery transmits one-time codes to phones.
package delivery

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

	"github.com/iliyamo/phone-signin/internal/config"
	"github.com/iliyamo/phone-signin/internal/logging"
)

// WhatsApp sends codes as an approved authentication template through the
// WhatsApp Cloud API.
type WhatsApp struct {
	cfg        config.WhatsAppConfig
	http       *http.Client
	maxRetries uint64
	baseDelay  time.Duration
	log        *slog.Logger
}

// Option customizes a WhatsApp sender.
type Option func(*WhatsApp)

func WithHTTPClient(hc *http.Client) Option { return func(w *WhatsApp) { w.http = hc } }

func WithRetries(n uint64, base time.Duration) Option {
	return func(w *WhatsApp) { w.maxRetries, w.baseDelay = n, base }
}

func WithLogger(l *slog.Logger) Option { return func(w *WhatsApp) { w.log = l } }

func NewWhatsApp(cfg config.WhatsAppConfig, opts ...Option) *WhatsApp {
	w := &WhatsApp{
		cfg:        cfg,
		http:       &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
		baseDelay:  250 * time.Millisecond,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Transport is the metrics label for this sender.
func (w *WhatsApp) Transport() string { return "whatsapp" }

type templateParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string          `json:"type"`
	Parameters []templateParam `json:"parameters"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type template struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components"`
}

type messageRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Template         template `json:"template"`
}

// Send delivers code to phone. Every failure, including exhausted retries,
// is logged and reported as false.
func (w *WhatsApp) Send(ctx context.Context, phone, code string) bool {
	if err := w.send(ctx, phone, code); err != nil {
		logging.LogError(w.log, "delivery.whatsapp.send_failed", err, "phone", MaskPhone(phone))
		return false
	}
	return true
}

func (w *WhatsApp) send(ctx context.Context, phone, code string) error {
	if !w.cfg.Configured() {
		return oops.Code("WHATSAPP_NOT_CONFIGURED").Errorf("whatsapp cloud api is not configured")
	}
	body, err := json.Marshal(messageRequest{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "template",
		Template: template{
			Name:     w.cfg.TemplateName,
			Language: templateLanguage{Code: w.cfg.TemplateLang},
			Components: []templateComponent{{
				Type:       "body",
				Parameters: []templateParam{{Type: "text", Text: code}},
			}},
		},
	})
	if err != nil {
		return oops.Code("WHATSAPP_ENCODE").Wrap(err)
	}
	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(w.cfg.APIURL, "/"), w.cfg.PhoneNumberID)

	b := retry.WithMaxRetries(w.maxRetries, retry.NewExponential(w.baseDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return oops.Code("WHATSAPP_REQUEST").Wrap(err)
		}
		req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.http.Do(req)
		if err != nil {
			return retry.RetryableError(oops.Code("WHATSAPP_TRANSPORT").Wrap(err))
		}
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			w.log.Warn("delivery.whatsapp.retry", "status", resp.StatusCode)
			return retry.RetryableError(oops.Code("WHATSAPP_UNAVAILABLE").
				With("status", resp.StatusCode).
				Errorf("whatsapp: %s", strings.TrimSpace(string(raw))))
		default:
			return oops.Code("WHATSAPP_REJECTED").
				With("status", resp.StatusCode).
				Errorf("whatsapp: %s", strings.TrimSpace(string(raw)))
		}
	})
}

// MaskPhone keeps the country prefix and the last two digits.
func MaskPhone(phone string) string {
	if len(phone) <= 6 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:4] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-2:]
}
