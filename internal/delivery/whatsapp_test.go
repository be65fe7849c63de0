package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/phone-signin/internal/config"
)

func testConfig(url string) config.WhatsAppConfig {
	return config.WhatsAppConfig{
		AccessToken:   "wa-token",
		PhoneNumberID: "1055",
		TemplateName:  "auth_otp",
		TemplateLang:  "ru",
		APIURL:        url,
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWhatsApp_SendsTemplate(t *testing.T) {
	var got messageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1055/messages", r.URL.Path)
		assert.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"messages":[{"id":"wamid.1"}]}`)
	}))
	defer srv.Close()

	wa := NewWhatsApp(testConfig(srv.URL), WithHTTPClient(srv.Client()), WithLogger(quiet()))
	assert.True(t, wa.Send(context.Background(), "+971500000000", "012345"))

	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "+971500000000", got.To)
	assert.Equal(t, "template", got.Type)
	assert.Equal(t, "auth_otp", got.Template.Name)
	assert.Equal(t, "ru", got.Template.Language.Code)
	require.Len(t, got.Template.Components, 1)
	assert.Equal(t, "012345", got.Template.Components[0].Parameters[0].Text)
}

func TestWhatsApp_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wa := NewWhatsApp(testConfig(srv.URL), WithHTTPClient(srv.Client()), WithRetries(2, time.Millisecond), WithLogger(quiet()))
	assert.True(t, wa.Send(context.Background(), "+971500000000", "123456"))
	assert.EqualValues(t, 2, calls.Load())
}

func TestWhatsApp_FailuresResolveToFalse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid parameter"}}`)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	wa := NewWhatsApp(testConfig(srv.URL), WithHTTPClient(srv.Client()), WithRetries(2, time.Millisecond),
		WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	assert.False(t, wa.Send(context.Background(), "+971500000000", "123456"))
	assert.EqualValues(t, 1, calls.Load())
	assert.Contains(t, logs.String(), "WHATSAPP_REJECTED")
	assert.NotContains(t, logs.String(), "123456")

	unconfigured := NewWhatsApp(config.WhatsAppConfig{}, WithLogger(quiet()))
	assert.False(t, unconfigured.Send(context.Background(), "+971500000000", "123456"))
}

func TestWhatsApp_UnreachableResolvesToFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	wa := NewWhatsApp(testConfig(url), WithRetries(1, time.Millisecond), WithLogger(quiet()))
	assert.False(t, wa.Send(context.Background(), "+971500000000", "123456"))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+971*******00", MaskPhone("+971500000000"))
	assert.Equal(t, "****", MaskPhone("+123"))
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
	assert.True(t, l.Send(context.Background(), "+971500000000", "654321"))
	assert.Contains(t, buf.String(), "654321")
	assert.Equal(t, "log", l.Transport())
}
