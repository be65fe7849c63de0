package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/phone-signin/internal/authsession"
	"github.com/iliyamo/phone-signin/internal/botflow"
	"github.com/iliyamo/phone-signin/internal/credential"
	"github.com/iliyamo/phone-signin/internal/middleware"
	"github.com/iliyamo/phone-signin/internal/ratelimit"
	"github.com/iliyamo/phone-signin/internal/repository"
	"github.com/iliyamo/phone-signin/internal/widget"
)

const widgetSecret = "123456:widget-bot-token"

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *inbox) Send(_ context.Context, phone, code string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codes == nil {
		b.codes = map[string]string{}
	}
	b.codes[phone] = code
	return true
}

func (b *inbox) code(phone string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[phone]
}

type chat struct {
	mu    sync.Mutex
	texts []string
}

func (c *chat) Notify(_ context.Context, _, text string, _ *botflow.Markup) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *chat) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.texts) == 0 {
		return ""
	}
	return c.texts[len(c.texts)-1]
}

type server struct {
	e      *echo.Echo
	inbox  *inbox
	chat   *chat
	issuer *credential.Issuer
}

func newServer(t *testing.T, webhookSecret string) *server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer, err := credential.NewIssuer(credential.Options{Secret: "0123456789abcdef0123456789abcdef", Issuer: "auth-service", Audience: "app"})
	require.NoError(t, err)

	store := repository.NewMemory()
	s := &server{e: echo.New(), inbox: &inbox{}, chat: &chat{}, issuer: issuer}
	svc, err := authsession.New(authsession.Options{
		Sessions:     store,
		Users:        store,
		Events:       store,
		Limiter:      ratelimit.NewMemory(ratelimit.Limits{Phone: 5, Addr: 10}),
		Issuer:       issuer,
		Deliverer:    s.inbox,
		Logger:       log,
		WidgetSecret: widgetSecret,
		BotName:      "signin_bot",
	})
	require.NoError(t, err)

	a := NewAuthHandler(svc, issuer, store, true, log)
	g := s.e.Group("/v1/auth")
	g.POST("/request", a.RequestCode)
	g.GET("/status", a.Status)
	g.POST("/tg-login", a.WidgetLogin)
	g.POST("/tg-request", a.RequestBotHandshake)
	g.POST("/verify", a.Verify)
	s.e.GET("/v1/me", Me, middleware.JWTAuth(issuer))
	s.e.GET("/v1/me/logins", a.Logins, middleware.JWTAuth(issuer))

	wh := NewWebhookHandler(webhookSecret, botflow.NewDriver(svc, s.chat, log), log)
	s.e.POST("/v1/tg/webhook", wh.Telegram)
	return s
}

func (s *server) do(t *testing.T, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestCodedMessageFlow(t *testing.T) {
	s := newServer(t, "")
	const phone = "+971500000000"

	rec := s.do(t, http.MethodPost, "/v1/auth/request", `{"phone":"`+phone+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	sid, _ := body["session_id"].(string)
	require.NotEmpty(t, sid)
	assert.EqualValues(t, 300, body["expires_in"])

	rec = s.do(t, http.MethodGet, "/v1/auth/status?session_id="+sid, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["state"])

	rec = s.do(t, http.MethodPost, "/v1/auth/verify", `{"phone":"`+phone+`","otp":"`+s.inbox.code(phone)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "coded-message", body["channel"])

	var cookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == credential.CookieName {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	rec = s.do(t, http.MethodGet, "/v1/me", "", "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "coded-message", decode(t, rec)["channel"])

	rec = s.do(t, http.MethodGet, "/v1/me/logins?limit=5", "", "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	logins, _ := decode(t, rec)["logins"].([]any)
	require.Len(t, logins, 1)
	assert.Equal(t, "coded-message", logins[0].(map[string]any)["channel"])

	rec = s.do(t, http.MethodGet, "/v1/me/logins?limit=zero", "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Codes are single use.
	rec = s.do(t, http.MethodPost, "/v1/auth/verify", `{"session_id":"`+sid+`","code":"`+s.inbox.code(phone)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_code"}`, rec.Body.String())
}

func TestErrorCodes(t *testing.T) {
	s := newServer(t, "")

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"bad phone", http.MethodPost, "/v1/auth/request", `{"phone":"12345"}`, http.StatusBadRequest, "invalid_input"},
		{"bad body", http.MethodPost, "/v1/auth/request", `{"phone":`, http.StatusBadRequest, "invalid_input"},
		{"unknown session", http.MethodGet, "/v1/auth/status?session_id=nope", "", http.StatusNotFound, "not_found"},
		{"missing session id", http.MethodGet, "/v1/auth/status", "", http.StatusBadRequest, "invalid_input"},
		{"no pending session", http.MethodPost, "/v1/auth/verify", `{"phone":"+971500000001","code":"123456"}`, http.StatusNotFound, "not_found"},
		{"widget via verify", http.MethodPost, "/v1/auth/verify", `{"phone":"+971500000001","channel":"widget","code":"1"}`, http.StatusBadRequest, "invalid_input"},
		{"widget garbage", http.MethodPost, "/v1/auth/tg-login", `[1,2]`, http.StatusBadRequest, "invalid_input"},
		{"widget unsigned", http.MethodPost, "/v1/auth/tg-login", `{"id":1,"auth_date":` + strconv.FormatInt(time.Now().Unix(), 10) + `}`, http.StatusUnauthorized, "signature_invalid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.JSONEq(t, `{"error":"`+tc.code+`"}`, rec.Body.String())
		})
	}
}

func TestWidgetLogin(t *testing.T) {
	s := newServer(t, "")
	p := widget.Payload{
		"id":         "424242",
		"first_name": "Ann",
		"username":   "annlee",
		"auth_date":  strconv.FormatInt(time.Now().Unix(), 10),
	}
	p["hash"] = widget.Sign(p, widget.DeriveKey(widgetSecret))
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/v1/auth/tg-login", string(raw))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	user, _ := body["user"].(map[string]any)
	assert.Equal(t, "424242", user["telegram_id"])
	assert.Equal(t, "widget", body["channel"])
}

func TestBotFlowOverWebhook(t *testing.T) {
	s := newServer(t, "hook-secret")
	const phone = "+971501234567"

	rec := s.do(t, http.MethodPost, "/v1/auth/tg-request", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	sid, _ := body["session_id"].(string)
	link, _ := body["bot_link"].(string)
	require.True(t, strings.HasPrefix(link, "https://t.me/signin_bot?start="), link)
	token := strings.TrimPrefix(link, "https://t.me/signin_bot?start=")

	rec = s.do(t, http.MethodPost, "/v1/tg/webhook", `{"update_id":1}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	start := `{"update_id":2,"message":{"message_id":1,"from":{"id":777},"chat":{"id":9001,"type":"private"},"text":"/start ` + token + `"}}`
	rec = s.do(t, http.MethodPost, "/v1/tg/webhook", start, SecretHeader, "hook-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, botflow.MsgShareContact, s.chat.last())

	contact := `{"update_id":3,"message":{"message_id":2,"from":{"id":777},"chat":{"id":9001,"type":"private"},"contact":{"phone_number":"971501234567","user_id":777}}}`
	rec = s.do(t, http.MethodPost, "/v1/tg/webhook", contact, SecretHeader, "hook-secret")
	require.Equal(t, http.StatusOK, rec.Code)

	msg := s.chat.last()
	require.True(t, strings.HasPrefix(msg, "Your sign-in code: "), msg)
	code := strings.TrimPrefix(strings.SplitN(msg, "\n", 2)[0], "Your sign-in code: ")

	rec = s.do(t, http.MethodPost, "/v1/auth/verify", `{"session_id":"`+sid+`","channel":"bot-otp","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user, _ := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "777", user["telegram_id"])
	assert.Equal(t, phone, user["phone"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusGone, StatusFor(authsession.KindExpired))
	assert.Equal(t, http.StatusConflict, StatusFor(authsession.KindNotReady))
	assert.Equal(t, http.StatusBadGateway, StatusFor(authsession.KindDeliveryFailed))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(authsession.KindOf(errors.New("boom"))))
}

func TestReady(t *testing.T) {
	e := echo.New()
	e.GET("/readyz", Ready(map[string]Check{
		"db":    func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("down") },
	}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"db":"up","redis":"down"}`, rec.Body.String())
}
