package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/phone-signin/internal/authsession"
	"github.com/iliyamo/phone-signin/internal/credential"
	"github.com/iliyamo/phone-signin/internal/logging"
	"github.com/iliyamo/phone-signin/internal/middleware"
	"github.com/iliyamo/phone-signin/internal/model"
	"github.com/iliyamo/phone-signin/internal/widget"
)

// maxWidgetBody caps the login-widget assertion body.
const maxWidgetBody = 8 << 10

// Engine is the set of session operations exposed over HTTP.
type Engine interface {
	RequestCode(ctx context.Context, phone string, caller authsession.Caller) (authsession.Begun, error)
	Status(ctx context.Context, id string) (authsession.StatusView, error)
	WidgetLogin(ctx context.Context, p widget.Payload, caller authsession.Caller) (authsession.Result, error)
	RequestBotHandshake(ctx context.Context, phone string, caller authsession.Caller) (authsession.Begun, error)
	Verify(ctx context.Context, req authsession.VerifyRequest) (authsession.Result, error)
}

// EventLister reads a user's sign-in history.
type EventLister interface {
	ListLoginEvents(ctx context.Context, userID string, limit int) ([]model.LoginEvent, error)
}

// AuthHandler bundles dependencies for the sign-in endpoints.
type AuthHandler struct {
	Engine Engine
	Issuer *credential.Issuer
	Events EventLister
	Cookie bool // attach issued credentials as a cookie
	Log    *slog.Logger
}

func NewAuthHandler(engine Engine, issuer *credential.Issuer, events EventLister, cookie bool, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{Engine: engine, Issuer: issuer, Events: events, Cookie: cookie, Log: log}
}

// ----- DTOs -----

type codeReq struct {
	Phone string `json:"phone"`
}

type botReq struct {
	Phone string `json:"phone"`
}

type verifyReq struct {
	SessionID string `json:"session_id"`
	Phone     string `json:"phone"`
	Channel   string `json:"channel"`
	Code      string `json:"code"`
	OTP       string `json:"otp"` // older clients
}

type begunResp struct {
	SessionID string `json:"session_id"`
	ExpiresIn int    `json:"expires_in"`
	BotLink   string `json:"bot_link,omitempty"`
}

type statusResp struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Channel   string `json:"channel"`
	Phone     string `json:"phone,omitempty"`
}

type userPart struct {
	ID         string `json:"id"`
	Phone      string `json:"phone,omitempty"`
	TelegramID string `json:"telegram_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Username   string `json:"username,omitempty"`
}

type loginPart struct {
	Channel   string    `json:"channel"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	At        time.Time `json:"at"`
}

type authResp struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
	Channel string    `json:"channel"`
	User    userPart  `json:"user"`
}

// RequestCode starts a coded-message verification and sends the code.
func (h *AuthHandler) RequestCode(c echo.Context) error {
	var req codeReq
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authsession.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	begun, err := h.Engine.RequestCode(ctx, req.Phone, caller(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, begunResp{SessionID: begun.SessionID, ExpiresIn: seconds(begun.ExpiresIn)})
}

// Status reports the state of ?session_id=.
func (h *AuthHandler) Status(c echo.Context) error {
	id := c.QueryParam("session_id")
	if id == "" {
		id = c.Param("id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	view, err := h.Engine.Status(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, statusResp{
		SessionID: view.SessionID,
		State:     string(view.State),
		Channel:   string(view.Channel),
		Phone:     view.Phone,
	})
}

// WidgetLogin verifies a login-widget assertion posted as a flat JSON object.
func (h *AuthHandler) WidgetLogin(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWidgetBody))
	if err != nil {
		return h.fail(c, authsession.ErrInvalidInput)
	}
	payload, err := widget.ParsePayload(body)
	if err != nil {
		return h.fail(c, authsession.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Engine.WidgetLogin(ctx, payload, caller(c))
	if err != nil {
		return h.fail(c, err)
	}
	return h.signedIn(c, res)
}

// RequestBotHandshake creates a bot-otp session and returns the deep link
// that binds a chat to it.
func (h *AuthHandler) RequestBotHandshake(c echo.Context) error {
	var req botReq
	// The body is optional.
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return h.fail(c, authsession.ErrInvalidInput)
		}
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	begun, err := h.Engine.RequestBotHandshake(ctx, req.Phone, caller(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, begunResp{
		SessionID: begun.SessionID,
		ExpiresIn: seconds(begun.ExpiresIn),
		BotLink:   begun.BotLink,
	})
}

// Verify submits a code for either code-based channel.
func (h *AuthHandler) Verify(c echo.Context) error {
	var req verifyReq
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authsession.ErrInvalidInput)
	}
	code := req.Code
	if code == "" {
		code = req.OTP
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Engine.Verify(ctx, authsession.VerifyRequest{
		SessionID: req.SessionID,
		Phone:     req.Phone,
		Channel:   model.Channel(strings.ToLower(strings.TrimSpace(req.Channel))),
		Code:      code,
		Caller:    caller(c),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return h.signedIn(c, res)
}

// Logins lists the caller's most recent sign-ins, newest first. ?limit=
// defaults to 20 and is capped at 100. Mounted behind middleware.JWTAuth.
func (h *AuthHandler) Logins(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return h.fail(c, authsession.ErrInvalidInput)
		}
		limit = min(n, 100)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	events, err := h.Events.ListLoginEvents(ctx, middleware.UserID(c), limit)
	if err != nil {
		logging.LogError(h.Log, "auth.http.logins_failed", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": string(authsession.KindInternal)})
	}
	out := make([]loginPart, 0, len(events))
	for _, ev := range events {
		out = append(out, loginPart{Channel: string(ev.Channel), IP: ev.IP, UserAgent: ev.UserAgent, At: ev.CreatedAt})
	}
	return c.JSON(http.StatusOK, echo.Map{"logins": out})
}

func (h *AuthHandler) signedIn(c echo.Context, res authsession.Result) error {
	if h.Cookie && h.Issuer != nil {
		c.SetCookie(h.Issuer.Cookie(res.Credential))
	}
	u := res.User
	return c.JSON(http.StatusOK, authResp{
		Token:   res.Credential.Value,
		Expires: res.Credential.Exp,
		Channel: string(res.Channel),
		User: userPart{
			ID:         u.ID,
			Phone:      u.Phone,
			TelegramID: u.TelegramUserID,
			Name:       u.Name,
			Username:   u.Username,
		},
	})
}

// fail writes the stable error code for err. Internal faults were already
// logged by the engine.
func (h *AuthHandler) fail(c echo.Context, err error) error {
	kind := authsession.KindOf(err)
	if kind == authsession.KindInternal {
		h.Log.Debug("auth.http.internal", "path", c.Path())
	}
	return c.JSON(StatusFor(kind), echo.Map{"error": string(kind)})
}

// StatusFor maps an engine failure kind to its HTTP status.
func StatusFor(k authsession.Kind) int {
	switch k {
	case authsession.KindInvalidInput, authsession.KindInvalidCode:
		return http.StatusBadRequest
	case authsession.KindRateLimited:
		return http.StatusTooManyRequests
	case authsession.KindNotFound:
		return http.StatusNotFound
	case authsession.KindExpired:
		return http.StatusGone
	case authsession.KindDeliveryFailed:
		return http.StatusBadGateway
	case authsession.KindNotReady:
		return http.StatusConflict
	case authsession.KindSignatureInvalid:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func caller(c echo.Context) authsession.Caller {
	r := c.Request()
	return authsession.Caller{
		Addr:      c.RealIP(),
		UserAgent: r.UserAgent(),
		Origin:    r.Header.Get(echo.HeaderOrigin),
	}
}

func seconds(d time.Duration) int { return int(d / time.Second) }
