package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/phone-signin/internal/credential"
	"github.com/iliyamo/phone-signin/internal/handler"
	"github.com/iliyamo/phone-signin/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational routes: liveness,
// readiness over the given checks and, when metrics is non-nil, /metrics.
func RegisterRoutes(e *echo.Echo, ready map[string]handler.Check, metrics http.Handler) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterAuth registers the sign-in operations under /v1/auth behind the
// request throttle, and the credential-protected identity routes under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, issuer *credential.Issuer, throttle echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	if throttle != nil {
		g.Use(throttle)
	}
	g.POST("/request", a.RequestCode)
	g.GET("/status", a.Status)
	g.GET("/status/:id", a.Status)
	g.POST("/tg-login", a.WidgetLogin)
	g.POST("/tg-request", a.RequestBotHandshake)
	g.POST("/verify", a.Verify)

	auth := e.Group("/v1", middleware.JWTAuth(issuer))
	auth.GET("/me", handler.Me)
	auth.GET("/me/logins", a.Logins)
}

// RegisterBot mounts the bot webhook. It is not throttled: updates come from
// the Bot API and are authenticated by the secret header.
func RegisterBot(e *echo.Echo, w *handler.WebhookHandler) {
	e.POST("/v1/tg/webhook", w.Telegram)
}
