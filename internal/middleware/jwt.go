package middleware // reusable HTTP middleware for the sign-in API

import (
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/phone-signin/internal/credential"
)

// Context keys set by JWTAuth.
const (
    CtxUserID  = "user_id"
    CtxChannel = "channel"
)

// JWTAuth returns an Echo middleware that validates a credential minted by
// issuer and injects its subject and channel into the request context.  The
// token is read from the Authorization header ("Bearer <jwt>") and, failing
// that, from the auth cookie set at sign-in.  Handlers read the identity via
// UserID(c) and Channel(c).
func JWTAuth(issuer *credential.Issuer) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw := bearerToken(c)
            if raw == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_token"})
            }

            // Parse checks signature, algorithm, issuer, audience and expiry.
            claims, err := issuer.Parse(raw, time.Now())
            if err != nil || claims.Subject == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
            }

            c.Set(CtxUserID, claims.Subject)
            c.Set(CtxChannel, claims.Channel)
            return next(c)
        }
    }
}

func bearerToken(c echo.Context) string {
    if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
        return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
    }
    if ck, err := c.Cookie(credential.CookieName); err == nil {
        return ck.Value
    }
    return ""
}
