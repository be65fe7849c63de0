package middleware

// identity.go holds the accessors for the identity JWTAuth stores in the
// Echo context. Unauthenticated requests yield "anon" from UserID.

import "github.com/labstack/echo/v4"

// UserID returns the authenticated subject, or "anon".
func UserID(c echo.Context) string {
    if s, ok := c.Get(CtxUserID).(string); ok && s != "" {
        return s
    }
    return "anon"
}

// Channel returns the channel that verified the authenticated subject.
func Channel(c echo.Context) string {
    s, _ := c.Get(CtxChannel).(string)
    return s
}
