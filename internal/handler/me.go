package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/phone-signin/internal/middleware"
)

// Me returns the identity carried by the presented credential. It must be
// mounted behind middleware.JWTAuth.
func Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"user_id": middleware.UserID(c),
		"channel": middleware.Channel(c),
	})
}
