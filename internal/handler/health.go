package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "net/http"
    "sort"
    "time"

    "github.com/labstack/echo/v4"
)

// Check probes one dependency; a nil error means it is reachable.
type Check func(ctx context.Context) error

// Health is a simple liveness endpoint used by load balancers.  It returns
// a plain text "ok" message with an HTTP 200 status code.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// Ready runs every check with a short deadline and reports 503 when any
// dependency (database, redis) is unreachable.
func Ready(checks map[string]Check) echo.HandlerFunc {
    names := make([]string, 0, len(checks))
    for name := range checks {
        names = append(names, name)
    }
    sort.Strings(names)

    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()

        status := http.StatusOK
        out := make(map[string]string, len(names))
        for _, name := range names {
            if err := checks[name](ctx); err != nil {
                out[name] = "down"
                status = http.StatusServiceUnavailable
                continue
            }
            out[name] = "up"
        }
        return c.JSON(status, out)
    }
}
