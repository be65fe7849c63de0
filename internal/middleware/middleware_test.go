package middleware

import (
    "context"
    "net/http"
    "net/http/httptest"
    "os"
    "strconv"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/phone-signin/internal/config"
    "github.com/iliyamo/phone-signin/internal/credential"
)

func newIssuer(t *testing.T) *credential.Issuer {
    t.Helper()
    iss, err := credential.NewIssuer(credential.Options{Secret: "0123456789abcdef0123456789abcdef", Issuer: "auth-service", Audience: "app"})
    require.NoError(t, err)
    return iss
}

func whoami(c echo.Context) error {
    return c.JSON(http.StatusOK, echo.Map{"user_id": UserID(c), "channel": Channel(c)})
}

func TestJWTAuth(t *testing.T) {
    iss := newIssuer(t)
    tok, err := iss.Issue("U1", "widget", time.Now())
    require.NoError(t, err)

    e := echo.New()
    e.GET("/me", whoami, JWTAuth(iss))

    t.Run("bearer", func(t *testing.T) {
        req := httptest.NewRequest(http.MethodGet, "/me", nil)
        req.Header.Set("Authorization", "Bearer "+tok.Value)
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, req)
        assert.Equal(t, http.StatusOK, rec.Code)
        assert.JSONEq(t, `{"user_id":"U1","channel":"widget"}`, rec.Body.String())
    })

    t.Run("cookie", func(t *testing.T) {
        req := httptest.NewRequest(http.MethodGet, "/me", nil)
        req.AddCookie(iss.Cookie(tok))
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, req)
        assert.Equal(t, http.StatusOK, rec.Code)
    })

    t.Run("missing", func(t *testing.T) {
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
        assert.Equal(t, http.StatusUnauthorized, rec.Code)
        assert.JSONEq(t, `{"error":"missing_token"}`, rec.Body.String())
    })

    t.Run("garbage", func(t *testing.T) {
        req := httptest.NewRequest(http.MethodGet, "/me", nil)
        req.Header.Set("Authorization", "Bearer not.a.jwt")
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, req)
        assert.Equal(t, http.StatusUnauthorized, rec.Code)
        assert.JSONEq(t, `{"error":"invalid_token"}`, rec.Body.String())
    })
}

func TestIdentityDefaults(t *testing.T) {
    c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
    assert.Equal(t, "anon", UserID(c))
    assert.Equal(t, "", Channel(c))
}

func TestRateKey(t *testing.T) {
    e := echo.New()
    req := httptest.NewRequest(http.MethodPost, "/v1/auth/request", nil)
    req.Header.Set(echo.HeaderXRealIP, "203.0.113.9")
    c := e.NewContext(req, httptest.NewRecorder())
    c.SetPath("/v1/auth/request")

    assert.Equal(t, "ip:203.0.113.9:route:POST /v1/auth/request", rateKey("ip_route", c))
    assert.Equal(t, "ip:203.0.113.9", rateKey("IP", c))
    assert.Equal(t, "route:POST /v1/auth/request", rateKey("route", c))
    assert.Equal(t, rateKey("ip_route", c), rateKey("", c))
}

func TestTokenBucket_DisabledPassesThrough(t *testing.T) {
    e := echo.New()
    e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
        NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil))

    for i := 0; i < 3; i++ {
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
        assert.Equal(t, http.StatusNoContent, rec.Code)
    }
}

func redisClient(t *testing.T) *redis.Client {
    t.Helper()
    addr := os.Getenv("AUTH_TEST_REDIS_ADDR")
    if addr == "" {
        t.Skip("AUTH_TEST_REDIS_ADDR not set")
    }
    rdb := redis.NewClient(&redis.Options{Addr: addr})
    t.Cleanup(func() { _ = rdb.Close() })
    return rdb
}

func TestTokenBucket_Take(t *testing.T) {
    rdb := redisClient(t)
    ctx := context.Background()
    cfg := config.RateLimitConfig{Burst: 2, RefillEvery: time.Second, Prefix: "rl-test-" + strconv.FormatInt(time.Now().UnixNano(), 36)}
    bucket := NewBucket(cfg, rdb)
    now := time.UnixMilli(1_700_000_000_000)

    d, err := bucket.Take(ctx, "k", now)
    require.NoError(t, err)
    assert.True(t, d.Allowed)
    assert.EqualValues(t, 1, d.Remaining)

    d, err = bucket.Take(ctx, "k", now)
    require.NoError(t, err)
    assert.True(t, d.Allowed)
    assert.Equal(t, time.Second, d.RetryAfter)

    d, err = bucket.Take(ctx, "k", now.Add(400*time.Millisecond))
    require.NoError(t, err)
    assert.False(t, d.Allowed)
    assert.Equal(t, 600*time.Millisecond, d.RetryAfter)

    d, err = bucket.Take(ctx, "k", now.Add(time.Second))
    require.NoError(t, err)
    assert.True(t, d.Allowed)
}

func TestTokenBucket_Middleware(t *testing.T) {
    rdb := redisClient(t)
    cfg := config.RateLimitConfig{
        Enabled: true, Burst: 2, RefillEvery: time.Hour, KeyStrategy: "ip_route",
        Prefix: "rl-test-" + strconv.FormatInt(time.Now().UnixNano(), 36),
    }
    e := echo.New()
    e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, rdb))

    codes := make([]int, 0, 3)
    var last *httptest.ResponseRecorder
    for i := 0; i < 3; i++ {
        last = httptest.NewRecorder()
        e.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/x", nil))
        codes = append(codes, last.Code)
    }
    assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
    assert.Equal(t, "3600", last.Header().Get("Retry-After"))
    assert.JSONEq(t, `{"error":"rate_limited","retry_after":3600}`, last.Body.String())
}
