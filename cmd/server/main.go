package main // Entry point package

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/phone-signin/internal/authsession"
	"github.com/iliyamo/phone-signin/internal/botflow"
	"github.com/iliyamo/phone-signin/internal/config"
	"github.com/iliyamo/phone-signin/internal/credential"
	"github.com/iliyamo/phone-signin/internal/database"
	"github.com/iliyamo/phone-signin/internal/delivery"
	"github.com/iliyamo/phone-signin/internal/handler"
	"github.com/iliyamo/phone-signin/internal/logging"
	"github.com/iliyamo/phone-signin/internal/metrics"
	"github.com/iliyamo/phone-signin/internal/middleware"
	"github.com/iliyamo/phone-signin/internal/model"
	"github.com/iliyamo/phone-signin/internal/queue"
	"github.com/iliyamo/phone-signin/internal/ratelimit"
	"github.com/iliyamo/phone-signin/internal/repository"
	"github.com/iliyamo/phone-signin/internal/router"
	"github.com/iliyamo/phone-signin/internal/telegram"
	"github.com/iliyamo/phone-signin/internal/widget"
)

// stores groups the three persistence ports behind one backend.
type stores struct {
	sessions authsession.SessionStore
	users    authsession.UserStore
	events   interface {
		authsession.EventStore
		handler.EventLister
	}
	ready handler.Check
	close func()
}

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		slog.Error("config.load_failed", "error", err)
		os.Exit(1)
	}
	log := logging.SetDefault(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logging.LogError(log, "store.open_failed", err, "store", cfg.Store)
		os.Exit(1)
	}
	defer st.close()

	// Redis is optional: without it the limiter stays in-process and the
	// request throttle is off.
	var rdb *redis.Client
	if cfg.OTP.Backend == "redis" || cfg.RateLimit.Enabled {
		rdb = config.NewRedisClient(cfg.Redis)
		if rdb == nil {
			log.Warn("redis.unavailable", "addr", cfg.Redis.Addr)
		} else {
			defer rdb.Close()
		}
	}
	limits := ratelimit.Limits{Phone: cfg.OTP.PhoneHourly, Addr: cfg.OTP.AddrHourly}
	var limiter ratelimit.Limiter = ratelimit.NewMemory(limits)
	if cfg.OTP.Backend == "redis" && rdb != nil {
		limiter = ratelimit.NewRedis(rdb, limits, "otp-rl", log)
	}

	issuer, err := credential.NewIssuer(credential.Options{
		Secret:       cfg.JWTSecret,
		Issuer:       cfg.JWTIssuer,
		Audience:     cfg.JWTAudience,
		TTL:          cfg.JWTTTL,
		SecureCookie: cfg.Production(),
	})
	if err != nil {
		logging.LogError(log, "credential.init_failed", err)
		os.Exit(1)
	}

	opts := authsession.Options{
		Sessions:      st.sessions,
		Users:         st.users,
		Events:        st.events,
		Limiter:       limiter,
		Issuer:        issuer,
		Logger:        log,
		Channels:      enabledChannels(cfg),
		WidgetSecret:  cfg.Telegram.WidgetSecret(),
		WidgetMaxAge:  widget.MaxAge,
		AllowedOrigin: cfg.Telegram.AllowedOrigin,
		BotName:       cfg.Telegram.BotName,
	}
	switch {
	case cfg.WhatsApp.Configured():
		wa := delivery.NewWhatsApp(cfg.WhatsApp, delivery.WithLogger(log))
		opts.Deliverer, opts.Transport = wa, wa.Transport()
	case !cfg.Production():
		dev := delivery.NewLog(log)
		opts.Deliverer, opts.Transport = dev, dev.Transport()
		log.Warn("delivery.log_sender", "reason", "WhatsApp not configured; codes are written to the log")
	}
	if cfg.AMQPURL != "" {
		opts.Publisher = queue.NewPublisher(cfg.AMQPURL, log)
	}

	engine, err := authsession.New(opts)
	if err != nil {
		logging.LogError(log, "engine.init_failed", err)
		os.Exit(1)
	}

	tg := telegram.NewClient(cfg.Telegram, telegram.WithLogger(log))
	driver := botflow.NewDriver(engine, tg, log)

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "path", v.URIPath, "status", v.Status, "latency_ms", v.Latency.Milliseconds(), "ip", v.RemoteIP}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error.Error())
			}
			log.Info("http.request", attrs...)
			return nil
		},
	}))

	ready := map[string]handler.Check{"store": st.ready}
	if rdb != nil {
		ready["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	var throttle echo.MiddlewareFunc
	if rdb != nil {
		throttle = middleware.NewTokenBucket(cfg.RateLimit, rdb)
	}

	router.RegisterRoutes(e, ready, metrics.Handler(metrics.NewRegistry()))
	router.RegisterAuth(e, handler.NewAuthHandler(engine, issuer, st.events, cfg.AuthCookie, log), issuer, throttle)
	router.RegisterBot(e, handler.NewWebhookHandler(cfg.Telegram.WebhookSecret, driver, log))

	addr := ":" + cfg.Port
	go func() {
		log.Info("http.listening", "addr", addr, "env", cfg.Env, "store", cfg.Store, "transport", opts.Transport)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.LogError(log, "http.serve_failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logging.LogError(log, "http.shutdown_failed", err)
	}
	log.Info("http.stopped")
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.Store == "memory" {
		mem := repository.NewMemory()
		return stores{
			sessions: mem,
			users:    mem,
			events:   mem,
			ready:    func(context.Context) error { return nil },
			close:    func() {},
		}, nil
	}

	db, err := database.Open(cfg)
	if err != nil {
		return stores{}, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	return stores{
		sessions: repository.NewSessionRepo(db),
		users:    repository.NewUserRepo(db),
		events:   repository.NewLoginEventRepo(db),
		ready:    db.PingContext,
		close:    func() { _ = db.Close() },
	}, nil
}

func enabledChannels(cfg config.Config) []model.Channel {
	var out []model.Channel
	for _, ch := range []model.Channel{model.ChannelCodedMessage, model.ChannelWidget, model.ChannelBotOTP} {
		if cfg.ChannelEnabled(string(ch)) {
			out = append(out, ch)
		}
	}
	return out
}
