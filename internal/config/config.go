package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrConfig is returned when a required value is missing or malformed.
var ErrConfig = errors.New("invalid config")

// Channel names accepted in AUTH_CHANNELS.
const (
	ChannelCodedMessage = "coded-message"
	ChannelWidget       = "widget"
	ChannelBotOTP       = "bot-otp"
)

// Config holds all runtime configuration values. It is built once at process
// start by Load and passed by value into every component constructor.
type Config struct {
	Env       string // application environment (development, production, test)
	Port      string // HTTP port to listen on
	LogLevel  string
	LogFormat string // json or text

	Store  string // mysql or memory
	DBUser string
	DBPass string // empty allowed
	DBHost string
	DBPort string
	DBName string

	JWTSecret   string        // HS256 signing key, at least 32 characters
	JWTTTL      time.Duration // credential lifetime
	JWTIssuer   string        // iss claim
	JWTAudience string        // aud claim
	AuthCookie  bool          // attach issued credentials as an http-only cookie

	Channels map[string]bool // enabled verification channels

	OTP       OTPLimits
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Telegram  TelegramConfig
	WhatsApp  WhatsAppConfig

	AMQPURL string // optional; login events are published when set
}

// TelegramConfig carries the bot and login-widget settings.
type TelegramConfig struct {
	BotToken      string
	BotSecret     string // widget secret; falls back to BotToken
	BotName       string
	AllowedOrigin string
	WebhookSecret string
	APIURL        string
}

// WidgetSecret returns the secret used to verify login-widget assertions.
func (t TelegramConfig) WidgetSecret() string {
	if t.BotSecret != "" {
		return t.BotSecret
	}
	return t.BotToken
}

// WhatsAppConfig carries the Cloud API settings used for code delivery.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	TemplateName  string
	TemplateLang  string
	APIURL        string
}

// Configured reports whether the delivery client has credentials.
func (w WhatsAppConfig) Configured() bool {
	return w.AccessToken != "" && w.PhoneNumberID != ""
}

// Production reports whether the service runs with production settings.
func (c Config) Production() bool { return c.Env == "production" }

// ChannelEnabled reports whether the named channel is listed in AUTH_CHANNELS.
func (c Config) ChannelEnabled(name string) bool { return c.Channels[name] }

// Load reads an optional .env file and then the process environment. Defaults
// are applied for optional values; missing or invalid required values return
// an error wrapping ErrConfig.
func Load() (Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	ttl, err := ParseTTL(envStr("JWT_TTL", "7d"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: JWT_TTL: %v", ErrConfig, err)
	}

	cfg := Config{
		Env:       envStr("APP_ENV", "development"),
		Port:      envStr("APP_PORT", "8080"),
		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "json"),

		Store:  strings.ToLower(envStr("APP_STORE", "mysql")),
		DBUser: envStr("DB_USER", ""),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: envStr("DB_HOST", "localhost"),
		DBPort: envStr("DB_PORT", "3306"),
		DBName: envStr("DB_NAME", ""),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTTTL:      ttl,
		JWTIssuer:   envStr("API_URL", "auth-service"),
		JWTAudience: envStr("APP_URL", "app"),
		AuthCookie:  envBool("AUTH_COOKIE", true),

		Channels: parseList(envStr("AUTH_CHANNELS", strings.Join([]string{ChannelCodedMessage, ChannelWidget, ChannelBotOTP}, ","))),

		OTP:       LoadOTPLimits(),
		RateLimit: LoadRateLimitConfig(),
		Redis:     LoadRedisConfig(),
		Telegram: TelegramConfig{
			BotToken:      os.Getenv("TG_BOT_TOKEN"),
			BotSecret:     os.Getenv("TG_BOT_SECRET"),
			BotName:       os.Getenv("TG_BOT_NAME"),
			AllowedOrigin: os.Getenv("TG_ALLOWED_ORIGIN"),
			WebhookSecret: os.Getenv("TG_WEBHOOK_SECRET"),
			APIURL:        envStr("TG_API_URL", "https://api.telegram.org"),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:   os.Getenv("WA_ACCESS_TOKEN"),
			PhoneNumberID: os.Getenv("WA_PHONE_NUMBER_ID"),
			TemplateName:  envStr("WA_TEMPLATE_NAME", "auth_otp"),
			TemplateLang:  envStr("WA_TEMPLATE_LANG", "ru"),
			APIURL:        envStr("WA_API_URL", "https://graph.facebook.com/v20.0"),
		},
		AMQPURL: envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the invariants every deployment must satisfy.
func (c Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("%w: JWT_SECRET must be at least 32 characters", ErrConfig)
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("%w: JWT_TTL must be positive", ErrConfig)
	}
	switch c.Store {
	case "memory":
	case "mysql":
		if c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("%w: DB_USER and DB_NAME are required for the mysql store", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown APP_STORE %q", ErrConfig, c.Store)
	}
	if c.OTP.PhoneHourly < 1 || c.OTP.AddrHourly < 1 {
		return fmt.Errorf("%w: hourly rate limits must be positive", ErrConfig)
	}
	return nil
}

// ParseTTL accepts the short "<n>s|m|h|d" form used by token TTL settings as
// well as any Go duration string.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		var n int
		if _, err := fmt.Sscanf(s, "%dd", &n); err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid ttl %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid ttl %q", s)
	}
	return d, nil
}

func parseList(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			m[p] = true
		}
	}
	return m
}
