// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default upstream endpoints. Overridable so tests and staging can point at stubs.
const (
	DefaultStravaAPIURL   = "https://www.strava.com/api/v3"
	DefaultStravaAuthURL  = "https://www.strava.com/oauth/authorize"
	DefaultStravaTokenURL = "https://www.strava.com/oauth/token"
	DefaultPokeURL        = "https://poke.com/api/v1/inbound-sms/webhook"
)

// Config holds all env configuration vars for the bridge.
type Config struct {
	RedisURL string
	Port     string
	LogLevel slog.Level

	// BaseURL is the public origin used to build /auth and /mcp links.
	// Defaults to http://localhost:<Port>.
	BaseURL string

	// DashboardURL receives the freshly minted personal token after login.
	// Defaults to BaseURL + "/dashboard".
	DashboardURL string

	// Strava OAuth application credentials. All three required.
	StravaClientID     string
	StravaClientSecret string
	StravaRedirectURI  string

	StravaAPIURL   string
	StravaAuthURL  string
	StravaTokenURL string

	// WebhookVerifyToken is compared against hub.verify_token on subscription handshakes.
	// Empty rejects every handshake.
	WebhookVerifyToken string

	// Notification relay. Empty PokeAPIKey disables relaying.
	PokeAPIKey string
	PokeURL    string
	// NotifyQueue routes relay messages through a Redis list drained by a worker.
	NotifyQueue bool
	// NotifyQueueMax caps the relay queue length. Default 1000.
	NotifyQueueMax int

	// Optional integrations -- empty disables them.
	DatabaseURL string
	AMQPURL     string

	// HTTPTimeout bounds every outbound call (Strava API, token endpoint, relay).
	HTTPTimeout time.Duration
	// WebhookTaskTimeout bounds one detached webhook task end to end.
	WebhookTaskTimeout time.Duration
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.StravaClientID = os.Getenv("STRAVA_CLIENT_ID")
	if cfg.StravaClientID == "" {
		return nil, fmt.Errorf("STRAVA_CLIENT_ID is required")
	}
	cfg.StravaClientSecret = os.Getenv("STRAVA_CLIENT_SECRET")
	if cfg.StravaClientSecret == "" {
		return nil, fmt.Errorf("STRAVA_CLIENT_SECRET is required")
	}
	cfg.StravaRedirectURI = os.Getenv("STRAVA_REDIRECT_URI")
	if cfg.StravaRedirectURI == "" {
		return nil, fmt.Errorf("STRAVA_REDIRECT_URI is required")
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8787"
	}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.BaseURL = strings.TrimSuffix(envString("BASE_URL", "http://localhost:"+cfg.Port), "/")
	cfg.DashboardURL = envString("DASHBOARD_URL", cfg.BaseURL+"/dashboard")

	cfg.StravaAPIURL = strings.TrimSuffix(envString("STRAVA_API_URL", DefaultStravaAPIURL), "/")
	cfg.StravaAuthURL = envString("STRAVA_AUTH_URL", DefaultStravaAuthURL)
	cfg.StravaTokenURL = envString("STRAVA_TOKEN_URL", DefaultStravaTokenURL)

	cfg.WebhookVerifyToken = os.Getenv("STRAVA_WEBHOOK_VERIFY_TOKEN")

	cfg.PokeAPIKey = os.Getenv("POKE_API_KEY")
	cfg.PokeURL = envString("POKE_URL", DefaultPokeURL)
	// Default false -- only explicit "true" enables.
	cfg.NotifyQueue = os.Getenv("NOTIFY_QUEUE") == "true"
	cfg.NotifyQueueMax = envInt("NOTIFY_QUEUE_MAX", 1000)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.AMQPURL = os.Getenv("AMQP_URL")

	cfg.HTTPTimeout = envDuration("HTTP_TIMEOUT", 10*time.Second)
	cfg.WebhookTaskTimeout = envDuration("WEBHOOK_TASK_TIMEOUT", 60*time.Second)

	return cfg, nil
}

// envString reads an env var, returning def if missing.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
