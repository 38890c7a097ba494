// Package config loads the service's flat environment-variable configuration
// with production-ready defaults, following the same getEnvOrDefault idiom
// used for the database configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	AppHost                       string
	AppPort                       string
	AppLogLevel                   string
	AppAllowedIPs                 []string
	AppTrustXForwardedFor         bool
	AppWebhookTargetAllowlist     []string
	AppBlockPrivateWebhookTargets bool

	DatabaseURL string

	TwitchClientID                   string
	TwitchClientSecret               string
	TwitchRedirectURI                string
	TwitchScopes                     []string
	TwitchEventSubWSURL              string
	TwitchEventSubWebhookCallbackURL string
	TwitchEventSubWebhookSecret      string
	TwitchEventSubWebhookEventTypes  []string

	ServiceSigningSecret string
	AdminAPIKey          string

	WSListenerCooldown            time.Duration
	InterestDisconnectGrace       time.Duration
	InterestHeartbeatTimeout      time.Duration
	InterestUnsubscribeAfterStale time.Duration
	GCInterval                    time.Duration
	FanoutConcurrency             int
	SubscriptionErrorCooldown     time.Duration
	DedupeTTL                     time.Duration
	WSTokenTTL                    time.Duration
	ActiveSubsCacheTTL            time.Duration
	NameCacheTTL                  time.Duration
	ChatAssetsTTL                 time.Duration
	ChatAssetsStaleIfError        time.Duration
}

// LoadFromEnv loads configuration from environment variables with
// validation and production-ready defaults.
func LoadFromEnv() (Config, error) {
	fanout, err := strconv.Atoi(getEnvOrDefault("FANOUT_CONCURRENCY", "32"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid FANOUT_CONCURRENCY: %w", err)
	}

	durations := map[string]string{
		"WS_LISTENER_COOLDOWN":             "15m",
		"INTEREST_DISCONNECT_GRACE":        "15m",
		"INTEREST_HEARTBEAT_TIMEOUT":       "30m",
		"INTEREST_UNSUBSCRIBE_AFTER_STALE": "24h",
		"GC_INTERVAL":                      "60s",
		"SUBSCRIPTION_ERROR_COOLDOWN":      "1m",
		"DEDUPE_TTL":                       "10m",
		"WS_TOKEN_TTL":                     "60s",
		"ACTIVE_SUBS_CACHE_TTL":            "30s",
		"NAME_CACHE_TTL":                   "15m",
		"CHAT_ASSETS_TTL":                  "6h",
		"CHAT_ASSETS_STALE_IF_ERROR":       "24h",
	}
	parsed := make(map[string]time.Duration, len(durations))
	for key, def := range durations {
		d, err := time.ParseDuration(getEnvOrDefault(key, def))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		parsed[key] = d
	}

	cfg := Config{
		AppHost:                       getEnvOrDefault("APP_HOST", "0.0.0.0"),
		AppPort:                       getEnvOrDefault("APP_PORT", "8080"),
		AppLogLevel:                   getEnvOrDefault("APP_LOG_LEVEL", "info"),
		AppAllowedIPs:                 splitCSV(os.Getenv("APP_ALLOWED_IPS")),
		AppTrustXForwardedFor:         getEnvBool("APP_TRUST_X_FORWARDED_FOR", false),
		AppWebhookTargetAllowlist:     splitCSV(os.Getenv("APP_WEBHOOK_TARGET_ALLOWLIST")),
		AppBlockPrivateWebhookTargets: getEnvBool("APP_BLOCK_PRIVATE_WEBHOOK_TARGETS", true),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		TwitchClientID:                   os.Getenv("TWITCH_CLIENT_ID"),
		TwitchClientSecret:               os.Getenv("TWITCH_CLIENT_SECRET"),
		TwitchRedirectURI:                os.Getenv("TWITCH_REDIRECT_URI"),
		TwitchScopes:                     splitCSV(os.Getenv("TWITCH_SCOPES")),
		TwitchEventSubWSURL:              os.Getenv("TWITCH_EVENTSUB_WS_URL"),
		TwitchEventSubWebhookCallbackURL: os.Getenv("TWITCH_EVENTSUB_WEBHOOK_CALLBACK_URL"),
		TwitchEventSubWebhookSecret:      os.Getenv("TWITCH_EVENTSUB_WEBHOOK_SECRET"),
		TwitchEventSubWebhookEventTypes:  splitCSVOrDefault(os.Getenv("TWITCH_EVENTSUB_WEBHOOK_EVENT_TYPES"), []string{"stream.online", "stream.offline"}),

		ServiceSigningSecret: os.Getenv("SERVICE_SIGNING_SECRET"),
		AdminAPIKey:          os.Getenv("ADMIN_API_KEY"),

		WSListenerCooldown:            parsed["WS_LISTENER_COOLDOWN"],
		InterestDisconnectGrace:       parsed["INTEREST_DISCONNECT_GRACE"],
		InterestHeartbeatTimeout:      parsed["INTEREST_HEARTBEAT_TIMEOUT"],
		InterestUnsubscribeAfterStale: parsed["INTEREST_UNSUBSCRIBE_AFTER_STALE"],
		GCInterval:                    parsed["GC_INTERVAL"],
		FanoutConcurrency:             fanout,
		SubscriptionErrorCooldown:     parsed["SUBSCRIPTION_ERROR_COOLDOWN"],
		DedupeTTL:                     parsed["DEDUPE_TTL"],
		WSTokenTTL:                    parsed["WS_TOKEN_TTL"],
		ActiveSubsCacheTTL:            parsed["ACTIVE_SUBS_CACHE_TTL"],
		NameCacheTTL:                  parsed["NAME_CACHE_TTL"],
		ChatAssetsTTL:                 parsed["CHAT_ASSETS_TTL"],
		ChatAssetsStaleIfError:        parsed["CHAT_ASSETS_STALE_IF_ERROR"],
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET are required")
	}
	if c.ServiceSigningSecret == "" {
		return fmt.Errorf("SERVICE_SIGNING_SECRET is required")
	}
	if c.AdminAPIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required")
	}
	if n := len(c.TwitchEventSubWebhookSecret); n != 0 && (n < 10 || n > 100) {
		return fmt.Errorf("TWITCH_EVENTSUB_WEBHOOK_SECRET must be 10-100 chars, got %d", n)
	}
	if c.FanoutConcurrency < 1 {
		return fmt.Errorf("FANOUT_CONCURRENCY must be at least 1")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitCSVOrDefault(raw string, def []string) []string {
	if got := splitCSV(raw); len(got) > 0 {
		return got
	}
	return def
}
