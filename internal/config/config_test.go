package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseValidConfig() Config {
	return Config{
		DatabaseURL:          "postgres://x",
		TwitchClientID:       "client-1",
		TwitchClientSecret:   "secret-1",
		ServiceSigningSecret: "signing-secret",
		AdminAPIKey:          "admin-key",
		FanoutConcurrency:    32,
	}
}

func TestConfigValidateRequiresDatabaseURL(t *testing.T) {
	cfg := baseValidConfig()
	cfg.DatabaseURL = ""
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")
}

func TestConfigValidateRequiresTwitchCredentials(t *testing.T) {
	cfg := baseValidConfig()
	cfg.TwitchClientSecret = ""
	assert.ErrorContains(t, cfg.Validate(), "TWITCH_CLIENT_ID")
}

func TestConfigValidateRequiresSigningSecret(t *testing.T) {
	cfg := baseValidConfig()
	cfg.ServiceSigningSecret = ""
	assert.ErrorContains(t, cfg.Validate(), "SERVICE_SIGNING_SECRET")
}

func TestConfigValidateRequiresAdminAPIKey(t *testing.T) {
	cfg := baseValidConfig()
	cfg.AdminAPIKey = ""
	assert.ErrorContains(t, cfg.Validate(), "ADMIN_API_KEY")
}

func TestConfigValidateRejectsShortWebhookSecret(t *testing.T) {
	cfg := baseValidConfig()
	cfg.TwitchEventSubWebhookSecret = "short"
	assert.ErrorContains(t, cfg.Validate(), "TWITCH_EVENTSUB_WEBHOOK_SECRET")
}

func TestConfigValidateRejectsZeroFanoutConcurrency(t *testing.T) {
	cfg := baseValidConfig()
	cfg.FanoutConcurrency = 0
	assert.ErrorContains(t, cfg.Validate(), "FANOUT_CONCURRENCY")
}

func TestConfigValidateAcceptsSaneDefaults(t *testing.T) {
	assert.NoError(t, baseValidConfig().Validate())
}

func TestSplitCSV(t *testing.T) {
	assert.Nil(t, splitCSV(""))
	assert.Nil(t, splitCSV("   "))
	assert.Equal(t, []string{"a", "b", "c"}, splitCSV("a, b ,c"))
}

func TestSplitCSVOrDefault(t *testing.T) {
	assert.Equal(t, []string{"x"}, splitCSVOrDefault("x", []string{"fallback"}))
	assert.Equal(t, []string{"fallback"}, splitCSVOrDefault("", []string{"fallback"}))
}
