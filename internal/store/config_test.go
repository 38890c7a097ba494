package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidateRequiresDatabaseURL(t *testing.T) {
	cfg := Config{MaxOpenConns: 10, MaxIdleConns: 5}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestConfigValidateRejectsIdleExceedingOpen(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://x", MaxOpenConns: 5, MaxIdleConns: 10}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "DB_MAX_IDLE_CONNS")
}

func TestConfigValidateAcceptsSaneDefaults(t *testing.T) {
	cfg := Config{
		DatabaseURL:     "postgres://x",
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}
	assert.NoError(t, cfg.Validate())
}

func TestNullableTime(t *testing.T) {
	assert.Nil(t, nullableTime(nil))
	now := time.Now()
	assert.Equal(t, now, nullableTime(&now))
}
