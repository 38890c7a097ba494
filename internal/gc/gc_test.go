package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultDisconnectGrace, cfg.DisconnectGrace)
	assert.Equal(t, DefaultHeartbeatTimeout, cfg.HeartbeatTimeout)
	assert.Equal(t, DefaultUnsubscribeAfterStale, cfg.UnsubscribeAfterStale)
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{Interval: 5 * time.Second, DisconnectGrace: time.Minute, HeartbeatTimeout: 2 * time.Minute, UnsubscribeAfterStale: time.Hour}
	got := cfg.withDefaults()
	assert.Equal(t, cfg, got)
}
