package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kwld/twitch-service/internal/twitchapi"
)

func TestIsEnabledStatusChecksPrefix(t *testing.T) {
	assert.True(t, isEnabledStatus("enabled"))
	assert.True(t, isEnabledStatus("enabled_webhook_callback_verification_pending"))
	assert.False(t, isEnabledStatus("webhook_callback_verification_failed"))
	assert.False(t, isEnabledStatus(""))
}

func TestRankPrefersEnabledThenNewerThenID(t *testing.T) {
	older := twitchapi.EventSubSubscription{ID: "a", Status: "enabled", CreatedAtISO: "2026-01-01T00:00:00Z"}
	newer := twitchapi.EventSubSubscription{ID: "b", Status: "enabled", CreatedAtISO: "2026-02-01T00:00:00Z"}
	disabled := twitchapi.EventSubSubscription{ID: "c", Status: "webhook_callback_verification_failed", CreatedAtISO: "2026-03-01T00:00:00Z"}

	assert.Greater(t, rank(newer), rank(older))
	assert.Greater(t, rank(older), rank(disabled))
}

func TestUniqDropsDuplicatesPreservingOrder(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, uniq([]string{"a", "b", "a", "c", "b"}))
}
