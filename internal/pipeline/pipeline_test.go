package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNotificationSplitsSubscriptionAndEvent(t *testing.T) {
	payload := map[string]any{
		"subscription": map[string]any{
			"id":        "sub-1",
			"type":      "stream.online",
			"condition": map[string]any{"broadcaster_user_id": "123"},
		},
		"event": map[string]any{
			"broadcaster_user_id": "123",
			"type":                "live",
		},
	}

	n, err := decodeNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", n.Subscription.ID)
	assert.Equal(t, "stream.online", n.Subscription.Type)
	assert.Equal(t, "123", n.Subscription.Condition["broadcaster_user_id"])
	assert.Equal(t, "123", n.Event["broadcaster_user_id"])
}

func TestIsChatEventType(t *testing.T) {
	assert.True(t, isChatEventType("channel.chat.message"))
	assert.True(t, isChatEventType("channel.chat.notification"))
	assert.False(t, isChatEventType("stream.online"))
	assert.False(t, isChatEventType("channel.chat_settings.update"))
}
