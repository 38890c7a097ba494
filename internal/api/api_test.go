package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwld/twitch-service/internal/models"
)

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, constantTimeEqual("abc123", "abc123"))
	assert.False(t, constantTimeEqual("abc123", "abc124"))
	assert.False(t, constantTimeEqual("short", "shorter"))
	assert.True(t, constantTimeEqual("", ""))
}

func TestDirectHost(t *testing.T) {
	assert.Equal(t, "203.0.113.5", directHost("203.0.113.5:54321"))
	assert.Equal(t, "2001:db8::1", directHost("[2001:db8::1]:443"))
	assert.Equal(t, "no-port-here", directHost("no-port-here"))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "s3cr3t-webhook-signing-key"
	body := []byte(`{"challenge":"abc"}`)
	sig := expectedSignature(t, secret, "msg-1", "2024-01-01T00:00:00Z", body)

	assert.True(t, verifyWebhookSignature(secret, "msg-1", "2024-01-01T00:00:00Z", body, sig))
	assert.False(t, verifyWebhookSignature(secret, "msg-1", "2024-01-01T00:00:00Z", body, "sha256=deadbeef"))
	assert.False(t, verifyWebhookSignature("wrong-secret", "msg-1", "2024-01-01T00:00:00Z", body, sig))
	assert.False(t, verifyWebhookSignature(secret, "msg-2", "2024-01-01T00:00:00Z", body, sig))
}

func expectedSignature(t *testing.T, secret, messageID, timestamp string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestValidateCreateInterest(t *testing.T) {
	valid := map[string]any{
		"bot_id":         "bot-1",
		"event_type":     "channel.follow",
		"broadcaster_id": "12345",
		"transport":      "webhook",
	}
	assert.Equal(t, "", validateCreateInterest(valid))

	missingField := map[string]any{
		"bot_id":         "bot-1",
		"event_type":     "channel.follow",
		"broadcaster_id": "12345",
	}
	assert.NotEqual(t, "", validateCreateInterest(missingField))

	badTransport := map[string]any{
		"bot_id":         "bot-1",
		"event_type":     "channel.follow",
		"broadcaster_id": "12345",
		"transport":      "carrier-pigeon",
	}
	assert.NotEqual(t, "", validateCreateInterest(badTransport))
}

func TestToInterestResponse(t *testing.T) {
	now := time.Now().UTC()
	in := models.Interest{
		ID:               "i1",
		BotID:            "b1",
		EventType:        "channel.follow",
		BroadcasterID:    "123",
		Transport:        models.TransportWebhook,
		WebhookTargetURL: "https://example.com/hook",
		LastHeartbeat:    now,
	}
	resp := toInterestResponse(in)
	require.Equal(t, "i1", resp.ID)
	assert.Equal(t, "webhook", resp.Transport)
	assert.Equal(t, "https://example.com/hook", resp.WebhookTargetURL)
	assert.Nil(t, resp.StaleMarkedAt)
}

func TestToSubscriptionResponse(t *testing.T) {
	wsSub := models.Subscription{BotID: "b1", EventType: "channel.follow", BroadcasterID: "123", Status: "enabled", SessionID: "sess-1"}
	assert.Equal(t, "ws", toSubscriptionResponse(wsSub).Transport)

	webhookSub := models.Subscription{BotID: "b1", EventType: "channel.follow", BroadcasterID: "123", Status: "enabled"}
	assert.Equal(t, "webhook", toSubscriptionResponse(webhookSub).Transport)
}
