package ensurer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwld/twitch-service/internal/hub"
	"github.com/kwld/twitch-service/internal/models"
	"github.com/kwld/twitch-service/internal/registry"
	"github.com/kwld/twitch-service/internal/twitchapi"
)

type fixedSession struct {
	id        string
	connected bool
	cleared   *[]string
}

func (f fixedSession) CurrentSession() (string, bool) { return f.id, f.connected }

func (f fixedSession) ClearSessionIfStale(sessionID string) bool {
	if f.cleared == nil || sessionID != f.id {
		return false
	}
	*f.cleared = append(*f.cleared, sessionID)
	return true
}

func TestEnsureReturnsWhenWebsocketTransportHasNoSession(t *testing.T) {
	twitch := twitchapi.NewFake()
	e := New(nil, twitch, hub.New(), registry.New(), fixedSession{connected: false}, Config{}, nil)

	err := e.Ensure(context.Background(), models.InterestKey{BotID: "b1", EventType: "stream.online", BroadcasterID: "123"})
	assert.NoError(t, err)
	assert.Equal(t, 0, twitch.CallCount("CreateEventSubSubscription"))
}

func TestIsEnabledChecksStatusPrefix(t *testing.T) {
	assert.True(t, isEnabled("enabled"))
	assert.True(t, isEnabled("enabled_webhook_callback_verification_pending"))
	assert.False(t, isEnabled("disabled"))
	assert.False(t, isEnabled(""))
}

func TestIsSessionStaleDetectsKnownMessages(t *testing.T) {
	assert.True(t, isSessionStale(errSessionDoesNotExist{}))
	assert.False(t, isSessionStale(nil))
}

type errSessionDoesNotExist struct{}

func (errSessionDoesNotExist) Error() string { return "session does not exist" }

func TestNotifyFailureThrottlesPerKeyAndReason(t *testing.T) {
	reg := registry.New()
	reg.Add(models.Interest{ID: "i1", ConsumerID: "c1", BotID: "b1", EventType: "stream.online", BroadcasterID: "123", Transport: models.TransportWS})

	h := hub.New()
	e := New(nil, twitchapi.NewFake(), h, reg, fixedSession{}, Config{}, nil)

	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixedNow }

	key := models.InterestKey{BotID: "b1", EventType: "stream.online", BroadcasterID: "123"}
	e.notifyFailure(context.Background(), key, "websocket", ReasonUnauthorized, "x")
	require.Equal(t, 1, len(e.lastNotify))

	// Second call within the cooldown window leaves a single throttle entry.
	e.notifyFailure(context.Background(), key, "websocket", ReasonUnauthorized, "x")
	assert.Equal(t, 1, len(e.lastNotify))

	// Advancing past the cooldown allows another send.
	e.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	e.notifyFailure(context.Background(), key, "websocket", ReasonUnauthorized, "x")
	assert.True(t, e.lastNotify[keyFor(key, ReasonUnauthorized)].After(fixedNow))
}

func keyFor(key models.InterestKey, reason FailureReason) string {
	return key.BotID + "|" + key.EventType + "|" + key.BroadcasterID + "|" + string(reason)
}
