package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookOnlyEventTypes(t *testing.T) {
	for _, et := range []string{
		"drop.entitlement.grant",
		"extension.bits_transaction.create",
		"user.authorization.grant",
		"user.authorization.revoke",
	} {
		assert.True(t, IsWebhookOnly(et), et)
		assert.Equal(t, []Transport{TransportWebhook}, SupportedTransports(et), et)
	}
}

func TestOrdinaryEventSupportsBothTransports(t *testing.T) {
	transports := SupportedTransports("stream.online")
	assert.ElementsMatch(t, []Transport{TransportWebhook, TransportWebsocket}, transports)
}

func TestPreferredVersionPicksHighestNumeric(t *testing.T) {
	assert.Equal(t, "2", PreferredVersion("channel.moderate"))
	assert.Equal(t, "2", PreferredVersion("automod.message.hold"))
	assert.Equal(t, "1", PreferredVersion("stream.online"))
	assert.Equal(t, "1", PreferredVersion("unknown.event.type"))
}

func TestRequiresConditionSecondaryUserID(t *testing.T) {
	assert.True(t, RequiresConditionSecondaryUserID("channel.chat.message"))
	assert.True(t, RequiresConditionSecondaryUserID("channel.chat_settings.update"))
	assert.False(t, RequiresConditionSecondaryUserID("stream.online"))
}

func TestRequiredScopeGroups(t *testing.T) {
	groups := RequiredScopeGroups("channel.poll.begin")
	if assert.Len(t, groups, 1) {
		assert.True(t, groups[0]["channel:read:polls"])
		assert.True(t, groups[0]["channel:manage:polls"])
	}

	assert.Empty(t, RequiredScopeGroups("stream.online"))
}

func TestGuestStarEventTypesAreKnown(t *testing.T) {
	for _, et := range []string{
		"channel.guest_star_session.begin",
		"channel.guest_star_session.end",
		"channel.guest_star_guest.update",
		"channel.guest_star_settings.update",
	} {
		assert.True(t, IsKnown(et), et)
		assert.ElementsMatch(t, []Transport{TransportWebhook, TransportWebsocket}, SupportedTransports(et), et)
		// Non-numeric (beta) versions fall back to "1", matching the original
		// catalog's preferred_eventsub_version behavior.
		assert.Equal(t, "1", PreferredVersion(et), et)
	}
}

func TestNormalizeIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, "stream.online", Normalize("  Stream.Online  "))
	assert.True(t, IsKnown("STREAM.ONLINE"))
}
