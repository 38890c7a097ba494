// Package catalog is the static, process-wide table of Twitch EventSub
// event types: preferred protocol version, which upstream transports accept
// the type, whether its condition needs a secondary user id, and which
// authorization scopes a broadcaster grant must cover.
//
// Grounded on the original Python implementation's app/eventsub_catalog.py:
// pure data plus a handful of pure functions, no state, no side effects.
package catalog

import (
	"strconv"
	"strings"
)

// Transport is an upstream EventSub delivery transport.
type Transport string

const (
	TransportWebhook   Transport = "webhook"
	TransportWebsocket Transport = "websocket"
)

// Entry describes one (event_type, version) pair known to the catalog.
type Entry struct {
	Title       string
	EventType   string
	Version     string
	Description string
}

// catalogEntries mirrors EVENTSUB_CATALOG. Kept as a literal table, not a
// generated one: it changes only when Twitch ships a new subscription type.
var catalogEntries = []Entry{
	{"Automod Message Hold", "automod.message.hold", "1", "Message caught by AutoMod."},
	{"Automod Message Hold V2", "automod.message.hold", "2", "Message caught by AutoMod (public blocked terms only)."},
	{"Automod Message Update", "automod.message.update", "1", "AutoMod queue message status changed."},
	{"Automod Message Update V2", "automod.message.update", "2", "AutoMod queue message status changed (public blocked terms only)."},
	{"Automod Settings Update", "automod.settings.update", "1", "Broadcaster AutoMod settings updated."},
	{"Automod Terms Update", "automod.terms.update", "1", "Broadcaster AutoMod terms updated."},
	{"Channel Bits Use", "channel.bits.use", "1", "Bits used on channel."},
	{"Channel Update", "channel.update", "2", "Channel metadata updated."},
	{"Channel Follow", "channel.follow", "2", "User followed channel."},
	{"Channel Ad Break Begin", "channel.ad_break.begin", "1", "Ad break started."},
	{"Channel Chat Clear", "channel.chat.clear", "1", "Chat room messages cleared."},
	{"Channel Chat Clear User Messages", "channel.chat.clear_user_messages", "1", "Specific user chat messages cleared."},
	{"Channel Chat Message", "channel.chat.message", "1", "Chat message sent."},
	{"Channel Chat Message Delete", "channel.chat.message_delete", "1", "Specific chat message deleted."},
	{"Channel Chat Notification", "channel.chat.notification", "1", "Chat UI notification event occurred."},
	{"Channel Chat Settings Update", "channel.chat_settings.update", "1", "Chat settings updated."},
	{"Channel Chat User Message Hold", "channel.chat.user_message_hold", "1", "User message held by AutoMod."},
	{"Channel Chat User Message Update", "channel.chat.user_message_update", "1", "Held user message moderation state changed."},
	{"Channel Shared Chat Session Begin", "channel.shared_chat.begin", "1", "Channel joined a shared chat session."},
	{"Channel Shared Chat Session Update", "channel.shared_chat.update", "1", "Shared chat session changed."},
	{"Channel Shared Chat Session End", "channel.shared_chat.end", "1", "Channel left shared chat session."},
	{"Channel Subscribe", "channel.subscribe", "1", "New subscription."},
	{"Channel Subscription End", "channel.subscription.end", "1", "Subscription ended."},
	{"Channel Subscription Gift", "channel.subscription.gift", "1", "Gift subscription sent."},
	{"Channel Subscription Message", "channel.subscription.message", "1", "Resubscription chat message."},
	{"Channel Cheer", "channel.cheer", "1", "Bits cheer event."},
	{"Channel Raid", "channel.raid", "1", "Channel raid event."},
	{"Channel Ban", "channel.ban", "1", "User banned."},
	{"Channel Unban", "channel.unban", "1", "User unbanned."},
	{"Channel Unban Request Create", "channel.unban_request.create", "1", "Unban request created."},
	{"Channel Unban Request Resolve", "channel.unban_request.resolve", "1", "Unban request resolved."},
	{"Channel Moderate", "channel.moderate", "1", "Moderation action."},
	{"Channel Moderate V2", "channel.moderate", "2", "Moderation action (includes warnings)."},
	{"Channel Moderator Add", "channel.moderator.add", "1", "Moderator added."},
	{"Channel Moderator Remove", "channel.moderator.remove", "1", "Moderator removed."},
	{"Channel Guest Star Session Begin", "channel.guest_star_session.begin", "beta", "Guest Star session started."},
	{"Channel Guest Star Session End", "channel.guest_star_session.end", "beta", "Guest Star session ended."},
	{"Channel Guest Star Guest Update", "channel.guest_star_guest.update", "beta", "Guest Star guest/slot updated."},
	{"Channel Guest Star Settings Update", "channel.guest_star_settings.update", "beta", "Guest Star settings updated."},
	{"Channel Points Automatic Reward Redemption Add", "channel.channel_points_automatic_reward_redemption.add", "1", "Automatic reward redeemed."},
	{"Channel Points Automatic Reward Redemption Add V2", "channel.channel_points_automatic_reward_redemption.add", "2", "Automatic reward redeemed."},
	{"Channel Points Custom Reward Add", "channel.channel_points_custom_reward.add", "1", "Custom reward created."},
	{"Channel Points Custom Reward Update", "channel.channel_points_custom_reward.update", "1", "Custom reward updated."},
	{"Channel Points Custom Reward Remove", "channel.channel_points_custom_reward.remove", "1", "Custom reward removed."},
	{"Channel Points Custom Reward Redemption Add", "channel.channel_points_custom_reward_redemption.add", "1", "Custom reward redeemed."},
	{"Channel Points Custom Reward Redemption Update", "channel.channel_points_custom_reward_redemption.update", "1", "Custom reward redemption updated."},
	{"Channel Poll Begin", "channel.poll.begin", "1", "Poll started."},
	{"Channel Poll Progress", "channel.poll.progress", "1", "Poll vote update."},
	{"Channel Poll End", "channel.poll.end", "1", "Poll ended."},
	{"Channel Prediction Begin", "channel.prediction.begin", "1", "Prediction started."},
	{"Channel Prediction Progress", "channel.prediction.progress", "1", "Prediction vote update."},
	{"Channel Prediction Lock", "channel.prediction.lock", "1", "Prediction locked."},
	{"Channel Prediction End", "channel.prediction.end", "1", "Prediction ended."},
	{"Channel Suspicious User Message", "channel.suspicious_user.message", "1", "Suspicious user message sent."},
	{"Channel Suspicious User Update", "channel.suspicious_user.update", "1", "Suspicious user state updated."},
	{"Channel VIP Add", "channel.vip.add", "1", "VIP added."},
	{"Channel VIP Remove", "channel.vip.remove", "1", "VIP removed."},
	{"Channel Warning Acknowledge", "channel.warning.acknowledge", "1", "Warning acknowledged."},
	{"Channel Warning Send", "channel.warning.send", "1", "Warning sent."},
	{"Charity Donation", "channel.charity_campaign.donate", "1", "Charity donation made."},
	{"Charity Campaign Start", "channel.charity_campaign.start", "1", "Charity campaign started."},
	{"Charity Campaign Progress", "channel.charity_campaign.progress", "1", "Charity campaign progress update."},
	{"Charity Campaign Stop", "channel.charity_campaign.stop", "1", "Charity campaign stopped."},
	{"Conduit Shard Disabled", "conduit.shard.disabled", "1", "Conduit shard disabled."},
	{"Drop Entitlement Grant", "drop.entitlement.grant", "1", "Drop entitlement granted."},
	{"Extension Bits Transaction Create", "extension.bits_transaction.create", "1", "Extension Bits transaction."},
	{"Goal Begin", "channel.goal.begin", "1", "Goal started."},
	{"Goal Progress", "channel.goal.progress", "1", "Goal progress update."},
	{"Goal End", "channel.goal.end", "1", "Goal ended."},
	{"Hype Train Begin", "channel.hype_train.begin", "2", "Hype Train started."},
	{"Hype Train Progress", "channel.hype_train.progress", "2", "Hype Train progress."},
	{"Hype Train End", "channel.hype_train.end", "2", "Hype Train ended."},
	{"Shield Mode Begin", "channel.shield_mode.begin", "1", "Shield Mode enabled."},
	{"Shield Mode End", "channel.shield_mode.end", "1", "Shield Mode disabled."},
	{"Shoutout Create", "channel.shoutout.create", "1", "Shoutout sent."},
	{"Shoutout Receive", "channel.shoutout.receive", "1", "Shoutout received."},
	{"Stream Online", "stream.online", "1", "Stream started."},
	{"Stream Offline", "stream.offline", "1", "Stream stopped."},
	{"User Authorization Grant", "user.authorization.grant", "1", "User authorized client ID."},
	{"User Authorization Revoke", "user.authorization.revoke", "1", "User revoked client ID authorization."},
	{"User Update", "user.update", "1", "User account updated."},
	{"Whisper Received", "user.whisper.message", "1", "User received whisper."},
}

// webhookOnlyEventTypes cannot be delivered over upstream-WS per Twitch docs.
var webhookOnlyEventTypes = map[string]bool{
	"drop.entitlement.grant":            true,
	"extension.bits_transaction.create": true,
	"user.authorization.grant":          true,
	"user.authorization.revoke":         true,
}

var versionsByEventType = buildVersionIndex()

func buildVersionIndex() map[string][]string {
	idx := make(map[string][]string)
	for _, e := range catalogEntries {
		idx[e.EventType] = append(idx[e.EventType], e.Version)
	}
	return idx
}

// Normalize lower-cases and trims an event type the way the catalog keys
// everything on.
func Normalize(eventType string) string {
	return strings.ToLower(strings.TrimSpace(eventType))
}

// IsKnown reports whether eventType appears anywhere in the catalog.
func IsKnown(eventType string) bool {
	_, ok := versionsByEventType[Normalize(eventType)]
	return ok
}

// KnownEventTypes returns every distinct event type the catalog knows
// about, in catalogEntries order (duplicates across versions collapsed).
func KnownEventTypes() []string {
	seen := make(map[string]bool, len(catalogEntries))
	out := make([]string, 0, len(versionsByEventType))
	for _, e := range catalogEntries {
		if seen[e.EventType] {
			continue
		}
		seen[e.EventType] = true
		out = append(out, e.EventType)
	}
	return out
}

// SupportedTransports returns the upstream transports accepted for eventType.
func SupportedTransports(eventType string) []Transport {
	if webhookOnlyEventTypes[Normalize(eventType)] {
		return []Transport{TransportWebhook}
	}
	return []Transport{TransportWebhook, TransportWebsocket}
}

// IsWebhookOnly reports whether eventType must always use upstream-webhook.
func IsWebhookOnly(eventType string) bool {
	return webhookOnlyEventTypes[Normalize(eventType)]
}

// PreferredVersion returns the highest numeric stable version known for
// eventType, defaulting to "1" when the type is unrecognized or its only
// versions are non-numeric (e.g. "beta").
func PreferredVersion(eventType string) string {
	versions := versionsByEventType[Normalize(eventType)]
	best := -1
	for _, v := range versions {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return "1"
	}
	return strconv.Itoa(best)
}

// RequiresConditionSecondaryUserID reports whether the condition for
// eventType must include a secondary user_id alongside broadcaster_user_id
// (true for channel.chat.* and channel.chat_settings.update).
func RequiresConditionSecondaryUserID(eventType string) bool {
	normalized := Normalize(eventType)
	return strings.HasPrefix(normalized, "channel.chat.") || normalized == "channel.chat_settings.update"
}

// RequiredScopeGroups returns the list of scope sets required for eventType;
// a token satisfies the requirement when it holds at least one scope from
// every group in the list. An empty list means no additional scope beyond
// the base Helix read scope is required.
func RequiredScopeGroups(eventType string) []map[string]bool {
	normalized := Normalize(eventType)
	switch {
	case strings.HasPrefix(normalized, "channel.channel_points_custom_reward"):
		return []map[string]bool{toSet("channel:read:redemptions", "channel:manage:redemptions")}
	case strings.HasPrefix(normalized, "channel.poll."):
		return []map[string]bool{toSet("channel:read:polls", "channel:manage:polls")}
	case strings.HasPrefix(normalized, "channel.prediction."):
		return []map[string]bool{toSet("channel:read:predictions", "channel:manage:predictions")}
	case strings.HasPrefix(normalized, "channel.goal."):
		return []map[string]bool{toSet("channel:read:goals")}
	case strings.HasPrefix(normalized, "channel.charity_campaign."):
		return []map[string]bool{toSet("channel:read:charity")}
	case normalized == "channel.ad_break.begin":
		return []map[string]bool{toSet("channel:read:ads")}
	case strings.HasPrefix(normalized, "channel.hype_train."):
		return []map[string]bool{toSet("channel:read:hype_train")}
	default:
		return nil
	}
}

// RecommendedBroadcasterScopes returns the scope set a broadcaster
// authorization grant should record for eventType (best-effort hint used by
// the authorization flow; the Ensurer still validates via RequiredScopeGroups).
func RecommendedBroadcasterScopes(eventType string) map[string]bool {
	groups := RequiredScopeGroups(eventType)
	if len(groups) == 0 {
		return map[string]bool{}
	}
	// Picks the first group's "read" scope; when the group has none (or
	// several), the lexicographically smallest candidate wins.
	pick := ""
	for scope := range groups[0] {
		isRead := strings.Contains(scope, ":read:")
		pickIsRead := strings.Contains(pick, ":read:")
		if pick == "" || (isRead && !pickIsRead) || (isRead == pickIsRead && scope < pick) {
			pick = scope
		}
	}
	return map[string]bool{pick: true}
}

func toSet(scopes ...string) map[string]bool {
	out := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		out[s] = true
	}
	return out
}

// PreferredTransport decides which upstream transport a given event type
// should currently be bound to (§4.8 step 1, §4.6 step 3's transport-match
// check): upstream-webhook when one is configured, unless the event type is
// websocket-only-ineligible... in practice every type accepts websocket
// except the webhook-only set, so the rule is: webhook-only types always
// use webhook; otherwise webhook wins when configured, else websocket.
func PreferredTransport(eventType string, webhookConfigured bool) Transport {
	if IsWebhookOnly(eventType) {
		return TransportWebhook
	}
	if webhookConfigured {
		return TransportWebhook
	}
	return TransportWebsocket
}
