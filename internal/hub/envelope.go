package hub

import "time"

// Envelope is the canonical wire shape delivered to consumers, §6. The
// upstream event object travels unmodified (P8); only the outer fields are
// added by the bridge.
type Envelope struct {
	ID               string         `json:"id"`
	Provider         string         `json:"provider"`
	Type             string         `json:"type"`
	EventTimestamp   string         `json:"event_timestamp"`
	Event            map[string]any `json:"event"`
	TwitchChatAssets map[string]any `json:"twitch_chat_assets,omitempty"`
}

// ProviderTwitch and ProviderService distinguish pass-through upstream
// envelopes from internally synthesized ones (subscription.error,
// interest.rejected).
const (
	ProviderTwitch  = "twitch"
	ProviderService = "twitch-service"
)

// NewUpstreamEnvelope builds the envelope for a notification relayed from
// upstream, unmodified except for the outer fields.
func NewUpstreamEnvelope(id, eventType string, event map[string]any) Envelope {
	return Envelope{
		ID:             id,
		Provider:       ProviderTwitch,
		Type:           eventType,
		EventTimestamp: time.Now().UTC().Format(time.RFC3339),
		Event:          event,
	}
}

// NewServiceEnvelope builds an internally synthesized envelope such as
// subscription.error or interest.rejected.
func NewServiceEnvelope(id, eventType string, event map[string]any) Envelope {
	return Envelope{
		ID:             id,
		Provider:       ProviderService,
		Type:           eventType,
		EventTimestamp: time.Now().UTC().Format(time.RFC3339),
		Event:          event,
	}
}
