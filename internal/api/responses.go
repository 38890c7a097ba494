package api

import "time"

// Response bodies. Grounded on the teacher's responses.go DTO style
// (pkg/api/responses.go): flat structs, json tags, no envelope wrapper.

type consumerResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CredentialID string `json:"credential_id"`
	Enabled      bool   `json:"enabled"`
}

// createConsumerResponse additionally carries the plaintext client secret —
// returned exactly once, at creation time, since only the bcrypt hash is
// persisted thereafter.
type createConsumerResponse struct {
	consumerResponse
	ClientSecret string `json:"client_secret"`
}

type botResponse struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	TwitchUserID string `json:"twitch_user_id"`
	Login        string `json:"login"`
	Enabled      bool   `json:"enabled"`
}

type interestResponse struct {
	ID               string     `json:"id"`
	BotID            string     `json:"bot_id"`
	EventType        string     `json:"event_type"`
	BroadcasterID    string     `json:"broadcaster_id"`
	Transport        string     `json:"transport"`
	WebhookTargetURL string     `json:"webhook_target_url,omitempty"`
	LastHeartbeat    time.Time  `json:"last_heartbeat"`
	StaleMarkedAt    *time.Time `json:"stale_marked_at,omitempty"`
}

type subscriptionResponse struct {
	BotID         string `json:"bot_id"`
	EventType     string `json:"event_type"`
	BroadcasterID string `json:"broadcaster_id"`
	Status        string `json:"status"`
	Transport     string `json:"transport"`
}

type subscriptionTypeResponse struct {
	EventType string `json:"event_type"`
	Version   string `json:"version"`
	Title     string `json:"title"`
}

type wsTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
