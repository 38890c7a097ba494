package api

// Request bodies for the consumer-auth and admin surfaces. Flat structs
// with json tags, grounded on the teacher's requests.go DTO style
// (pkg/api/requests.go).

type createConsumerRequest struct {
	Name string `json:"name"`
}

type createInterestRequest struct {
	BotID            string `json:"bot_id"`
	EventType        string `json:"event_type"`
	BroadcasterID    string `json:"broadcaster_id"`
	Transport        string `json:"transport"`
	WebhookTargetURL string `json:"webhook_target_url"`
}
