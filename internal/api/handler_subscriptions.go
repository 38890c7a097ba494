package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kwld/twitch-service/internal/catalog"
	"github.com/kwld/twitch-service/internal/models"
)

// handleListSubscriptions implements GET /v1/subscriptions: the upstream
// Subscription row backing each of the calling consumer's Interests (many
// Interests can share one Subscription; the response is deduplicated by key).
func (s *Server) handleListSubscriptions(c *gin.Context) {
	consumer, _ := currentConsumer(c)
	interests, err := s.store.Interests.ListByConsumer(c.Request.Context(), consumer.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	seen := make(map[models.InterestKey]bool)
	out := make([]subscriptionResponse, 0, len(interests))
	for _, in := range interests {
		key := in.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		sub, err := s.store.Subscriptions.Get(c.Request.Context(), key)
		if err != nil {
			continue
		}
		out = append(out, toSubscriptionResponse(sub))
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

// handleSubscriptionTransports implements GET /v1/subscriptions/transports:
// the upstream transport(s) each known event type accepts, so a consumer can
// decide what to request before calling POST /v1/interests.
func (s *Server) handleSubscriptionTransports(c *gin.Context) {
	entries := catalog.KnownEventTypes()
	out := make(map[string][]string, len(entries))
	for _, eventType := range entries {
		transports := catalog.SupportedTransports(eventType)
		names := make([]string, 0, len(transports))
		for _, t := range transports {
			names = append(names, string(t))
		}
		out[eventType] = names
	}
	c.JSON(http.StatusOK, gin.H{"transports": out})
}

func toSubscriptionResponse(sub models.Subscription) subscriptionResponse {
	transport := string(models.TransportWebhook)
	if sub.SessionID != "" {
		transport = string(models.TransportWS)
	}
	return subscriptionResponse{
		BotID:         sub.BotID,
		EventType:     sub.EventType,
		BroadcasterID: sub.BroadcasterID,
		Status:        sub.Status,
		Transport:     transport,
	}
}
