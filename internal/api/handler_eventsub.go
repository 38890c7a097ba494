package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kwld/twitch-service/internal/catalog"
)

// handleActiveEventSubSubscriptions implements
// GET /v1/eventsub/subscriptions/active?refresh=bool. With refresh=true, it
// runs the Reconciler synchronously before reading back the Subscription
// table, so the response reflects upstream's current truth rather than the
// last background reconcile.
func (s *Server) handleActiveEventSubSubscriptions(c *gin.Context) {
	if c.Query("refresh") == "true" && s.reconcile != nil {
		if err := s.reconcile.Run(c.Request.Context()); err != nil {
			s.respondError(c, newError(kindUpstream, "reconcile failed: "+err.Error()))
			return
		}
	}

	subs, err := s.store.Subscriptions.ListAll(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub))
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

// handleEventSubSubscriptionTypes implements
// GET /v1/eventsub/subscription-types: the static catalog of event types a
// consumer may request an Interest for.
func (s *Server) handleEventSubSubscriptionTypes(c *gin.Context) {
	eventTypes := catalog.KnownEventTypes()
	out := make([]subscriptionTypeResponse, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		out = append(out, subscriptionTypeResponse{
			EventType: eventType,
			Version:   catalog.PreferredVersion(eventType),
			Title:     eventType,
		})
	}
	c.JSON(http.StatusOK, gin.H{"subscription_types": out})
}
