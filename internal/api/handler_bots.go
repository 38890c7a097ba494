package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleAccessibleBots implements GET /v1/bots/accessible. Every enabled
// bot is accessible to every consumer for its own self-scoped events (no
// BroadcasterAuthorization row is required when broadcaster-id equals the
// bot's own twitch-user-id — see ensurer.checkScopes); third-party
// broadcaster scopes are gated by BroadcasterAuthorization at Ensure time,
// not at discovery time. Recorded as an Open Question decision in
// DESIGN.md.
func (s *Server) handleAccessibleBots(c *gin.Context) {
	bots, err := s.store.Bots.ListEnabled(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]botResponse, 0, len(bots))
	for _, b := range bots {
		out = append(out, toBotResponse(b))
	}
	c.JSON(http.StatusOK, gin.H{"bots": out})
}
