package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kwld/twitch-service/internal/wstoken"
)

// handleIssueWSToken implements POST /v1/ws-token: a short-lived,
// single-use token the caller trades for a downstream-WS connection at
// GET /ws/events, so the long-lived client-id/client-secret pair never
// appears in a URL query string.
func (s *Server) handleIssueWSToken(c *gin.Context) {
	consumer, _ := currentConsumer(c)

	token, err := s.tokens.Issue(consumer.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ttl := wstoken.DefaultTTL
	if s.cfg != nil && s.cfg.WSTokenTTL > 0 {
		ttl = s.cfg.WSTokenTTL
	}

	c.JSON(http.StatusCreated, wsTokenResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(ttl),
	})
}
