package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/kwld/twitch-service/internal/models"
)

// handleAdminListConsumers implements GET /admin/consumers.
func (s *Server) handleAdminListConsumers(c *gin.Context) {
	consumers, err := s.store.Consumers.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]consumerResponse, 0, len(consumers))
	for _, cs := range consumers {
		out = append(out, toConsumerResponse(cs))
	}
	c.JSON(http.StatusOK, gin.H{"consumers": out})
}

// handleAdminCreateConsumer implements POST /admin/consumers. The client
// secret is generated server-side and returned once; only its bcrypt hash
// is persisted (credential hashing per §6's stable-utility-function
// contract, grounded on golang.org/x/crypto/bcrypt — already pulled
// transitively by the teacher's own dependency graph).
func (s *Server) handleAdminCreateConsumer(c *gin.Context) {
	var req createConsumerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, newError(kindValidation, "invalid request body"))
		return
	}
	if req.Name == "" {
		s.respondError(c, newError(kindValidation, "name is required"))
		return
	}

	credentialID, err := randomHex(16)
	if err != nil {
		s.respondError(c, err)
		return
	}
	secret, err := randomHex(32)
	if err != nil {
		s.respondError(c, err)
		return
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		s.respondError(c, err)
		return
	}

	created, err := s.store.Consumers.Create(c.Request.Context(), models.Consumer{
		Name:         req.Name,
		CredentialID: credentialID,
		HashedSecret: string(hashed),
		Enabled:      true,
	})
	if err != nil {
		s.respondError(c, newError(kindConflict, "consumer name already exists"))
		return
	}

	c.JSON(http.StatusCreated, createConsumerResponse{
		consumerResponse: toConsumerResponse(created),
		ClientSecret:     secret,
	})
}

// handleAdminDeleteConsumer implements DELETE /admin/consumers/{id}. The
// store cascades interests/authorizations/stats/traces (§3).
func (s *Server) handleAdminDeleteConsumer(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Consumers.GetByID(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.store.Consumers.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleAdminListBots implements GET /admin/bots.
func (s *Server) handleAdminListBots(c *gin.Context) {
	bots, err := s.store.Bots.List(c.Request.Context())
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

func toConsumerResponse(c models.Consumer) consumerResponse {
	return consumerResponse{ID: c.ID, Name: c.Name, CredentialID: c.CredentialID, Enabled: c.Enabled}
}

func toBotResponse(b models.Bot) botResponse {
	return botResponse{ID: b.ID, DisplayName: b.DisplayName, TwitchUserID: b.TwitchUserID, Login: b.Login, Enabled: b.Enabled}
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
