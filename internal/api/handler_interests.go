package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kwld/twitch-service/internal/catalog"
	"github.com/kwld/twitch-service/internal/models"
	"github.com/kwld/twitch-service/internal/normalize"
	"github.com/kwld/twitch-service/internal/store"
)

// handleListInterests implements GET /v1/interests: every interest the
// calling consumer currently owns.
func (s *Server) handleListInterests(c *gin.Context) {
	consumer, _ := currentConsumer(c)
	interests, err := s.store.Interests.ListByConsumer(c.Request.Context(), consumer.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]interestResponse, 0, len(interests))
	for _, in := range interests {
		out = append(out, toInterestResponse(in))
	}
	c.JSON(http.StatusOK, gin.H{"interests": out})
}

// handleCreateInterest implements POST /v1/interests. Steps follow the
// canonical 7-step handler shape grounded on the teacher's handler_alert.go:
// bind, schema-validate, business-validate, transform, call domain layer,
// map errors, respond.
func (s *Server) handleCreateInterest(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.respondError(c, newError(kindValidation, "unreadable request body"))
		return
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.respondError(c, newError(kindValidation, "body is not valid JSON"))
		return
	}
	if msg := validateCreateInterest(doc); msg != "" {
		s.respondError(c, newError(kindValidation, msg))
		return
	}

	var req createInterestRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.respondError(c, newError(kindValidation, "body does not match the expected shape"))
		return
	}

	ctx := c.Request.Context()
	consumer, _ := currentConsumer(c)

	if !catalog.IsKnown(req.EventType) {
		s.respondError(c, newError(kindValidation, "unknown event_type"))
		return
	}

	legacyToken := normalize.ExtractToken(req.BroadcasterID)
	broadcasterID, err := normalize.ResolveBroadcasterID(ctx, s.twitch, req.BroadcasterID)
	if err != nil {
		s.respondError(c, newError(kindValidation, "broadcaster_id could not be resolved: "+err.Error()))
		return
	}

	bot, err := s.store.Bots.GetByID(ctx, req.BotID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !bot.Enabled {
		s.respondError(c, newError(kindConflict, "bot is disabled"))
		return
	}

	transport := models.Transport(req.Transport)
	webhookURL := ""
	if transport == models.TransportWebhook {
		if req.WebhookTargetURL == "" {
			s.respondError(c, newError(kindValidation, "webhook_target_url is required for webhook transport"))
			return
		}
		if s.webhookV != nil {
			if err := s.webhookV.Validate(ctx, req.WebhookTargetURL); err != nil {
				s.respondError(c, newError(kindValidation, err.Error()))
				return
			}
		}
		webhookURL = req.WebhookTargetURL
	}

	// B3: a change of normalized broadcaster id merges any rows still keyed
	// under the pre-normalization token into the resolved id.
	if legacyToken != "" && legacyToken != broadcasterID {
		s.mergeLegacyBroadcasterID(ctx, consumer.ID, bot.ID, legacyToken, broadcasterID)
	}

	now := time.Now().UTC()
	created, err := s.store.Interests.Create(ctx, models.Interest{
		ConsumerID:       consumer.ID,
		BotID:            bot.ID,
		EventType:        catalog.Normalize(req.EventType),
		BroadcasterID:    broadcasterID,
		Transport:        transport,
		WebhookTargetURL: webhookURL,
		LastHeartbeat:    now,
		CreatedAt:        now,
	})
	if err != nil {
		s.respondError(c, newError(kindConflict, "an identical interest already exists"))
		return
	}

	key := s.registry.Add(created)
	if s.ensurer != nil {
		if err := s.ensurer.Ensure(ctx, key); err != nil && s.log != nil {
			s.log.Warn("api: ensure after interest create", "key", key, "error", err)
		}
	}

	c.JSON(http.StatusCreated, toInterestResponse(created))
}

// handleDeleteInterest implements DELETE /v1/interests/{id}.
func (s *Server) handleDeleteInterest(c *gin.Context) {
	consumer, _ := currentConsumer(c)
	id := c.Param("id")

	in, ok := s.registry.Get(id)
	if !ok {
		s.respondError(c, newError(kindNotFound, "interest not found"))
		return
	}
	if in.ConsumerID != consumer.ID {
		s.respondError(c, newError(kindNotFound, "interest not found"))
		return
	}

	if err := s.store.Interests.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	key, stillUsed := s.registry.Remove(id)
	if s.remover != nil {
		s.remover.OnInterestRemoved(c.Request.Context(), key, stillUsed)
	}
	c.Status(http.StatusNoContent)
}

// handleHeartbeatOne implements POST /v1/interests/{id}/heartbeat.
func (s *Server) handleHeartbeatOne(c *gin.Context) {
	consumer, _ := currentConsumer(c)
	id := c.Param("id")

	in, ok := s.registry.Get(id)
	if !ok || in.ConsumerID != consumer.ID {
		s.respondError(c, newError(kindNotFound, "interest not found"))
		return
	}

	now := time.Now().UTC()
	if err := s.store.Interests.Heartbeat(c.Request.Context(), id, now); err != nil {
		s.respondError(c, err)
		return
	}
	s.registry.UpdateHeartbeat(id, now)
	c.Status(http.StatusNoContent)
}

// handleHeartbeatAll implements POST /v1/interests/heartbeat: refreshes
// every interest belonging to the calling consumer in one call.
func (s *Server) handleHeartbeatAll(c *gin.Context) {
	consumer, _ := currentConsumer(c)
	now := time.Now().UTC()
	if err := s.store.Interests.HeartbeatAllForConsumer(c.Request.Context(), consumer.ID, now); err != nil {
		s.respondError(c, err)
		return
	}
	for _, in := range s.registry.All() {
		if in.ConsumerID == consumer.ID {
			s.registry.UpdateHeartbeat(in.ID, now)
		}
	}
	c.Status(http.StatusNoContent)
}

// mergeLegacyBroadcasterID folds rows still keyed under legacyID (a
// pre-normalization login or URL token once stored verbatim) into newID,
// the canonical numeric id B3 just resolved. Grounded on the original's
// legacy_interests/legacy_state handling in service_routes.py's
// create_interest handler: rows that would collide with an existing row
// under newID are dropped; everything else is rebound in place.
func (s *Server) mergeLegacyBroadcasterID(ctx context.Context, consumerID, botID, legacyID, newID string) {
	legacy, err := s.store.Interests.ListByConsumerBotBroadcaster(ctx, consumerID, botID, legacyID)
	if err != nil {
		if s.log != nil {
			s.log.Warn("api: list legacy interests for broadcaster-id merge", "error", err)
		}
		return
	}
	for _, in := range legacy {
		_, dupErr := s.store.Interests.FindExact(ctx, consumerID, botID, in.EventType, newID, in.Transport, in.WebhookTargetURL)
		switch dupErr {
		case nil:
			if err := s.store.Interests.Delete(ctx, in.ID); err != nil {
				if s.log != nil {
					s.log.Warn("api: delete duplicate legacy interest", "id", in.ID, "error", err)
				}
				continue
			}
			s.registry.Remove(in.ID)
		case store.ErrNotFound:
			if err := s.store.Interests.RebindBroadcasterID(ctx, in.ID, newID); err != nil {
				if s.log != nil {
					s.log.Warn("api: rebind legacy interest", "id", in.ID, "error", err)
				}
				continue
			}
			in.BroadcasterID = newID
			s.registry.Add(in)
		default:
			if s.log != nil {
				s.log.Warn("api: check legacy interest duplicate", "id", in.ID, "error", dupErr)
			}
		}
	}

	legacyState, err := s.store.ChannelStates.Get(ctx, botID, legacyID)
	if err != nil {
		return
	}
	if _, err := s.store.ChannelStates.Get(ctx, botID, newID); err == nil {
		if err := s.store.ChannelStates.Delete(ctx, botID, legacyID); err != nil && s.log != nil {
			s.log.Warn("api: delete duplicate legacy channel state", "error", err)
		}
		return
	} else if err != store.ErrNotFound {
		if s.log != nil {
			s.log.Warn("api: check legacy channel state duplicate", "error", err)
		}
		return
	}
	legacyState.BroadcasterID = newID
	if err := s.store.ChannelStates.Upsert(ctx, legacyState); err != nil {
		if s.log != nil {
			s.log.Warn("api: rebind legacy channel state", "error", err)
		}
		return
	}
	if err := s.store.ChannelStates.Delete(ctx, botID, legacyID); err != nil && s.log != nil {
		s.log.Warn("api: delete stale legacy channel state row after rebind", "error", err)
	}
}

func toInterestResponse(in models.Interest) interestResponse {
	return interestResponse{
		ID:               in.ID,
		BotID:            in.BotID,
		EventType:        in.EventType,
		BroadcasterID:    in.BroadcasterID,
		Transport:        string(in.Transport),
		WebhookTargetURL: in.WebhookTargetURL,
		LastHeartbeat:    in.LastHeartbeat,
		StaleMarkedAt:    in.StaleMarkedAt,
	}
}
