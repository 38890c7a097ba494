// Package pipeline implements the Notification Pipeline (§4.9): the single
// entry point every upstream notification (from either the Session Machine
// or the webhook-ingress handler) flows through on its way to interested
// consumers. Grounded on the teacher's pkg/queue dispatch-and-fan-out
// worker, adapted from a generic job queue to the bot/interest/transport
// resolution steps this domain requires.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kwld/twitch-service/internal/catalog"
	"github.com/kwld/twitch-service/internal/hub"
	"github.com/kwld/twitch-service/internal/metrics"
	"github.com/kwld/twitch-service/internal/models"
	"github.com/kwld/twitch-service/internal/redact"
	"github.com/kwld/twitch-service/internal/registry"
	"github.com/kwld/twitch-service/internal/store"
)

// IncomingTransport names where a notification arrived from.
type IncomingTransport string

const (
	TransportUpstreamWS      IncomingTransport = "upstream-ws"
	TransportUpstreamWebhook IncomingTransport = "upstream-webhook"
)

// DefaultFanoutConcurrency matches fanout_concurrency's documented default.
const DefaultFanoutConcurrency = 32

// ChatAssetEnricher is the subset of chatassets.Cache the Pipeline needs.
type ChatAssetEnricher interface {
	EnrichChatEvent(ctx context.Context, broadcasterID string, event map[string]any) map[string]any
}

// InterestRemover tears down the upstream subscription and channel state for
// a key no longer used by anyone. Implemented by the wiring in cmd/bridge
// (reconciler+ensurer teardown), injected here to avoid an import cycle.
type InterestRemover interface {
	OnInterestRemoved(ctx context.Context, key models.InterestKey, stillUsedByOthers bool)
}

// Config configures the Pipeline's bounded fan-out.
type Config struct {
	FanoutConcurrency int
}

// Pipeline is the process-wide Notification Pipeline.
type Pipeline struct {
	store    *store.Client
	registry *registry.Registry
	hub      *hub.Hub
	chat     ChatAssetEnricher
	remover  InterestRemover
	redactor *redact.Service
	sem      chan struct{}
	log      *slog.Logger
	now      func() time.Time
}

// New builds a Pipeline.
func New(st *store.Client, reg *registry.Registry, h *hub.Hub, chat ChatAssetEnricher, remover InterestRemover, redactor *redact.Service, cfg Config, log *slog.Logger) *Pipeline {
	n := cfg.FanoutConcurrency
	if n <= 0 {
		n = DefaultFanoutConcurrency
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:    st,
		registry: reg,
		hub:      h,
		chat:     chat,
		remover:  remover,
		redactor: redactor,
		sem:      make(chan struct{}, n),
		log:      log,
		now:      time.Now,
	}
}

// notification mirrors the shape Twitch wraps around every notification
// frame/POST body: {subscription: {...}, event: {...}}.
type notification struct {
	Subscription struct {
		ID        string            `json:"id"`
		Type      string            `json:"type"`
		Condition map[string]string `json:"condition"`
	} `json:"subscription"`
	Event map[string]any `json:"event"`
}

// Handle runs the full algorithm (§4.9 steps 1-7) for one upstream
// notification payload.
func (p *Pipeline) Handle(ctx context.Context, payload map[string]any, messageID string, incoming IncomingTransport) error {
	n, err := decodeNotification(payload)
	if err != nil {
		return fmt.Errorf("pipeline: decode notification: %w", err)
	}

	// Step 1: authorization revoke disables the bot and stops.
	if n.Subscription.Type == "user.authorization.revoke" {
		return p.handleAuthorizationRevoke(ctx, n)
	}

	// Step 2: derive (event_type, broadcaster_user_id).
	eventType := n.Subscription.Type
	broadcasterID, _ := n.Event["broadcaster_user_id"].(string)
	if eventType == "" || broadcasterID == "" {
		return nil
	}

	// Step 3: resolve the owning bot.
	botID, ok := p.resolveBot(ctx, n)
	if !ok {
		return nil
	}

	key := models.InterestKey{BotID: botID, EventType: eventType, BroadcasterID: broadcasterID}
	interests := p.registry.Interested(key)

	// Step 4: incoming EventTrace per distinct consumer, best-effort.
	p.traceIncoming(ctx, interests, eventType, string(incoming), payload)

	// Step 5: build envelope; enrich channel.chat.* events.
	id := messageID
	if id == "" {
		id = n.Subscription.ID
	}
	env := hub.NewUpstreamEnvelope(id, eventType, n.Event)
	if isChatEventType(eventType) && p.chat != nil {
		if enriched := p.chat.EnrichChatEvent(ctx, broadcasterID, n.Event); len(enriched) > 0 {
			env.TwitchChatAssets = enriched
		}
	}

	// Step 6: channel liveness.
	p.updateChannelState(ctx, botID, broadcasterID, eventType, n.Event)

	// Step 7: bounded fan-out.
	p.fanOut(ctx, interests, env)
	return nil
}

func decodeNotification(payload map[string]any) (notification, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return notification{}, err
	}
	var n notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return notification{}, err
	}
	return n, nil
}

func isChatEventType(eventType string) bool {
	return len(eventType) >= len("channel.chat.") && eventType[:len("channel.chat.")] == "channel.chat."
}

func (p *Pipeline) handleAuthorizationRevoke(ctx context.Context, n notification) error {
	userID, _ := n.Event["user_id"].(string)
	if userID == "" {
		return nil
	}
	bot, err := p.store.Bots.GetByTwitchUserID(ctx, userID)
	if err != nil {
		return nil
	}
	if err := p.store.Bots.Disable(ctx, bot.ID); err != nil {
		return fmt.Errorf("pipeline: disable revoked bot: %w", err)
	}
	p.log.Info("disabled bot after authorization revoke", "bot_id", bot.ID, "twitch_user_id", userID)
	return nil
}

func (p *Pipeline) resolveBot(ctx context.Context, n notification) (string, bool) {
	if n.Subscription.ID != "" {
		if sub, err := p.store.Subscriptions.FindByUpstreamID(ctx, n.Subscription.ID); err == nil {
			return sub.BotID, true
		}
	}
	if catalog.RequiresConditionSecondaryUserID(n.Subscription.Type) {
		if userID := n.Subscription.Condition["user_id"]; userID != "" {
			if bot, err := p.store.Bots.GetByTwitchUserID(ctx, userID); err == nil {
				return bot.ID, true
			}
		}
	}
	if broadcasterID, _ := n.Event["broadcaster_user_id"].(string); broadcasterID != "" {
		if bot, err := p.store.Bots.GetByTwitchUserID(ctx, broadcasterID); err == nil {
			return bot.ID, true
		}
	}
	return "", false
}

func (p *Pipeline) traceIncoming(ctx context.Context, interests []models.Interest, eventType, transport string, payload map[string]any) {
	seen := make(map[string]bool)
	raw, _ := json.Marshal(payload)
	redacted := string(raw)
	if p.redactor != nil {
		redacted = p.redactor.Mask(redacted)
	}
	for _, in := range interests {
		if seen[in.ConsumerID] {
			continue
		}
		seen[in.ConsumerID] = true
		trace := models.EventTrace{
			Direction:       models.TraceIncoming,
			Transport:       transport,
			EventType:       eventType,
			Target:          in.ConsumerID,
			RedactedPayload: redacted,
			CreatedAt:       p.now(),
		}
		if err := p.store.EventTraces.Insert(ctx, trace); err != nil {
			p.log.Warn("pipeline: write incoming event trace", "consumer_id", in.ConsumerID, "error", err)
		}
	}
}

func (p *Pipeline) updateChannelState(ctx context.Context, botID, broadcasterID, eventType string, event map[string]any) {
	if eventType != "stream.online" && eventType != "stream.offline" {
		return
	}
	cs, err := p.store.ChannelStates.Get(ctx, botID, broadcasterID)
	if err != nil && err != store.ErrNotFound {
		p.log.Warn("pipeline: load channel state", "bot_id", botID, "broadcaster_id", broadcasterID, "error", err)
	}
	cs.BotID, cs.BroadcasterID = botID, broadcasterID
	cs.LastEventAt = p.now()
	if eventType == "stream.online" {
		cs.IsLive = true
		if startedAt, ok := event["started_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
				cs.StreamStartedAt = &t
			}
		}
	} else {
		cs.IsLive = false
		cs.StreamStartedAt = nil
	}
	if err := p.store.ChannelStates.Upsert(ctx, cs); err != nil {
		p.log.Warn("pipeline: persist channel state", "bot_id", botID, "broadcaster_id", broadcasterID, "error", err)
	}
}

func (p *Pipeline) fanOut(ctx context.Context, interests []models.Interest, env hub.Envelope) {
	timer := metrics.NewTimer()
	var wg sync.WaitGroup
	for _, in := range interests {
		in := in
		p.sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-p.sem }()
			p.deliverOne(ctx, in, env)
		}()
	}
	wg.Wait()
	metrics.DownstreamFanoutDuration.Observe(timer.Duration().Seconds())
}

func (p *Pipeline) deliverOne(ctx context.Context, in models.Interest, env hub.Envelope) {
	var deliveryErr error
	switch in.Transport {
	case models.TransportWS:
		p.hub.PublishWS(ctx, in.ConsumerID, env)
	case models.TransportWebhook:
		deliveryErr = p.hub.PublishWebhook(ctx, in.ConsumerID, in.WebhookTargetURL, env)
	}
	if deliveryErr != nil {
		p.log.Warn("pipeline: outgoing delivery failed", "consumer_id", in.ConsumerID, "error", deliveryErr)
	}

	raw, _ := json.Marshal(env)
	redacted := string(raw)
	if p.redactor != nil {
		redacted = p.redactor.Mask(redacted)
	}
	trace := models.EventTrace{
		Direction:       models.TraceOutgoing,
		Transport:       string(in.Transport),
		EventType:       env.Type,
		Target:          in.ConsumerID,
		RedactedPayload: redacted,
		CreatedAt:       p.now(),
	}
	if err := p.store.EventTraces.Insert(ctx, trace); err != nil {
		p.log.Warn("pipeline: write outgoing event trace", "consumer_id", in.ConsumerID, "error", err)
	}
}

// RejectInterestsForKey sends one interest.rejected envelope to every
// consumer interested in key, deletes those Interest rows, and invokes
// OnInterestRemoved so the caller can tear down the upstream subscription
// once nobody else references the key (§4.9's reject_interests_for_key).
func (p *Pipeline) RejectInterestsForKey(ctx context.Context, key models.InterestKey, reason string, transport string) {
	interests := p.registry.Interested(key)
	if len(interests) == 0 {
		return
	}
	event := map[string]any{
		"reason":              reason,
		"event_type":          key.EventType,
		"broadcaster_user_id": key.BroadcasterID,
		"bot_account_id":      key.BotID,
		"transport":           transport,
	}
	env := hub.NewServiceEnvelope(newRejectionID(), "interest.rejected", event)
	for _, in := range interests {
		switch in.Transport {
		case models.TransportWS:
			p.hub.PublishWS(ctx, in.ConsumerID, env)
		case models.TransportWebhook:
			_ = p.hub.PublishWebhook(ctx, in.ConsumerID, in.WebhookTargetURL, env)
		}
	}

	var stillUsed bool
	for _, in := range interests {
		_, stillUsed = p.registry.Remove(in.ID)
		if err := p.store.Interests.Delete(ctx, in.ID); err != nil {
			p.log.Warn("pipeline: delete rejected interest", "interest_id", in.ID, "error", err)
		}
	}
	if p.remover != nil {
		p.remover.OnInterestRemoved(ctx, key, stillUsed)
	}
}

var rejectionCounter uint64
var rejectionMu sync.Mutex

func newRejectionID() string {
	rejectionMu.Lock()
	defer rejectionMu.Unlock()
	rejectionCounter++
	return fmt.Sprintf("svc-reject-%d-%d", time.Now().UnixNano(), rejectionCounter)
}
