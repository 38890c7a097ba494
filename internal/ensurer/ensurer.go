// Package ensurer implements the Subscription Ensurer (§4.8): given a
// desired (bot, event-type, broadcaster) key, it brings upstream into
// conformance with "exactly one enabled subscription, bound to the chosen
// transport, using a fresh token/session". Grounded on the reconcile-loop
// idiom in the teacher's pkg/runbook engine (decide → verify → act →
// record), adapted to EventSub subscription lifecycle instead of runbook
// step execution.
package ensurer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kwld/twitch-service/internal/catalog"
	"github.com/kwld/twitch-service/internal/hub"
	"github.com/kwld/twitch-service/internal/metrics"
	"github.com/kwld/twitch-service/internal/models"
	"github.com/kwld/twitch-service/internal/registry"
	"github.com/kwld/twitch-service/internal/store"
	"github.com/kwld/twitch-service/internal/twitchapi"
)

// FailureReason classifies why Ensure could not bring a key into
// conformance, for the structured subscription.error envelope (§4.8).
type FailureReason string

const (
	ReasonMissingScope             FailureReason = "missing_scope"
	ReasonInsufficientPermissions  FailureReason = "insufficient_permissions"
	ReasonUnauthorized             FailureReason = "unauthorized"
	ReasonSubscriptionCreateFailed FailureReason = "subscription_create_failed"
)

// SessionProvider reports the Upstream-WS Session Machine's current
// session, so the Ensurer knows whether a websocket-transport subscription
// can be created right now, and lets the Ensurer clear a session id that
// upstream has reported as stale (§4.8 step 9).
type SessionProvider interface {
	CurrentSession() (sessionID string, connected bool)
	ClearSessionIfStale(sessionID string) bool
}

// DefaultCooldown matches subscription_error_cooldown's documented default.
const DefaultCooldown = time.Minute

// Config holds the Ensurer's upstream-webhook settings.
type Config struct {
	WebhookCallbackURL string
	WebhookSecret      string
	Cooldown           time.Duration
}

// Ensurer serializes all subscription-conformance work behind a single
// mutex — a serialization mutex, not a data mutex, so it is allowed to
// bridge upstream HTTP calls (§5).
type Ensurer struct {
	mu sync.Mutex

	store    *store.Client
	twitch   twitchapi.Client
	hub      *hub.Hub
	registry *registry.Registry
	session  SessionProvider
	cfg      Config
	now      func() time.Time
	log      *slog.Logger

	notifyMu   sync.Mutex
	lastNotify map[string]time.Time
}

// New builds an Ensurer.
func New(st *store.Client, twitch twitchapi.Client, h *hub.Hub, reg *registry.Registry, session SessionProvider, cfg Config, log *slog.Logger) *Ensurer {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ensurer{
		store:      st,
		twitch:     twitch,
		hub:        h,
		registry:   reg,
		session:    session,
		cfg:        cfg,
		now:        time.Now,
		log:        log,
		lastNotify: make(map[string]time.Time),
	}
}

// SetSession wires the session provider after construction, breaking the
// construction cycle with wsmachine.Machine, which itself needs an Ensurer
// to satisfy wsmachine.Ensurer.
func (e *Ensurer) SetSession(session SessionProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = session
}

// webhookConfigured reports whether both a callback URL and a secret are set.
func (e *Ensurer) webhookConfigured() bool {
	return e.cfg.WebhookCallbackURL != "" && e.cfg.WebhookSecret != ""
}

// Ensure brings key into conformance. Steps follow §4.8 exactly.
func (e *Ensurer) Ensure(ctx context.Context, key models.InterestKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Step 1: decide transport.
	transport := catalog.PreferredTransport(key.EventType, e.webhookConfigured())
	sessionID, connected := "", false
	if e.session != nil {
		sessionID, connected = e.session.CurrentSession()
	}
	if transport == catalog.TransportWebsocket && !connected {
		return nil
	}

	// Step 2: already conformant?
	existing, err := e.store.Subscriptions.Get(ctx, key)
	hasExisting := err == nil
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("ensurer: load existing subscription: %w", err)
	}
	if hasExisting && isEnabled(existing.Status) {
		if transport == catalog.TransportWebhook && existing.SessionID == "" {
			return nil
		}
		if transport == catalog.TransportWebsocket && existing.SessionID == sessionID {
			return nil
		}
	}

	// Step 3: tear down any stale row pointing at an upstream subscription.
	bot, err := e.store.Bots.GetByID(ctx, key.BotID)
	if err != nil {
		e.notifyFailure(ctx, key, transport, ReasonUnauthorized, "bot not found")
		return fmt.Errorf("ensurer: load bot: %w", err)
	}
	if hasExisting && existing.UpstreamSubscriptionID != "" {
		deleteToken := e.deleteToken(ctx, bot, transport)
		if derr := e.twitch.DeleteEventSubSubscription(ctx, deleteToken, existing.UpstreamSubscriptionID); derr != nil && !twitchapi.IsNotFound(derr) {
			e.notifyFailure(ctx, key, transport, ReasonSubscriptionCreateFailed, derr.Error())
			return fmt.Errorf("ensurer: delete stale subscription: %w", derr)
		}
	}

	// Step 4: bot must exist and be enabled.
	if !bot.Enabled {
		e.notifyFailure(ctx, key, transport, ReasonUnauthorized, "bot is disabled")
		return fmt.Errorf("ensurer: bot %s is disabled", bot.ID)
	}

	// Step 5: build condition.
	condition := map[string]string{"broadcaster_user_id": key.BroadcasterID}
	if catalog.RequiresConditionSecondaryUserID(key.EventType) {
		condition["user_id"] = bot.TwitchUserID
	}

	// Step 6: scope check.
	if reason, ok := e.checkScopes(ctx, bot, key); !ok {
		e.notifyFailure(ctx, key, transport, reason, "required scope group not satisfied")
		return fmt.Errorf("ensurer: scope check failed for %+v", key)
	}

	// Step 7: create.
	var td twitchapi.EventSubTransport
	token := bot.AccessToken
	if transport == catalog.TransportWebhook {
		td = twitchapi.EventSubTransport{Method: "webhook", Callback: e.cfg.WebhookCallbackURL, Secret: e.cfg.WebhookSecret}
	} else {
		td = twitchapi.EventSubTransport{Method: "websocket", SessionID: sessionID}
	}
	version := catalog.PreferredVersion(key.EventType)
	created, err := e.twitch.CreateEventSubSubscription(ctx, token, key.EventType, version, condition, td)
	if err != nil {
		if twitchapi.IsConflict(err) {
			created, err = e.findExisting(ctx, token, key, version, condition, td)
			if err != nil {
				e.notifyFailure(ctx, key, transport, ReasonSubscriptionCreateFailed, err.Error())
				return fmt.Errorf("ensurer: resolve 409 conflict: %w", err)
			}
		} else if isSessionStale(err) {
			// Step 9: clear session only if still the snapshot we used, so a
			// subsequent welcome retries.
			if e.session != nil {
				e.session.ClearSessionIfStale(sessionID)
			}
			return nil
		} else {
			e.notifyFailure(ctx, key, transport, ReasonSubscriptionCreateFailed, err.Error())
			return fmt.Errorf("ensurer: create subscription: %w", err)
		}
	}

	// Step 10: upsert local row.
	sub := models.Subscription{
		BotID:                  key.BotID,
		EventType:              key.EventType,
		BroadcasterID:          key.BroadcasterID,
		UpstreamSubscriptionID: created.ID,
		Status:                 created.Status,
		LastSeen:               e.now(),
	}
	if transport == catalog.TransportWebsocket {
		sub.SessionID = sessionID
	}
	if err := e.store.Subscriptions.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("ensurer: persist subscription: %w", err)
	}
	metrics.EnsureAttemptsTotal.WithLabelValues("success").Inc()
	return nil
}

func (e *Ensurer) deleteToken(ctx context.Context, bot models.Bot, transport catalog.Transport) string {
	if transport == catalog.TransportWebsocket {
		return bot.AccessToken
	}
	if token, err := e.twitch.AppAccessToken(ctx); err == nil {
		return token
	}
	return bot.AccessToken
}

func (e *Ensurer) findExisting(ctx context.Context, token string, key models.InterestKey, version string, condition map[string]string, td twitchapi.EventSubTransport) (twitchapi.EventSubSubscription, error) {
	subs, err := e.twitch.ListEventSubSubscriptions(ctx, token)
	if err != nil {
		return twitchapi.EventSubSubscription{}, err
	}
	for _, s := range subs {
		if s.Type != key.EventType || s.Condition["broadcaster_user_id"] != key.BroadcasterID {
			continue
		}
		if s.Transport.Method != td.Method {
			continue
		}
		return s, nil
	}
	return twitchapi.EventSubSubscription{}, fmt.Errorf("no matching upstream subscription found after 409")
}

func (e *Ensurer) checkScopes(ctx context.Context, bot models.Bot, key models.InterestKey) (FailureReason, bool) {
	groups := catalog.RequiredScopeGroups(key.EventType)
	if len(groups) == 0 {
		return "", true
	}
	if key.BroadcasterID == bot.TwitchUserID {
		validated, err := e.twitch.ValidateUserToken(ctx, bot.AccessToken)
		if err != nil {
			return ReasonUnauthorized, false
		}
		auth := models.BroadcasterAuthorization{Scopes: validated.Scopes}
		if auth.HasAllOf(groups) {
			return "", true
		}
		return ReasonMissingScope, false
	}
	auths, err := e.store.Authorizations.ListByBotBroadcaster(ctx, bot.ID, key.BroadcasterID)
	if err != nil {
		return ReasonInsufficientPermissions, false
	}
	for _, a := range auths {
		if a.HasAllOf(groups) {
			return "", true
		}
	}
	return ReasonInsufficientPermissions, false
}

func (e *Ensurer) notifyFailure(ctx context.Context, key models.InterestKey, transport catalog.Transport, reason FailureReason, detail string) {
	metrics.EnsureAttemptsTotal.WithLabelValues(string(reason)).Inc()
	throttleKey := fmt.Sprintf("%s|%s|%s|%s", key.BotID, key.EventType, key.BroadcasterID, reason)
	e.notifyMu.Lock()
	last, seen := e.lastNotify[throttleKey]
	if seen && e.now().Sub(last) < e.cfg.Cooldown {
		e.notifyMu.Unlock()
		return
	}
	e.lastNotify[throttleKey] = e.now()
	e.notifyMu.Unlock()

	event := map[string]any{
		"error_code":          string(reason),
		"hint":                hintFor(reason),
		"reason":              detail,
		"event_type":          key.EventType,
		"broadcaster_user_id": key.BroadcasterID,
		"bot_account_id":      key.BotID,
		"upstream_transport":  string(transport),
	}
	env := hub.NewServiceEnvelope(newMessageID(), "subscription.error", event)

	if e.registry == nil || e.hub == nil {
		return
	}
	for _, in := range e.registry.Interested(key) {
		switch in.Transport {
		case models.TransportWS:
			e.hub.PublishWS(ctx, in.ConsumerID, env)
		case models.TransportWebhook:
			if err := e.hub.PublishWebhook(ctx, in.ConsumerID, in.WebhookTargetURL, env); err != nil {
				e.log.Warn("failed to deliver subscription.error to webhook consumer",
					"consumer_id", in.ConsumerID, "error", err)
			}
		}
	}
}

func hintFor(reason FailureReason) string {
	switch reason {
	case ReasonMissingScope:
		return "the bot's own token is missing a required scope"
	case ReasonInsufficientPermissions:
		return "no broadcaster authorization on file grants the required scope"
	case ReasonUnauthorized:
		return "the bot is disabled or its token failed validation"
	default:
		return "subscription creation failed upstream"
	}
}

func isEnabled(status string) bool {
	return len(status) >= len("enabled") && status[:len("enabled")] == "enabled"
}

func isSessionStale(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "session does not exist", "already disconnected")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

var messageIDCounter uint64
var messageIDMu sync.Mutex

// newMessageID mints an id for internally synthesized envelopes. Not a
// cryptographic id — just needs to be unique enough for tracing.
func newMessageID() string {
	messageIDMu.Lock()
	defer messageIDMu.Unlock()
	messageIDCounter++
	return fmt.Sprintf("svc-%d-%d", time.Now().UnixNano(), messageIDCounter)
}
