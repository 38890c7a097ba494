// Package reconciler implements the Reconciler (§4.6): it runs at startup,
// on every upstream-WS welcome, on administrative rebuild, and whenever an
// event may have invalidated subscription state, and brings the local
// Subscription table into agreement with what upstream actually holds.
// Grounded on the teacher's reconcile-then-converge idiom (pkg/runbook
// engine's plan/execute/verify loop), adapted from runbook steps to
// EventSub subscription rows.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kwld/twitch-service/internal/catalog"
	"github.com/kwld/twitch-service/internal/metrics"
	"github.com/kwld/twitch-service/internal/models"
	"github.com/kwld/twitch-service/internal/store"
	"github.com/kwld/twitch-service/internal/twitchapi"
)

// Ensurer is the subset of ensurer.Ensurer the Reconciler drives.
type Ensurer interface {
	Ensure(ctx context.Context, key models.InterestKey) error
}

// SessionProvider reports the Upstream-WS Session Machine's current state.
type SessionProvider interface {
	CurrentSession() (sessionID string, connected bool)
}

// DesiredKeys reports the full set of keys the Interest Registry currently
// wants subscriptions for.
type DesiredKeys interface {
	Keys() []models.InterestKey
}

// Config holds reconciler-wide settings that mirror the Ensurer's.
type Config struct {
	WebhookCallbackURL string
	WebhookSecret      string
}

// Reconciler is serialized by a single mutex against concurrent
// subscription-ensure calls (§4.6).
type Reconciler struct {
	mu sync.Mutex

	store   *store.Client
	twitch  twitchapi.Client
	ensurer Ensurer
	session SessionProvider
	desired DesiredKeys
	cfg     Config
	log     *slog.Logger
}

// New builds a Reconciler.
func New(st *store.Client, twitch twitchapi.Client, ens Ensurer, session SessionProvider, desired DesiredKeys, cfg Config, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: st, twitch: twitch, ensurer: ens, session: session, desired: desired, cfg: cfg, log: log}
}

// SetSession wires the session provider after construction, breaking the
// construction cycle with wsmachine.Machine, which itself needs a
// Reconciler to satisfy wsmachine.Reconciler.
func (r *Reconciler) SetSession(session SessionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = session
}

func (r *Reconciler) webhookConfigured() bool {
	return r.cfg.WebhookCallbackURL != "" && r.cfg.WebhookSecret != ""
}

// merged is one upstream subscription annotated with the local bot it was
// matched to, carried through steps 3-6 of the algorithm.
type merged struct {
	sub   twitchapi.EventSubSubscription
	botID string
}

// Run executes the full algorithm (§4.6 steps 1-7).
func (r *Reconciler) Run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		metrics.ReconcileDuration.Observe(timer.Duration().Seconds())
		metrics.ReconcileRunsTotal.Inc()
	}()

	bots, err := r.store.Bots.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: list enabled bots: %w", err)
	}

	// Step 1: list + merge by upstream-subscription-id.
	byUpstreamID := make(map[string]twitchapi.EventSubSubscription)
	if appToken, err := r.twitch.AppAccessToken(ctx); err == nil {
		if subs, err := r.twitch.ListEventSubSubscriptions(ctx, appToken); err == nil {
			for _, s := range subs {
				byUpstreamID[s.ID] = s
			}
		} else {
			r.log.Warn("reconciler: list via app token failed", "error", err)
		}
	} else {
		r.log.Warn("reconciler: app access token unavailable", "error", err)
	}
	for _, b := range bots {
		subs, err := r.twitch.ListEventSubSubscriptions(ctx, b.AccessToken)
		if err != nil {
			r.log.Warn("reconciler: list via bot token failed", "bot_id", b.ID, "error", err)
			continue
		}
		for _, s := range subs {
			byUpstreamID[s.ID] = s
		}
	}

	// Step 2: truncate.
	if err := r.store.Subscriptions.Truncate(ctx); err != nil {
		return fmt.Errorf("reconciler: truncate subscriptions: %w", err)
	}

	botByTwitchID := make(map[string]models.Bot, len(bots))
	for _, b := range bots {
		botByTwitchID[b.TwitchUserID] = b
	}

	// Step 3: match known bots; skip unknown bots and transport mismatches.
	byKey := make(map[models.InterestKey][]merged)
	for _, s := range byUpstreamID {
		bot, ok := r.matchBot(ctx, s, botByTwitchID)
		if !ok {
			continue
		}
		if preferred := catalog.PreferredTransport(s.Type, r.webhookConfigured()); string(preferred) != s.Transport.Method {
			continue
		}

		broadcasterID := s.Condition["broadcaster_user_id"]
		key := models.InterestKey{BotID: bot.ID, EventType: s.Type, BroadcasterID: broadcasterID}

		// Step 4: dead websocket-bound subscriptions are unrecoverable.
		if s.Transport.Method == "websocket" && !isEnabledStatus(s.Status) {
			r.bestEffortDelete(ctx, bot, s.ID)
			continue
		}
		byKey[key] = append(byKey[key], merged{sub: s, botID: bot.ID})
	}

	// Step 5: dedupe by rank, deleting losers upstream.
	kept := make(map[models.InterestKey]merged, len(byKey))
	for key, group := range byKey {
		sort.Slice(group, func(i, j int) bool { return rank(group[i].sub) > rank(group[j].sub) })
		winner := group[0]
		kept[key] = winner
		for _, loser := range group[1:] {
			r.bestEffortDeleteLoser(ctx, botByTwitchID, loser)
		}
	}

	// Step 6: insert kept rows.
	for key, m := range kept {
		sub := models.Subscription{
			BotID:                  key.BotID,
			EventType:              key.EventType,
			BroadcasterID:          key.BroadcasterID,
			UpstreamSubscriptionID: m.sub.ID,
			Status:                 m.sub.Status,
		}
		if m.sub.Transport.Method == "websocket" {
			sub.SessionID = m.sub.Transport.SessionID
		}
		if err := r.store.Subscriptions.Upsert(ctx, sub); err != nil {
			r.log.Warn("reconciler: persist subscription", "key", key, "error", err)
		}
	}

	// Step 7: ensure revoke webhook, webhook subs, ws subs (if connected),
	// refresh liveness.
	r.ensureRevokeWebhooks(ctx, bots)
	r.ensureDesired(ctx)
	r.refreshLiveness(ctx, bots)

	return nil
}

func (r *Reconciler) matchBot(ctx context.Context, s twitchapi.EventSubSubscription, byTwitchID map[string]models.Bot) (models.Bot, bool) {
	if catalog.RequiresConditionSecondaryUserID(s.Type) {
		if bot, ok := byTwitchID[s.Condition["user_id"]]; ok {
			return bot, true
		}
	}
	if sub, err := r.store.Subscriptions.FindByUpstreamID(ctx, s.ID); err == nil {
		if bot, ok := byTwitchID[sub.BotID]; ok {
			return bot, true
		}
		// The prior-owner row names a bot id directly, not a twitch user id.
		for _, b := range byTwitchID {
			if b.ID == sub.BotID {
				return b, true
			}
		}
	}
	if bot, ok := byTwitchID[s.Condition["broadcaster_user_id"]]; ok {
		return bot, true
	}
	return models.Bot{}, false
}

func rank(s twitchapi.EventSubSubscription) string {
	enabled := "0"
	if isEnabledStatus(s.Status) {
		enabled = "1"
	}
	return enabled + "|" + s.CreatedAtISO + "|" + s.ID
}

func isEnabledStatus(status string) bool {
	return len(status) >= len("enabled") && status[:len("enabled")] == "enabled"
}

func (r *Reconciler) bestEffortDelete(ctx context.Context, bot models.Bot, upstreamID string) {
	if err := r.twitch.DeleteEventSubSubscription(ctx, bot.AccessToken, upstreamID); err != nil && !twitchapi.IsNotFound(err) {
		r.log.Warn("reconciler: delete dead ws subscription", "upstream_id", upstreamID, "error", err)
	}
}

func (r *Reconciler) bestEffortDeleteLoser(ctx context.Context, botByTwitchID map[string]models.Bot, m merged) {
	var token string
	for _, b := range botByTwitchID {
		if b.ID == m.botID {
			token = b.AccessToken
			break
		}
	}
	if err := r.twitch.DeleteEventSubSubscription(ctx, token, m.sub.ID); err != nil && !twitchapi.IsNotFound(err) {
		r.log.Warn("reconciler: delete duplicate subscription", "upstream_id", m.sub.ID, "error", err)
	}
}

// ensureRevokeWebhooks ensures the global user.authorization.revoke webhook
// exists per enabled bot, only when a webhook callback URL and secret are
// configured.
func (r *Reconciler) ensureRevokeWebhooks(ctx context.Context, bots []models.Bot) {
	if !r.webhookConfigured() {
		return
	}
	for _, b := range bots {
		key := models.InterestKey{BotID: b.ID, EventType: "user.authorization.revoke", BroadcasterID: b.TwitchUserID}
		if err := r.ensurer.Ensure(ctx, key); err != nil {
			r.log.Warn("reconciler: ensure revoke webhook", "bot_id", b.ID, "error", err)
		}
	}
}

func (r *Reconciler) ensureDesired(ctx context.Context) {
	if r.desired == nil {
		return
	}
	connected := false
	if r.session != nil {
		_, connected = r.session.CurrentSession()
	}
	for _, key := range r.desired.Keys() {
		transport := catalog.PreferredTransport(key.EventType, r.webhookConfigured())
		if transport == catalog.TransportWebsocket && !connected {
			continue
		}
		if err := r.ensurer.Ensure(ctx, key); err != nil {
			r.log.Warn("reconciler: ensure desired subscription", "key", key, "error", err)
		}
	}
}

func (r *Reconciler) refreshLiveness(ctx context.Context, bots []models.Bot) {
	byBot := make(map[string][]string)
	if r.desired != nil {
		for _, key := range r.desired.Keys() {
			byBot[key.BotID] = append(byBot[key.BotID], key.BroadcasterID)
		}
	}
	for _, b := range bots {
		ids := uniq(byBot[b.ID])
		if len(ids) == 0 {
			continue
		}
		streams, err := r.twitch.GetStreamsByUserIDs(ctx, b.AccessToken, ids)
		if err != nil {
			r.log.Warn("reconciler: refresh liveness", "bot_id", b.ID, "error", err)
			continue
		}
		live := make(map[string]twitchapi.Stream, len(streams))
		for _, s := range streams {
			live[s.UserID] = s
		}
		for _, broadcasterID := range ids {
			cs, err := r.store.ChannelStates.Get(ctx, b.ID, broadcasterID)
			if err != nil && err != store.ErrNotFound {
				continue
			}
			cs.BotID, cs.BroadcasterID = b.ID, broadcasterID
			if s, ok := live[broadcasterID]; ok {
				cs.IsLive = true
				cs.Title = s.Title
				cs.GameName = s.GameName
				startedAt := s.StartedAt
				cs.StreamStartedAt = &startedAt
			} else {
				cs.IsLive = false
				cs.StreamStartedAt = nil
			}
			if err := r.store.ChannelStates.Upsert(ctx, cs); err != nil {
				r.log.Warn("reconciler: persist channel state", "bot_id", b.ID, "broadcaster_id", broadcasterID, "error", err)
			}
		}
	}
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
