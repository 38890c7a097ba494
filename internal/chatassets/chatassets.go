// Package chatassets is the per-broadcaster cache of badge/emote metadata
// described in §4.5. It is a contract-only component in the distilled spec;
// the concrete shape here (cache keys, stale-if-error fallback, single-flight
// collapsing) follows the original TwitchChatAssetCache
// (twitch_chat_assets.py), adapted to Go's idiom of golang.org/x/sync/singleflight
// instead of a hand-rolled inflight set.
package chatassets

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kwld/twitch-service/internal/twitchapi"
)

// DefaultTTL and DefaultStaleIfError match the original's defaults.
const (
	DefaultTTL          = 6 * time.Hour
	DefaultStaleIfError = 24 * time.Hour
)

type entry struct {
	value     map[string]any
	expiresAt time.Time
}

func (e *entry) fresh(now time.Time) bool {
	return e != nil && now.Before(e.expiresAt)
}

// Snapshot is the shape returned by Snapshot(broadcasterID): global and
// per-channel badge/emote payloads as last fetched from upstream.
type Snapshot struct {
	Badges struct {
		Global  map[string]any
		Channel map[string]any
	}
	Emotes struct {
		Global  map[string]any
		Channel map[string]any
	}
}

// Cache is the Chat-Asset Cache. All state is protected by mu; refreshes
// that hit the network are collapsed per (kind, broadcaster-id) via sf so
// concurrent callers for the same channel share one upstream round trip.
type Cache struct {
	twitch twitchapi.Client
	ttl    time.Duration
	stale  time.Duration
	log    *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	globalBadges  *entry
	globalEmotes  *entry
	channelBadges map[string]*entry
	channelEmotes map[string]*entry

	sf singleflight.Group
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option { return func(c *Cache) { c.ttl = ttl } }

// WithStaleIfError overrides DefaultStaleIfError.
func WithStaleIfError(d time.Duration) Option { return func(c *Cache) { c.stale = d } }

// WithLogger attaches a logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.log = l } }

// New creates a Cache backed by twitch.
func New(twitch twitchapi.Client, opts ...Option) *Cache {
	c := &Cache{
		twitch:        twitch,
		ttl:           DefaultTTL,
		stale:         DefaultStaleIfError,
		log:           slog.Default(),
		now:           time.Now,
		channelBadges: make(map[string]*entry),
		channelEmotes: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const (
	kindGlobalBadges  = "global_badges"
	kindGlobalEmotes  = "global_emotes"
	kindChannelBadges = "channel_badges"
	kindChannelEmotes = "channel_emotes"
)

func (c *Cache) get(kind, broadcasterID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case kindGlobalBadges:
		return c.globalBadges
	case kindGlobalEmotes:
		return c.globalEmotes
	case kindChannelBadges:
		return c.channelBadges[broadcasterID]
	case kindChannelEmotes:
		return c.channelEmotes[broadcasterID]
	}
	return nil
}

func (c *Cache) set(kind, broadcasterID string, value map[string]any, ttl time.Duration) {
	e := &entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case kindGlobalBadges:
		c.globalBadges = e
	case kindGlobalEmotes:
		c.globalEmotes = e
	case kindChannelBadges:
		c.channelBadges[broadcasterID] = e
	case kindChannelEmotes:
		c.channelEmotes[broadcasterID] = e
	}
}

// ensureFresh refreshes (kind, broadcasterID) iff the cached entry is
// missing or expired. A concurrent call for the same key shares one upstream
// fetch via singleflight. Refresh errors keep the old value alive for
// stale-if-error instead of propagating — this method never returns an error
// to its caller because nothing downstream can usefully act on one.
func (c *Cache) ensureFresh(ctx context.Context, kind, broadcasterID string) {
	existing := c.get(kind, broadcasterID)
	if existing.fresh(c.now()) {
		return
	}

	sfKey := kind + "|" + broadcasterID
	_, _, _ = c.sf.Do(sfKey, func() (any, error) {
		token, err := c.twitch.AppAccessToken(ctx)
		if err != nil {
			c.keepStale(kind, broadcasterID, existing, err)
			return nil, nil
		}

		var payload map[string]any
		switch kind {
		case kindGlobalBadges:
			payload, err = c.twitch.GetGlobalChatBadges(ctx, token)
		case kindGlobalEmotes:
			payload, err = c.twitch.GetGlobalEmotes(ctx, token)
		case kindChannelBadges:
			payload, err = c.twitch.GetChannelChatBadges(ctx, token, broadcasterID)
		case kindChannelEmotes:
			payload, err = c.twitch.GetChannelEmotes(ctx, token, broadcasterID)
		}
		if err != nil {
			c.keepStale(kind, broadcasterID, existing, err)
			return nil, nil
		}
		c.set(kind, broadcasterID, payload, c.ttl)
		return nil, nil
	})
}

func (c *Cache) keepStale(kind, broadcasterID string, existing *entry, err error) {
	c.log.Info("chat asset refresh failed, keeping stale value",
		"kind", kind, "broadcaster_id", broadcasterID, "error", err)
	if existing != nil {
		c.set(kind, broadcasterID, existing.value, c.stale)
	}
}

// Prefetch triggers a fire-and-forget refresh of every cache slot relevant
// to broadcasterID (global + channel badges/emotes). Called by
// EnrichChatEvent for each chat event's broadcaster.
func (c *Cache) Prefetch(broadcasterID string) {
	for _, kind := range []string{kindGlobalBadges, kindGlobalEmotes, kindChannelBadges, kindChannelEmotes} {
		go c.ensureFresh(context.Background(), kind, broadcasterID)
	}
}

// Refresh force-refreshes every slot for broadcasterID synchronously. No
// HTTP route calls it.
func (c *Cache) Refresh(ctx context.Context, broadcasterID string) {
	for _, kind := range []string{kindGlobalBadges, kindGlobalEmotes, kindChannelBadges, kindChannelEmotes} {
		c.forceRefresh(ctx, kind, broadcasterID)
	}
}

func (c *Cache) forceRefresh(ctx context.Context, kind, broadcasterID string) {
	sfKey := kind + "|" + broadcasterID
	_, _, _ = c.sf.Do(sfKey, func() (any, error) {
		token, err := c.twitch.AppAccessToken(ctx)
		if err != nil {
			return nil, err
		}
		var payload map[string]any
		switch kind {
		case kindGlobalBadges:
			payload, err = c.twitch.GetGlobalChatBadges(ctx, token)
		case kindGlobalEmotes:
			payload, err = c.twitch.GetGlobalEmotes(ctx, token)
		case kindChannelBadges:
			payload, err = c.twitch.GetChannelChatBadges(ctx, token, broadcasterID)
		case kindChannelEmotes:
			payload, err = c.twitch.GetChannelEmotes(ctx, token, broadcasterID)
		}
		if err != nil {
			return nil, err
		}
		c.set(kind, broadcasterID, payload, c.ttl)
		return nil, nil
	})
}

func emptyPayload() map[string]any { return map[string]any{"data": []any{}} }

// Snapshot returns the cached global+channel badge/emote payloads for
// broadcasterID, falling back to an empty payload for anything never
// fetched.
func (c *Cache) Snapshot(broadcasterID string) Snapshot {
	var snap Snapshot
	if e := c.get(kindGlobalBadges, ""); e != nil {
		snap.Badges.Global = e.value
	} else {
		snap.Badges.Global = emptyPayload()
	}
	if e := c.get(kindChannelBadges, broadcasterID); e != nil {
		snap.Badges.Channel = e.value
	} else {
		snap.Badges.Channel = emptyPayload()
	}
	if e := c.get(kindGlobalEmotes, ""); e != nil {
		snap.Emotes.Global = e.value
	} else {
		snap.Emotes.Global = emptyPayload()
	}
	if e := c.get(kindChannelEmotes, broadcasterID); e != nil {
		snap.Emotes.Channel = e.value
	} else {
		snap.Emotes.Channel = emptyPayload()
	}
	return snap
}

func badgeMap(payload map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	data, _ := payload["data"].([]any)
	for _, raw := range data {
		set, _ := raw.(map[string]any)
		setID, _ := set["set_id"].(string)
		versions, _ := set["versions"].([]any)
		for _, rv := range versions {
			v, _ := rv.(map[string]any)
			vid, _ := v["id"].(string)
			if setID == "" || vid == "" {
				continue
			}
			out[setID+"/"+vid] = map[string]any{
				"set_id":       setID,
				"id":           vid,
				"title":        v["title"],
				"image_url_1x": v["image_url_1x"],
				"image_url_2x": v["image_url_2x"],
				"image_url_4x": v["image_url_4x"],
			}
		}
	}
	return out
}

func emoteMap(payload map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	data, _ := payload["data"].([]any)
	for _, raw := range data {
		e, _ := raw.(map[string]any)
		id, _ := e["id"].(string)
		if id == "" {
			continue
		}
		out[id] = map[string]any{
			"id":         id,
			"name":       e["name"],
			"images":     e["images"],
			"format":     e["format"],
			"scale":      e["scale"],
			"theme_mode": e["theme_mode"],
		}
	}
	return out
}

// EnrichChatEvent returns the enrichment payload for a channel.chat.* event,
// attached under a fixed field by the Notification Pipeline. Never returns
// an error; a nil/empty map means nothing could be resolved.
func (c *Cache) EnrichChatEvent(ctx context.Context, broadcasterID string, event map[string]any) map[string]any {
	c.Prefetch(broadcasterID)

	snap := c.Snapshot(broadcasterID)
	badgeLookup := badgeMap(snap.Badges.Global)
	for k, v := range badgeMap(snap.Badges.Channel) {
		badgeLookup[k] = v
	}
	emoteLookup := emoteMap(snap.Emotes.Global)
	for k, v := range emoteMap(snap.Emotes.Channel) {
		emoteLookup[k] = v
	}

	neededBadges := neededBadgeKeys(event)
	neededEmotes := neededEmoteIDs(event)

	if hasMissing(neededBadges, badgeLookup) {
		c.forceRefresh(ctx, kindGlobalBadges, "")
		c.forceRefresh(ctx, kindChannelBadges, broadcasterID)
		snap = c.Snapshot(broadcasterID)
		badgeLookup = badgeMap(snap.Badges.Global)
		for k, v := range badgeMap(snap.Badges.Channel) {
			badgeLookup[k] = v
		}
	}

	resolvedBadges := make([]map[string]any, 0, len(neededBadges))
	for _, k := range neededBadges {
		if v, ok := badgeLookup[k]; ok {
			resolvedBadges = append(resolvedBadges, v)
		}
	}
	resolvedEmotes := make([]map[string]any, 0, len(neededEmotes))
	for _, id := range neededEmotes {
		if v, ok := emoteLookup[id]; ok {
			resolvedEmotes = append(resolvedEmotes, v)
		}
	}

	if len(resolvedBadges) == 0 && len(resolvedEmotes) == 0 {
		return map[string]any{}
	}

	missingBadges := missingKeys(neededBadges, badgeLookup)
	missingEmotes := missingKeys(neededEmotes, emoteLookup)

	badgeImageMap := make(map[string]string)
	badgeImageMapByScale := make(map[string]map[string]any)
	for _, badge := range resolvedBadges {
		key, _ := badge["set_id"].(string)
		id, _ := badge["id"].(string)
		fullKey := key + "/" + id
		if fullKey == "/" {
			continue
		}
		oneX, _ := badge["image_url_1x"].(string)
		twoX, _ := badge["image_url_2x"].(string)
		fourX, _ := badge["image_url_4x"].(string)
		preferred := firstNonEmpty(fourX, twoX, oneX)
		if preferred != "" {
			badgeImageMap[fullKey] = preferred
		}
		badgeImageMapByScale[fullKey] = map[string]any{"1x": oneX, "2x": twoX, "4x": fourX}
	}

	return map[string]any{
		"badges":                   resolvedBadges,
		"emotes":                   resolvedEmotes,
		"badge_image_map":          badgeImageMap,
		"badge_image_map_by_scale": badgeImageMapByScale,
		"missing": map[string]any{
			"badges": missingBadges,
			"emotes": missingEmotes,
		},
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func hasMissing(keys []string, lookup map[string]map[string]any) bool {
	for _, k := range keys {
		if _, ok := lookup[k]; !ok {
			return true
		}
	}
	return false
}

func missingKeys(keys []string, lookup map[string]map[string]any) []string {
	out := make([]string, 0)
	for _, k := range keys {
		if _, ok := lookup[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func neededBadgeKeys(event map[string]any) []string {
	seen := make(map[string]struct{})
	badges, _ := event["badges"].([]any)
	for _, raw := range badges {
		b, _ := raw.(map[string]any)
		setID, _ := b["set_id"].(string)
		id, _ := b["id"].(string)
		if setID != "" && id != "" {
			seen[setID+"/"+id] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func neededEmoteIDs(event map[string]any) []string {
	seen := make(map[string]struct{})
	message, _ := event["message"].(map[string]any)
	fragments, _ := message["fragments"].([]any)
	for _, raw := range fragments {
		frag, _ := raw.(map[string]any)
		if frag["type"] != "emote" {
			continue
		}
		emote, _ := frag["emote"].(map[string]any)
		id, _ := emote["id"].(string)
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
