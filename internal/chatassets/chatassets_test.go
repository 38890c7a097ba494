package chatassets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwld/twitch-service/internal/twitchapi"
)

func TestRefreshPopulatesSnapshot(t *testing.T) {
	fake := twitchapi.NewFake()
	fake.GlobalBadges = map[string]any{"data": []any{
		map[string]any{"set_id": "subscriber", "versions": []any{
			map[string]any{"id": "0", "title": "Sub", "image_url_4x": "https://example/sub.png"},
		}},
	}}
	c := New(fake)

	c.Refresh(context.Background(), "123")

	snap := c.Snapshot("123")
	require.NotNil(t, snap.Badges.Global)
	data, _ := snap.Badges.Global["data"].([]any)
	assert.Len(t, data, 1)
}

func TestSnapshotDefaultsToEmptyPayload(t *testing.T) {
	c := New(twitchapi.NewFake())
	snap := c.Snapshot("123")
	assert.Equal(t, emptyPayload(), snap.Badges.Global)
	assert.Equal(t, emptyPayload(), snap.Emotes.Channel)
}

func TestEnsureFreshCollapsesConcurrentCallers(t *testing.T) {
	fake := twitchapi.NewFake()
	c := New(fake)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			c.ensureFresh(context.Background(), kindGlobalBadges, "")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.LessOrEqual(t, fake.CallCount("GetGlobalChatBadges"), 2)
}

func TestEnsureFreshKeepsStaleValueOnError(t *testing.T) {
	fakeNow := time.Now()
	fake := twitchapi.NewFake()
	c := New(fake, WithTTL(time.Minute), WithStaleIfError(time.Hour))
	c.now = func() time.Time { return fakeNow }

	c.ensureFresh(context.Background(), kindGlobalBadges, "")
	before := c.get(kindGlobalBadges, "")
	require.NotNil(t, before)

	fake.Err = errors.New("upstream unavailable")
	fakeNow = fakeNow.Add(2 * time.Minute) // expire the fresh entry
	c.ensureFresh(context.Background(), kindGlobalBadges, "")

	after := c.get(kindGlobalBadges, "")
	require.NotNil(t, after)
	assert.Equal(t, before.value, after.value)
	assert.True(t, after.expiresAt.After(before.expiresAt))
}

func TestEnrichChatEventReturnsEmptyWhenNothingResolves(t *testing.T) {
	c := New(twitchapi.NewFake())
	got := c.EnrichChatEvent(context.Background(), "123", map[string]any{})
	assert.Empty(t, got)
}

func TestEnrichChatEventResolvesBadgesAndEmotes(t *testing.T) {
	fake := twitchapi.NewFake()
	fake.GlobalBadges = map[string]any{"data": []any{
		map[string]any{"set_id": "subscriber", "versions": []any{
			map[string]any{"id": "0", "image_url_4x": "https://example/sub.png"},
		}},
	}}
	fake.GlobalEmotes = map[string]any{"data": []any{
		map[string]any{"id": "emote-1", "name": "Kappa"},
	}}
	c := New(fake)
	c.Refresh(context.Background(), "123")

	event := map[string]any{
		"badges": []any{
			map[string]any{"set_id": "subscriber", "id": "0"},
		},
		"message": map[string]any{
			"fragments": []any{
				map[string]any{"type": "emote", "emote": map[string]any{"id": "emote-1"}},
				map[string]any{"type": "text"},
			},
		},
	}

	got := c.EnrichChatEvent(context.Background(), "123", event)
	badges, _ := got["badges"].([]map[string]any)
	emotes, _ := got["emotes"].([]map[string]any)
	require.Len(t, badges, 1)
	require.Len(t, emotes, 1)
	assert.Equal(t, "Kappa", emotes[0]["name"])

	imageMap, _ := got["badge_image_map"].(map[string]string)
	assert.Equal(t, "https://example/sub.png", imageMap["subscriber/0"])
}
