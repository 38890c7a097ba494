package twitchapi

import (
	"context"
	"sync"
)

// Fake is an in-memory Client used by the module's own tests. Each method
// returns whatever was pre-loaded via the exported fields, or a caller-set
// error via Err. It has no relation to a real Twitch API call — it exists
// purely so packages that depend on Client can be exercised deterministically.
type Fake struct {
	mu sync.Mutex

	AppToken string

	GlobalBadges  map[string]any
	ChannelBadges map[string]map[string]any
	GlobalEmotes  map[string]any
	ChannelEmotes map[string]map[string]any

	Subscriptions []EventSubSubscription

	Err error

	// Calls records invocation counts per method name, for assertions about
	// single-flight collapsing in callers.
	Calls map[string]int
}

// NewFake returns a ready-to-use Fake with empty collections.
func NewFake() *Fake {
	return &Fake{
		AppToken:      "fake-app-token",
		ChannelBadges: make(map[string]map[string]any),
		ChannelEmotes: make(map[string]map[string]any),
		Calls:         make(map[string]int),
	}
}

func (f *Fake) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[name]++
}

func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}

func (f *Fake) ExchangeCode(ctx context.Context, code string) (TokenBundle, error) {
	f.record("ExchangeCode")
	return TokenBundle{}, f.Err
}

func (f *Fake) RefreshToken(ctx context.Context, refreshToken string) (TokenBundle, error) {
	f.record("RefreshToken")
	return TokenBundle{}, f.Err
}

func (f *Fake) ValidateUserToken(ctx context.Context, token string) (ValidatedToken, error) {
	f.record("ValidateUserToken")
	return ValidatedToken{}, f.Err
}

func (f *Fake) GetUsers(ctx context.Context, token string) ([]User, error) {
	f.record("GetUsers")
	return nil, f.Err
}

func (f *Fake) GetUsersByQuery(ctx context.Context, token string, ids, logins []string) ([]User, error) {
	f.record("GetUsersByQuery")
	return nil, f.Err
}

func (f *Fake) GetUserByIDApp(ctx context.Context, id string) (User, error) {
	f.record("GetUserByIDApp")
	return User{ID: id}, f.Err
}

func (f *Fake) GetUserByLoginApp(ctx context.Context, login string) (User, error) {
	f.record("GetUserByLoginApp")
	// The fake has no real user directory: it echoes the login back as the
	// id so callers exercising the resolve-then-use path have something
	// deterministic to assert on.
	return User{ID: login, Login: login}, f.Err
}

func (f *Fake) GetStreamsByUserIDs(ctx context.Context, token string, userIDs []string) ([]Stream, error) {
	f.record("GetStreamsByUserIDs")
	return nil, f.Err
}

func (f *Fake) AppAccessToken(ctx context.Context) (string, error) {
	f.record("AppAccessToken")
	if f.Err != nil {
		return "", f.Err
	}
	return f.AppToken, nil
}

func (f *Fake) ListEventSubSubscriptions(ctx context.Context, token string) ([]EventSubSubscription, error) {
	f.record("ListEventSubSubscriptions")
	return f.Subscriptions, f.Err
}

func (f *Fake) CreateEventSubSubscription(ctx context.Context, token, eventType, version string, condition map[string]string, transport EventSubTransport) (EventSubSubscription, error) {
	f.record("CreateEventSubSubscription")
	if f.Err != nil {
		return EventSubSubscription{}, f.Err
	}
	sub := EventSubSubscription{
		ID:        eventType + ":" + condition["broadcaster_user_id"],
		Type:      eventType,
		Version:   version,
		Status:    "enabled",
		Condition: condition,
		Transport: transport,
	}
	f.mu.Lock()
	f.Subscriptions = append(f.Subscriptions, sub)
	f.mu.Unlock()
	return sub, nil
}

func (f *Fake) DeleteEventSubSubscription(ctx context.Context, token, id string) error {
	f.record("DeleteEventSubSubscription")
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Subscriptions[:0]
	for _, s := range f.Subscriptions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	f.Subscriptions = kept
	return nil
}

func (f *Fake) SendChatMessage(ctx context.Context, token, broadcasterID, senderID, message, replyParentID string) error {
	f.record("SendChatMessage")
	return f.Err
}

func (f *Fake) CreateClip(ctx context.Context, token, broadcasterID, title string, duration int, hasDelay bool) (string, error) {
	f.record("CreateClip")
	return "fake-clip-id", f.Err
}

func (f *Fake) GetClips(ctx context.Context, token string, ids []string) ([]map[string]any, error) {
	f.record("GetClips")
	return nil, f.Err
}

func (f *Fake) GetGlobalChatBadges(ctx context.Context, token string) (map[string]any, error) {
	f.record("GetGlobalChatBadges")
	if f.Err != nil {
		return nil, f.Err
	}
	if f.GlobalBadges != nil {
		return f.GlobalBadges, nil
	}
	return map[string]any{"data": []any{}}, nil
}

func (f *Fake) GetChannelChatBadges(ctx context.Context, token, broadcasterID string) (map[string]any, error) {
	f.record("GetChannelChatBadges")
	if f.Err != nil {
		return nil, f.Err
	}
	if v, ok := f.ChannelBadges[broadcasterID]; ok {
		return v, nil
	}
	return map[string]any{"data": []any{}}, nil
}

func (f *Fake) GetGlobalEmotes(ctx context.Context, token string) (map[string]any, error) {
	f.record("GetGlobalEmotes")
	if f.Err != nil {
		return nil, f.Err
	}
	if f.GlobalEmotes != nil {
		return f.GlobalEmotes, nil
	}
	return map[string]any{"data": []any{}}, nil
}

func (f *Fake) GetChannelEmotes(ctx context.Context, token, broadcasterID string) (map[string]any, error) {
	f.record("GetChannelEmotes")
	if f.Err != nil {
		return nil, f.Err
	}
	if v, ok := f.ChannelEmotes[broadcasterID]; ok {
		return v, nil
	}
	return map[string]any{"data": []any{}}, nil
}

var _ Client = (*Fake)(nil)
