package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kwld/twitch-service/internal/models"
)

// SubscriptionRepo persists models.Subscription rows — at most one per
// (bot, event-type, broadcaster) key, per §3's invariant.
type SubscriptionRepo struct{ db *sql.DB }

const subscriptionColumns = `bot_id, event_type, broadcaster_id, upstream_subscription_id, status, session_id, last_seen`

func scanSubscription(row interface{ Scan(...any) error }) (models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(&s.BotID, &s.EventType, &s.BroadcasterID, &s.UpstreamSubscriptionID, &s.Status, &s.SessionID, &s.LastSeen)
	return s, err
}

func (r *SubscriptionRepo) Get(ctx context.Context, key models.InterestKey) (models.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE bot_id = $1 AND event_type = $2 AND broadcaster_id = $3`,
		key.BotID, key.EventType, key.BroadcasterID)
	s, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subscription{}, ErrNotFound
	}
	return s, err
}

func (r *SubscriptionRepo) ListAll(ctx context.Context) ([]models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces the row for (bot, event-type, broadcaster) —
// used by the Ensurer (§4.8 step 10) and the Reconciler (§4.6 step 6).
func (r *SubscriptionRepo) Upsert(ctx context.Context, s models.Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (bot_id, event_type, broadcaster_id, upstream_subscription_id, status, session_id, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (bot_id, event_type, broadcaster_id) DO UPDATE SET
			upstream_subscription_id = EXCLUDED.upstream_subscription_id,
			status = EXCLUDED.status,
			session_id = EXCLUDED.session_id,
			last_seen = EXCLUDED.last_seen`,
		s.BotID, s.EventType, s.BroadcasterID, s.UpstreamSubscriptionID, s.Status, s.SessionID, s.LastSeen)
	return err
}

func (r *SubscriptionRepo) Delete(ctx context.Context, key models.InterestKey) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE bot_id = $1 AND event_type = $2 AND broadcaster_id = $3`,
		key.BotID, key.EventType, key.BroadcasterID)
	return err
}

// MarkRevoked sets status=revoked for the row bound to upstreamSubscriptionID
// — invoked from the Upstream-WS revocation frame handler (§4.7).
func (r *SubscriptionRepo) MarkRevoked(ctx context.Context, upstreamSubscriptionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = 'revoked' WHERE upstream_subscription_id = $1`, upstreamSubscriptionID)
	return err
}

// Truncate empties the whole table — the Reconciler's step 2, run before
// re-inserting the freshly-merged, deduplicated set.
func (r *SubscriptionRepo) Truncate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `TRUNCATE TABLE subscriptions`)
	return err
}

// FindByUpstreamID locates the row a given upstream subscription id was
// previously bound to — used by the Reconciler's "prior-owner lookup".
func (r *SubscriptionRepo) FindByUpstreamID(ctx context.Context, upstreamID string) (models.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE upstream_subscription_id = $1`, upstreamID)
	s, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subscription{}, ErrNotFound
	}
	return s, err
}
