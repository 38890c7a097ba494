package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kwld/twitch-service/internal/models"
)

// InterestRepo persists models.Interest rows.
type InterestRepo struct{ db *sql.DB }

const interestColumns = `id, consumer_id, bot_id, event_type, broadcaster_id, transport, webhook_target_url, last_heartbeat, stale_marked_at, delete_after, created_at`

func scanInterest(row interface{ Scan(...any) error }) (models.Interest, error) {
	var in models.Interest
	var staleMarkedAt, deleteAfter sql.NullTime
	var transport string
	err := row.Scan(&in.ID, &in.ConsumerID, &in.BotID, &in.EventType, &in.BroadcasterID, &transport,
		&in.WebhookTargetURL, &in.LastHeartbeat, &staleMarkedAt, &deleteAfter, &in.CreatedAt)
	if err != nil {
		return models.Interest{}, err
	}
	in.Transport = models.Transport(transport)
	if staleMarkedAt.Valid {
		t := staleMarkedAt.Time
		in.StaleMarkedAt = &t
	}
	if deleteAfter.Valid {
		t := deleteAfter.Time
		in.DeleteAfter = &t
	}
	return in, nil
}

func (r *InterestRepo) ListAll(ctx context.Context) ([]models.Interest, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+interestColumns+` FROM interests`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Interest
	for rows.Next() {
		in, err := scanInterest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *InterestRepo) ListByConsumer(ctx context.Context, consumerID string) ([]models.Interest, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+interestColumns+` FROM interests WHERE consumer_id = $1`, consumerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Interest
	for rows.Next() {
		in, err := scanInterest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *InterestRepo) Get(ctx context.Context, id string) (models.Interest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+interestColumns+` FROM interests WHERE id = $1`, id)
	in, err := scanInterest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Interest{}, ErrNotFound
	}
	return in, err
}

// Create inserts an Interest row. A conflict on the uniqueness constraint
// (consumer, bot, event-type, broadcaster, transport, webhook-url) returns
// the existing row instead of erroring, so repeated POST /v1/interests calls
// are idempotent.
func (r *InterestRepo) Create(ctx context.Context, in models.Interest) (models.Interest, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO interests (consumer_id, bot_id, event_type, broadcaster_id, transport, webhook_target_url, last_heartbeat)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (consumer_id, bot_id, event_type, broadcaster_id, transport, webhook_target_url)
		DO UPDATE SET last_heartbeat = EXCLUDED.last_heartbeat
		RETURNING `+interestColumns,
		in.ConsumerID, in.BotID, in.EventType, in.BroadcasterID, string(in.Transport), in.WebhookTargetURL, in.LastHeartbeat)
	return scanInterest(row)
}

func (r *InterestRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM interests WHERE id = $1`, id)
	return err
}

// ListByConsumerBotBroadcaster finds every interest a consumer holds for a
// bot under one broadcaster id — used to locate legacy rows keyed by a
// pre-normalization token when B3 resolves that token to a different
// canonical id (see MergeLegacyBroadcasterID).
func (r *InterestRepo) ListByConsumerBotBroadcaster(ctx context.Context, consumerID, botID, broadcasterID string) ([]models.Interest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+interestColumns+` FROM interests
		WHERE consumer_id = $1 AND bot_id = $2 AND broadcaster_id = $3`,
		consumerID, botID, broadcasterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Interest
	for rows.Next() {
		in, err := scanInterest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// FindExact looks up the row that would conflict with in under the
// interests uniqueness constraint, at a given broadcaster id.
func (r *InterestRepo) FindExact(ctx context.Context, consumerID, botID, eventType, broadcasterID string, transport models.Transport, webhookTargetURL string) (models.Interest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+interestColumns+` FROM interests
		WHERE consumer_id = $1 AND bot_id = $2 AND event_type = $3 AND broadcaster_id = $4
			AND transport = $5 AND webhook_target_url = $6`,
		consumerID, botID, eventType, broadcasterID, string(transport), webhookTargetURL)
	in, err := scanInterest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Interest{}, ErrNotFound
	}
	return in, err
}

// RebindBroadcasterID rewrites id's broadcaster_id in place, preserving the
// row's identity (consumers keep the same interest id across the merge).
func (r *InterestRepo) RebindBroadcasterID(ctx context.Context, id, broadcasterID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE interests SET broadcaster_id = $2 WHERE id = $1`, id, broadcasterID)
	return err
}

// Heartbeat bumps last_heartbeat to now and clears any stale marks (P6).
func (r *InterestRepo) Heartbeat(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE interests SET last_heartbeat = $2, stale_marked_at = NULL, delete_after = NULL
		WHERE id = $1`, id, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HeartbeatAllForConsumer is used by POST /v1/interests/heartbeat (no id).
func (r *InterestRepo) HeartbeatAllForConsumer(ctx context.Context, consumerID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE interests SET last_heartbeat = $2, stale_marked_at = NULL, delete_after = NULL
		WHERE consumer_id = $1`, consumerID, now)
	return err
}

// SetStaleMarks persists the GC's stale_marked_at/delete_after computation.
func (r *InterestRepo) SetStaleMarks(ctx context.Context, id string, staleMarkedAt, deleteAfter *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE interests SET stale_marked_at = $2, delete_after = $3 WHERE id = $1`,
		id, nullableTime(staleMarkedAt), nullableTime(deleteAfter))
	return err
}

// ClearStaleMarks is the "any condition holds" branch of the GC loop.
func (r *InterestRepo) ClearStaleMarks(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE interests SET stale_marked_at = NULL, delete_after = NULL WHERE id = $1`, id)
	return err
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
