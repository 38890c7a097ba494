package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kwld/twitch-service/internal/models"
)

// RuntimeStatsRepo persists models.ConsumerRuntimeStats rows: the
// WS-cooldown heuristic and operator view read these counters.
type RuntimeStatsRepo struct{ db *sql.DB }

const runtimeStatsColumns = `consumer_id, connected, active_ws_count, last_connect_at, last_disconnect_at, total_ws_connects, total_webhook_sends`

func scanRuntimeStats(row interface{ Scan(...any) error }) (models.ConsumerRuntimeStats, error) {
	var s models.ConsumerRuntimeStats
	var lastConnect, lastDisconnect sql.NullTime
	err := row.Scan(&s.ConsumerID, &s.Connected, &s.ActiveWSCount, &lastConnect, &lastDisconnect, &s.TotalWSConnects, &s.TotalWebhookSends)
	if err != nil {
		return models.ConsumerRuntimeStats{}, err
	}
	if lastConnect.Valid {
		t := lastConnect.Time
		s.LastConnectAt = &t
	}
	if lastDisconnect.Valid {
		t := lastDisconnect.Time
		s.LastDisconnectAt = &t
	}
	return s, nil
}

func (r *RuntimeStatsRepo) Get(ctx context.Context, consumerID string) (models.ConsumerRuntimeStats, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runtimeStatsColumns+` FROM consumer_runtime_stats WHERE consumer_id = $1`, consumerID)
	s, err := scanRuntimeStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConsumerRuntimeStats{ConsumerID: consumerID}, nil
	}
	return s, err
}

func (r *RuntimeStatsRepo) RecordConnect(ctx context.Context, consumerID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO consumer_runtime_stats (consumer_id, connected, active_ws_count, last_connect_at, total_ws_connects)
		VALUES ($1, TRUE, 1, $2, 1)
		ON CONFLICT (consumer_id) DO UPDATE SET
			connected = TRUE,
			active_ws_count = consumer_runtime_stats.active_ws_count + 1,
			last_connect_at = EXCLUDED.last_connect_at,
			total_ws_connects = consumer_runtime_stats.total_ws_connects + 1`,
		consumerID, now)
	return err
}

func (r *RuntimeStatsRepo) RecordDisconnect(ctx context.Context, consumerID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO consumer_runtime_stats (consumer_id, connected, active_ws_count, last_disconnect_at)
		VALUES ($1, FALSE, 0, $2)
		ON CONFLICT (consumer_id) DO UPDATE SET
			active_ws_count = GREATEST(consumer_runtime_stats.active_ws_count - 1, 0),
			connected = GREATEST(consumer_runtime_stats.active_ws_count - 1, 0) > 0,
			last_disconnect_at = EXCLUDED.last_disconnect_at`,
		consumerID, now)
	return err
}

func (r *RuntimeStatsRepo) RecordWebhookSend(ctx context.Context, consumerID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO consumer_runtime_stats (consumer_id, total_webhook_sends)
		VALUES ($1, 1)
		ON CONFLICT (consumer_id) DO UPDATE SET
			total_webhook_sends = consumer_runtime_stats.total_webhook_sends + 1`,
		consumerID)
	return err
}
