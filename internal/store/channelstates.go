package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kwld/twitch-service/internal/models"
)

// ChannelStateRepo persists models.ChannelState rows.
type ChannelStateRepo struct{ db *sql.DB }

const channelStateColumns = `bot_id, broadcaster_id, is_live, title, game_name, stream_started_at, last_event_at, last_checked_at`

func scanChannelState(row interface{ Scan(...any) error }) (models.ChannelState, error) {
	var cs models.ChannelState
	var startedAt, lastEventAt, lastCheckedAt sql.NullTime
	err := row.Scan(&cs.BotID, &cs.BroadcasterID, &cs.IsLive, &cs.Title, &cs.GameName, &startedAt, &lastEventAt, &lastCheckedAt)
	if err != nil {
		return models.ChannelState{}, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		cs.StreamStartedAt = &t
	}
	if lastEventAt.Valid {
		cs.LastEventAt = lastEventAt.Time
	}
	if lastCheckedAt.Valid {
		cs.LastCheckedAt = lastCheckedAt.Time
	}
	return cs, nil
}

func (r *ChannelStateRepo) Get(ctx context.Context, botID, broadcasterID string) (models.ChannelState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+channelStateColumns+` FROM channel_states WHERE bot_id = $1 AND broadcaster_id = $2`, botID, broadcasterID)
	cs, err := scanChannelState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChannelState{}, ErrNotFound
	}
	return cs, err
}

// Upsert applies a stream.online/offline liveness update (§4.9 step 6) or
// on-demand poll result.
func (r *ChannelStateRepo) Upsert(ctx context.Context, cs models.ChannelState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channel_states (bot_id, broadcaster_id, is_live, title, game_name, stream_started_at, last_event_at, last_checked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (bot_id, broadcaster_id) DO UPDATE SET
			is_live = EXCLUDED.is_live,
			title = EXCLUDED.title,
			game_name = EXCLUDED.game_name,
			stream_started_at = EXCLUDED.stream_started_at,
			last_event_at = EXCLUDED.last_event_at,
			last_checked_at = EXCLUDED.last_checked_at`,
		cs.BotID, cs.BroadcasterID, cs.IsLive, cs.Title, cs.GameName, cs.StreamStartedAt, cs.LastEventAt, cs.LastCheckedAt)
	return err
}

func (r *ChannelStateRepo) Delete(ctx context.Context, botID, broadcasterID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM channel_states WHERE bot_id = $1 AND broadcaster_id = $2`, botID, broadcasterID)
	return err
}
