package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/kwld/twitch-service/internal/models"
)

// AuthorizationRepo persists models.BroadcasterAuthorization rows.
type AuthorizationRepo struct{ db *sql.DB }

func scanAuthorization(row interface{ Scan(...any) error }) (models.BroadcasterAuthorization, error) {
	var a models.BroadcasterAuthorization
	var scopesCSV string
	err := row.Scan(&a.ConsumerID, &a.BotID, &a.BroadcasterID, &a.BroadcasterLogin, &scopesCSV, &a.AuthorizedAt)
	if err != nil {
		return models.BroadcasterAuthorization{}, err
	}
	if scopesCSV != "" {
		a.Scopes = strings.Split(scopesCSV, ",")
	}
	return a, nil
}

const authorizationColumns = `consumer_id, bot_id, broadcaster_id, broadcaster_login, scopes, authorized_at`

// ListByBotBroadcaster returns every consumer's authorization for
// (bot, broadcaster) — the Ensurer's scope check (§4.8 step 6) considers
// all of them, not just the requesting consumer's.
func (r *AuthorizationRepo) ListByBotBroadcaster(ctx context.Context, botID, broadcasterID string) ([]models.BroadcasterAuthorization, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+authorizationColumns+` FROM broadcaster_authorizations
		WHERE bot_id = $1 AND broadcaster_id = $2`, botID, broadcasterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.BroadcasterAuthorization
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AuthorizationRepo) Upsert(ctx context.Context, a models.BroadcasterAuthorization) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO broadcaster_authorizations (consumer_id, bot_id, broadcaster_id, broadcaster_login, scopes, authorized_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (consumer_id, bot_id, broadcaster_id) DO UPDATE SET
			broadcaster_login = EXCLUDED.broadcaster_login,
			scopes = EXCLUDED.scopes,
			authorized_at = EXCLUDED.authorized_at`,
		a.ConsumerID, a.BotID, a.BroadcasterID, a.BroadcasterLogin, strings.Join(a.Scopes, ","), a.AuthorizedAt)
	return err
}
