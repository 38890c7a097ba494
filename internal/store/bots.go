package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kwld/twitch-service/internal/models"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// BotRepo persists models.Bot rows.
type BotRepo struct{ db *sql.DB }

func scanBot(row interface{ Scan(...any) error }) (models.Bot, error) {
	var b models.Bot
	var tokenExpiresAt sql.NullTime
	err := row.Scan(&b.ID, &b.DisplayName, &b.TwitchUserID, &b.Login, &b.AccessToken,
		&b.RefreshToken, &tokenExpiresAt, &b.Enabled, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return models.Bot{}, err
	}
	if tokenExpiresAt.Valid {
		b.TokenExpiresAt = tokenExpiresAt.Time
	}
	return b, nil
}

const botColumns = `id, display_name, twitch_user_id, login, access_token, refresh_token, token_expires_at, enabled, created_at, updated_at`

func (r *BotRepo) GetByID(ctx context.Context, id string) (models.Bot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Bot{}, ErrNotFound
	}
	return b, err
}

func (r *BotRepo) GetByTwitchUserID(ctx context.Context, twitchUserID string) (models.Bot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE twitch_user_id = $1`, twitchUserID)
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Bot{}, ErrNotFound
	}
	return b, err
}

func (r *BotRepo) List(ctx context.Context) ([]models.Bot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *BotRepo) ListEnabled(ctx context.Context) ([]models.Bot, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *BotRepo) Create(ctx context.Context, b models.Bot) (models.Bot, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO bots (display_name, twitch_user_id, login, access_token, refresh_token, token_expires_at, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING `+botColumns,
		b.DisplayName, b.TwitchUserID, b.Login, b.AccessToken, b.RefreshToken, b.TokenExpiresAt, b.Enabled)
	return scanBot(row)
}

// Disable sets enabled=false and clears both tokens — used when an
// authorization-revoke notification arrives (§4.9 step 1).
func (r *BotRepo) Disable(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bots SET enabled = FALSE, access_token = '', refresh_token = '', updated_at = $2
		WHERE id = $1`, id, time.Now().UTC())
	return err
}

func (r *BotRepo) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bots SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = $5
		WHERE id = $1`, id, accessToken, refreshToken, expiresAt, time.Now().UTC())
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

func (r *BotRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bots WHERE id = $1`, id)
	return err
}
