package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kwld/twitch-service/internal/models"
)

// ConsumerRepo persists models.Consumer rows.
type ConsumerRepo struct{ db *sql.DB }

const consumerColumns = `id, name, credential_id, hashed_secret, enabled, created_at, updated_at`

func scanConsumer(row interface{ Scan(...any) error }) (models.Consumer, error) {
	var c models.Consumer
	err := row.Scan(&c.ID, &c.Name, &c.CredentialID, &c.HashedSecret, &c.Enabled, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *ConsumerRepo) GetByID(ctx context.Context, id string) (models.Consumer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+consumerColumns+` FROM consumers WHERE id = $1`, id)
	c, err := scanConsumer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Consumer{}, ErrNotFound
	}
	return c, err
}

func (r *ConsumerRepo) GetByCredentialID(ctx context.Context, credentialID string) (models.Consumer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+consumerColumns+` FROM consumers WHERE credential_id = $1`, credentialID)
	c, err := scanConsumer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Consumer{}, ErrNotFound
	}
	return c, err
}

func (r *ConsumerRepo) List(ctx context.Context) ([]models.Consumer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+consumerColumns+` FROM consumers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Consumer
	for rows.Next() {
		c, err := scanConsumer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ConsumerRepo) Create(ctx context.Context, c models.Consumer) (models.Consumer, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO consumers (name, credential_id, hashed_secret, enabled)
		VALUES ($1,$2,$3,$4)
		RETURNING `+consumerColumns,
		c.Name, c.CredentialID, c.HashedSecret, c.Enabled)
	return scanConsumer(row)
}

// Delete removes a consumer; interests/authorizations/stats/traces cascade
// via the schema's ON DELETE CASCADE foreign keys.
func (r *ConsumerRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM consumers WHERE id = $1`, id)
	return err
}
