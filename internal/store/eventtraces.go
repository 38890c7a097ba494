package store

import (
	"context"
	"database/sql"

	"github.com/kwld/twitch-service/internal/models"
)

// EventTraceRepo appends models.EventTrace rows. Writes are always
// best-effort from the caller's perspective (§7): a failure here must never
// block delivery, so callers log-and-continue rather than propagate.
type EventTraceRepo struct{ db *sql.DB }

func (r *EventTraceRepo) Insert(ctx context.Context, t models.EventTrace) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO event_traces (direction, transport, event_type, target, redacted_payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		string(t.Direction), t.Transport, t.EventType, t.Target, t.RedactedPayload, t.CreatedAt)
	return err
}
