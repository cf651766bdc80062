package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
)

const (
	EventBookingDecided      = "booking.decided"
	EventAuthorizationDenied = "authorization.denied"
	EventAccountPurged       = "account.purged"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Record(ctx context.Context, tx pgx.Tx, entry model.AuditEntry) error {
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	raw, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_id, metadata)
		VALUES ($1, NULLIF($2, ''), $3)
	`, entry.EventType, entry.ActorID, raw)
	return err
}

func (r *Repository) ListByActor(ctx context.Context, tx pgx.Tx, actorID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := tx.Query(ctx, `
		SELECT event_type, COALESCE(actor_id, ''), metadata, created_at
		FROM audit_events
		WHERE actor_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var raw []byte
		var createdAt time.Time
		if err := rows.Scan(&e.EventType, &e.ActorID, &raw, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &e.Metadata); err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
