package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
)

const slotColumns = `id::text, provider_id, start_time, end_time, created_at`

func scanSlot(row pgx.CollectableRow) (model.Slot, error) {
	var s model.Slot
	err := row.Scan(&s.ID, &s.ProviderID, &s.StartTime, &s.EndTime, &s.CreatedAt)
	return s, err
}

func (t *pgTx) InsertSlot(ctx context.Context, slot model.Slot) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO availability_slots (id, provider_id, start_time, end_time, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, slot.ID, slot.ProviderID, slot.StartTime, slot.EndTime, slot.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) GetSlot(ctx context.Context, slotID string) (model.Slot, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id = $1`, slotID)
	if err != nil {
		return model.Slot{}, mapErr(err)
	}
	slot, err := pgx.CollectExactlyOneRow(rows, scanSlot)
	return slot, mapErr(err)
}

func (t *pgTx) ListSlotsOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]model.Slot, error) {
	return t.querySlots(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE provider_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`, providerID, start, end)
}

func (t *pgTx) ListSlotsFrom(ctx context.Context, providerID string, from time.Time, limit int) ([]model.Slot, error) {
	return t.querySlots(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE provider_id = $1 AND start_time >= $2
		ORDER BY start_time, id
		LIMIT $3
	`, providerID, from, limit)
}

func (t *pgTx) FindCoveringSlot(ctx context.Context, providerID string, start, end time.Time) (model.Slot, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE provider_id = $1 AND start_time <= $2 AND end_time >= $3
		ORDER BY start_time
		LIMIT 1
	`, providerID, start, end)
	if err != nil {
		return model.Slot{}, mapErr(err)
	}
	slot, err := pgx.CollectExactlyOneRow(rows, scanSlot)
	return slot, mapErr(err)
}

func (t *pgTx) querySlots(ctx context.Context, sql string, args ...any) ([]model.Slot, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	slots, err := pgx.CollectRows(rows, scanSlot)
	return slots, mapErr(err)
}
