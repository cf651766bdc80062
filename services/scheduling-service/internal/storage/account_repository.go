package storage

import (
	"context"

	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
)

// DeleteAccount relies on ON DELETE CASCADE for tokens and payments of removed
// bookings; the counts are taken first so the caller can log them.
func (t *pgTx) DeleteAccount(ctx context.Context, accountID string) (model.AccountPurge, error) {
	var purge model.AccountPurge
	err := t.tx.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM payment_tokens pt JOIN bookings b ON b.id = pt.booking_id
				WHERE b.provider_id = $1 OR b.requester_id = $1 OR pt.requester_id = $1),
			(SELECT COUNT(*) FROM payments p JOIN bookings b ON b.id = p.booking_id
				WHERE b.provider_id = $1 OR b.requester_id = $1 OR p.requester_id = $1)
	`, accountID).Scan(&purge.Tokens, &purge.Payments)
	if err != nil {
		return model.AccountPurge{}, mapErr(err)
	}

	tag, err := t.tx.Exec(ctx, `DELETE FROM bookings WHERE provider_id = $1 OR requester_id = $1`, accountID)
	if err != nil {
		return model.AccountPurge{}, mapErr(err)
	}
	purge.Bookings = tag.RowsAffected()

	tag, err = t.tx.Exec(ctx, `DELETE FROM availability_slots WHERE provider_id = $1`, accountID)
	if err != nil {
		return model.AccountPurge{}, mapErr(err)
	}
	purge.Slots = tag.RowsAffected()

	if _, err := t.tx.Exec(ctx, `DELETE FROM booking_idempotency_keys WHERE requester_id = $1`, accountID); err != nil {
		return model.AccountPurge{}, mapErr(err)
	}
	return purge, nil
}
