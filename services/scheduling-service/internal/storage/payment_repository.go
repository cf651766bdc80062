package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
)

func (t *pgTx) HasCompletedPayment(ctx context.Context, bookingID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM payments WHERE booking_id = $1 AND status = 'Completed')
	`, bookingID).Scan(&exists)
	return exists, mapErr(err)
}

func (t *pgTx) InsertPayment(ctx context.Context, p model.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, requester_id, booking_id, amount_cents, currency, status, transaction_id, provider_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.RequesterID, p.BookingID, p.AmountCents, p.Currency, string(p.Status), p.TransactionID, p.ProviderRef, p.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) ListPayments(ctx context.Context, requesterID string, limit int) ([]model.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id::text, requester_id, booking_id::text, amount_cents, currency, status, transaction_id, provider_ref, created_at
		FROM payments
		WHERE requester_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, requesterID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	payments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Payment, error) {
		var p model.Payment
		var status string
		err := row.Scan(&p.ID, &p.RequesterID, &p.BookingID, &p.AmountCents, &p.Currency, &status, &p.TransactionID, &p.ProviderRef, &p.CreatedAt)
		p.Status = model.PaymentStatus(status)
		return p, err
	})
	return payments, mapErr(err)
}

func (t *pgTx) SummarizePayments(ctx context.Context, role model.Role, participantID string, since time.Time) (model.PaymentSummary, error) {
	column, err := participantColumn(role)
	if err != nil {
		return model.PaymentSummary{}, err
	}
	// Both sides join through bookings so the provider (payee) view works too.
	scope := `FROM payments p JOIN bookings b ON b.id = p.booking_id WHERE b.` + column + ` = $1 AND p.status = 'Completed'`

	var sum model.PaymentSummary
	err = t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(p.amount_cents), 0), COUNT(*), COALESCE(MIN(p.currency), '') `+scope,
		participantID).Scan(&sum.TotalCents, &sum.Count, &sum.Currency)
	if err != nil {
		return model.PaymentSummary{}, mapErr(err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT to_char(date_trunc('month', p.created_at AT TIME ZONE 'UTC'), 'YYYY-MM') AS month,
			SUM(p.amount_cents), COUNT(*)
		`+scope+` AND p.created_at >= $2
		GROUP BY month
		ORDER BY month`, participantID, since)
	if err != nil {
		return model.PaymentSummary{}, mapErr(err)
	}
	monthly, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MonthlyTotal, error) {
		var m model.MonthlyTotal
		err := row.Scan(&m.Month, &m.AmountCents, &m.Count)
		return m, err
	})
	if err != nil {
		return model.PaymentSummary{}, mapErr(err)
	}
	sum.Monthly = monthly
	return sum, nil
}

func (t *pgTx) InsertToken(ctx context.Context, tok model.PaymentToken) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payment_tokens (token_hash, requester_id, booking_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tok.Hash, tok.RequesterID, tok.BookingID, tok.ExpiresAt, tok.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) ClaimToken(ctx context.Context, hash []byte, requesterID string, now time.Time) (model.PaymentToken, error) {
	var tok model.PaymentToken
	err := t.tx.QueryRow(ctx, `
		UPDATE payment_tokens
		SET used_at = $3
		WHERE token_hash = $1
			AND requester_id = $2
			AND used_at IS NULL
			AND expires_at > $3
		RETURNING token_hash, requester_id, booking_id::text, expires_at, used_at, created_at
	`, hash, requesterID, now).Scan(&tok.Hash, &tok.RequesterID, &tok.BookingID, &tok.ExpiresAt, &tok.UsedAt, &tok.CreatedAt)
	return tok, mapErr(err)
}
