package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
)

const bookingColumns = `id::text, requester_id, provider_id, start_time, end_time, status, created_at, updated_at`

func scanBooking(row pgx.CollectableRow) (model.Booking, error) {
	var b model.Booking
	var status string
	err := row.Scan(&b.ID, &b.RequesterID, &b.ProviderID, &b.StartTime, &b.EndTime, &status, &b.CreatedAt, &b.UpdatedAt)
	b.Status = model.BookingStatus(status)
	return b, err
}

func (t *pgTx) InsertBooking(ctx context.Context, b model.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings (id, requester_id, provider_id, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, b.ID, b.RequesterID, b.ProviderID, b.StartTime, b.EndTime, string(b.Status), b.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) GetBooking(ctx context.Context, bookingID string, forUpdate bool) (model.Booking, error) {
	sql := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := t.tx.Query(ctx, sql, bookingID)
	if err != nil {
		return model.Booking{}, mapErr(err)
	}
	b, err := pgx.CollectExactlyOneRow(rows, scanBooking)
	return b, mapErr(err)
}

func (t *pgTx) ListActiveBookings(ctx context.Context, role model.Role, participantID string, start, end time.Time) ([]model.Booking, error) {
	column, err := participantColumn(role)
	if err != nil {
		return nil, err
	}
	return t.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE `+column+` = $1
			AND status IN ('Pending', 'Confirmed')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time
	`, participantID, start, end)
}

func (t *pgTx) UpdateBookingStatus(ctx context.Context, bookingID string, from, to model.BookingStatus, at time.Time) (model.Booking, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE bookings
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+bookingColumns, bookingID, string(from), string(to), at)
	if err != nil {
		return model.Booking{}, mapErr(err)
	}
	b, err := pgx.CollectExactlyOneRow(rows, scanBooking)
	return b, mapErr(err)
}

func (t *pgTx) ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error) {
	args := []any{filter.ParticipantID}
	var where string
	switch filter.Role {
	case model.RoleProvider:
		where = `provider_id = $1`
	case model.RoleRequester:
		where = `requester_id = $1`
	default:
		where = `(provider_id = $1 OR requester_id = $1)`
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		where += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	return t.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE `+where+`
		ORDER BY start_time DESC, id
		LIMIT $`+fmt.Sprint(len(args)), args...)
}

func (t *pgTx) ClaimElapsedConfirmed(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	return t.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'Confirmed' AND end_time <= $1
		ORDER BY end_time
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
}

func (t *pgTx) LockIdempotencyKey(ctx context.Context, requesterID, key string) (string, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (requester_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (requester_id, idempotency_key) DO NOTHING
	`, requesterID, key)
	if err != nil {
		return "", mapErr(err)
	}
	var bookingID string
	err = t.tx.QueryRow(ctx, `
		SELECT COALESCE(booking_id::text, '')
		FROM booking_idempotency_keys
		WHERE requester_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, requesterID, key).Scan(&bookingID)
	return bookingID, mapErr(err)
}

func (t *pgTx) FinalizeIdempotencyKey(ctx context.Context, requesterID, key, bookingID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3, updated_at = now()
		WHERE requester_id = $1 AND idempotency_key = $2
	`, requesterID, key, bookingID)
	return mapErr(err)
}

func (t *pgTx) queryBookings(ctx context.Context, sql string, args ...any) ([]model.Booking, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	bookings, err := pgx.CollectRows(rows, scanBooking)
	return bookings, mapErr(err)
}

var errUnknownRole = errors.New("storage: unknown participant role")

func participantColumn(role model.Role) (string, error) {
	switch model.Role(strings.ToLower(string(role))) {
	case model.RoleProvider:
		return "provider_id", nil
	case model.RoleRequester:
		return "requester_id", nil
	default:
		return "", errUnknownRole
	}
}
