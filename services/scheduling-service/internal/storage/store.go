package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/outbox"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrOverlap   = errors.New("storage: interval overlaps an existing row")
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrSerialization marks a unit of work that lost a concurrency race and may be retried.
	ErrSerialization = errors.New("storage: serialization failure")
)

// Store runs units of work atomically. Every Tx sees a serializable snapshot and
// either all of its writes commit or none do.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

type Tx interface {
	InsertSlot(ctx context.Context, slot model.Slot) error
	GetSlot(ctx context.Context, slotID string) (model.Slot, error)
	// ListSlotsOverlapping returns the provider's slots intersecting [start, end).
	ListSlotsOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]model.Slot, error)
	// ListSlotsFrom returns up to limit slots with start_time >= from, ascending.
	ListSlotsFrom(ctx context.Context, providerID string, from time.Time, limit int) ([]model.Slot, error)
	// FindCoveringSlot returns a slot containing [start, end) or ErrNotFound.
	FindCoveringSlot(ctx context.Context, providerID string, start, end time.Time) (model.Slot, error)

	// LockParties serialises writers touching any of the given participants until commit.
	LockParties(ctx context.Context, participantIDs ...string) error

	InsertBooking(ctx context.Context, b model.Booking) error
	GetBooking(ctx context.Context, bookingID string, forUpdate bool) (model.Booking, error)
	// ListActiveBookings returns Pending/Confirmed bookings intersecting [start, end)
	// where participantID sits on the side named by role.
	ListActiveBookings(ctx context.Context, role model.Role, participantID string, start, end time.Time) ([]model.Booking, error)
	// UpdateBookingStatus moves a booking from one status to another. It returns
	// ErrNotFound when the booking is not currently in from.
	UpdateBookingStatus(ctx context.Context, bookingID string, from, to model.BookingStatus, at time.Time) (model.Booking, error)
	ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error)
	// ClaimElapsedConfirmed locks up to limit Confirmed bookings whose end_time <= now.
	ClaimElapsedConfirmed(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)

	// LockIdempotencyKey reserves key for requesterID and returns the booking it already
	// produced, if any.
	LockIdempotencyKey(ctx context.Context, requesterID, key string) (bookingID string, err error)
	FinalizeIdempotencyKey(ctx context.Context, requesterID, key, bookingID string) error

	HasCompletedPayment(ctx context.Context, bookingID string) (bool, error)
	InsertPayment(ctx context.Context, p model.Payment) error
	ListPayments(ctx context.Context, requesterID string, limit int) ([]model.Payment, error)
	// SummarizePayments totals Completed payments where participantID is the payer
	// (requester) or the payee (provider). Monthly buckets start at since.
	SummarizePayments(ctx context.Context, role model.Role, participantID string, since time.Time) (model.PaymentSummary, error)

	InsertToken(ctx context.Context, tok model.PaymentToken) error
	// ClaimToken marks the token used if it is unused, unexpired at now and bound to
	// requesterID. Any other case is ErrNotFound.
	ClaimToken(ctx context.Context, hash []byte, requesterID string, now time.Time) (model.PaymentToken, error)

	// DeleteAccount removes every slot, booking, payment and token the account takes part in.
	DeleteAccount(ctx context.Context, accountID string) (model.AccountPurge, error)

	// RecordInbox reports false when eventID was already processed.
	RecordInbox(ctx context.Context, eventID, eventType string) (bool, error)
	// TryLeaderLock takes a transaction-scoped lock without waiting.
	TryLeaderLock(ctx context.Context, key int64) (bool, error)
	EnqueueEvent(ctx context.Context, evt outbox.Event) error
	RecordAudit(ctx context.Context, entry model.AuditEntry) error
	ListAudit(ctx context.Context, actorID string, limit int) ([]model.AuditEntry, error)
}

// Atomically runs fn in one transaction and retries once when it loses a
// serialization race. A second loss is reported as apperr.Transient.
func Atomically(ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) error) error {
	err := s.InTx(ctx, fn)
	if !errors.Is(err, ErrSerialization) {
		return err
	}
	err = s.InTx(ctx, fn)
	if errors.Is(err, ErrSerialization) {
		return apperr.Wrap(apperr.Transient, "the request collided with a concurrent update, please retry", err)
	}
	return err
}
