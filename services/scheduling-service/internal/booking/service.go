package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/audit"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage"
)

const (
	maxDurationMinutes = 24 * 60
	// completionLockKey elects a single sweeper across replicas.
	completionLockKey int64 = 5150001
)

type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

func (a Action) target() (model.BookingStatus, bool) {
	switch a {
	case ActionAccept:
		return model.StatusConfirmed, true
	case ActionReject:
		return model.StatusRejected, true
	default:
		return "", false
	}
}

type Service struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store storage.Store, logger *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, logger: logger, now: now}
}

type CreateRequest struct {
	RequesterID     string
	ProviderID      string
	Start           time.Time
	DurationMinutes int
	// IdempotencyKey, when set, makes a retried request return the booking the first
	// attempt created. Reusing a key for a different provider or window is rejected.
	IdempotencyKey string
}

// Create reserves [start, start+duration) for the requester with the provider. Slot
// coverage and both parties' calendars are re-checked inside the same transaction
// that inserts the booking, under per-party locks.
func (s *Service) Create(ctx context.Context, req CreateRequest) (model.Booking, bool, error) {
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if req.RequesterID == "" || req.ProviderID == "" {
		return model.Booking{}, false, apperr.New(apperr.Validation, "requester_id and provider_id are required")
	}
	if req.RequesterID == req.ProviderID {
		return model.Booking{}, false, apperr.New(apperr.Validation, "a participant cannot book themselves")
	}
	if req.DurationMinutes <= 0 || req.DurationMinutes > maxDurationMinutes {
		return model.Booking{}, false, apperr.Newf(apperr.Validation, "duration_minutes must be between 1 and %d", maxDurationMinutes)
	}
	now := s.now().UTC()
	start := req.Start.UTC()
	end := start.Add(time.Duration(req.DurationMinutes) * time.Minute)
	if !start.After(now) {
		return model.Booking{}, false, apperr.New(apperr.Validation, "booking must start in the future")
	}
	if !end.After(start) {
		return model.Booking{}, false, apperr.New(apperr.Validation, "booking end must be after its start")
	}

	var (
		booking  model.Booking
		replayed bool
	)
	err := storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		replayed = false
		if req.IdempotencyKey != "" {
			existingID, err := tx.LockIdempotencyKey(ctx, req.RequesterID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existingID != "" {
				prior, err := tx.GetBooking(ctx, existingID, false)
				if err != nil {
					return err
				}
				if prior.ProviderID != req.ProviderID || !prior.StartTime.Equal(start) || !prior.EndTime.Equal(end) {
					return apperr.New(apperr.Validation, "Idempotency-Key was already used for a different booking request")
				}
				booking = prior
				replayed = true
				return nil
			}
		}

		if err := tx.LockParties(ctx, req.ProviderID, req.RequesterID); err != nil {
			return err
		}
		if _, err := tx.FindCoveringSlot(ctx, req.ProviderID, start, end); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.New(apperr.NotAvailable, "requested window is not covered by the provider's availability")
			}
			return err
		}
		if err := ensureFree(ctx, tx, model.RoleProvider, req.ProviderID, start, end); err != nil {
			return err
		}
		if err := ensureFree(ctx, tx, model.RoleRequester, req.RequesterID, start, end); err != nil {
			return err
		}

		booking = model.Booking{
			ID:          uuid.NewString(),
			RequesterID: req.RequesterID,
			ProviderID:  req.ProviderID,
			StartTime:   start,
			EndTime:     end,
			Status:      model.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertBooking(ctx, booking); err != nil {
			if errors.Is(err, storage.ErrOverlap) {
				return apperr.Wrap(apperr.Conflict, "requested window overlaps an active booking", err)
			}
			return err
		}

		evt, err := outbox.NewEvent("booking", booking.ID, outbox.BookingCreated, bookingPayload(booking))
		if err != nil {
			return err
		}
		if err := tx.EnqueueEvent(ctx, evt); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			return tx.FinalizeIdempotencyKey(ctx, req.RequesterID, req.IdempotencyKey, booking.ID)
		}
		return nil
	})
	if err != nil {
		return model.Booking{}, false, err
	}

	if replayed {
		s.logger.Info("booking create replayed", "booking_id", booking.ID, "requester_id", req.RequesterID)
	} else {
		s.logger.Info("booking created", "booking_id", booking.ID, "provider_id", booking.ProviderID,
			"requester_id", booking.RequesterID, "start_time", start.Format(time.RFC3339), "end_time", end.Format(time.RFC3339))
	}
	return booking, replayed, nil
}

func ensureFree(ctx context.Context, tx storage.Tx, role model.Role, participantID string, start, end time.Time) error {
	active, err := tx.ListActiveBookings(ctx, role, participantID, start, end)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}
	if role == model.RoleProvider {
		return apperr.New(apperr.Conflict, "provider already has an active booking in this window")
	}
	return apperr.New(apperr.Conflict, "requester already has an active booking in this window")
}

// Decide applies the provider's accept or reject to a Pending booking.
func (s *Service) Decide(ctx context.Context, bookingID, actorID string, action Action) (model.Booking, error) {
	target, ok := action.target()
	if !ok {
		return model.Booking{}, apperr.New(apperr.Validation, "action must be accept or reject")
	}
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return model.Booking{}, apperr.New(apperr.Validation, "booking_id is required")
	}

	var updated model.Booking
	err := storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		b, err := tx.GetBooking(ctx, bookingID, true)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.NotFound, "booking not found")
		}
		if err != nil {
			return err
		}
		if b.ProviderID != actorID {
			return apperr.New(apperr.Authorization, "only the booking's provider can decide it")
		}
		if !b.Status.CanTransitionTo(target) {
			return apperr.Newf(apperr.InvalidState, "booking is %s, only Pending bookings can be decided", b.Status)
		}

		at := s.now().UTC()
		updated, err = tx.UpdateBookingStatus(ctx, b.ID, model.StatusPending, target, at)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.InvalidState, "booking is no longer Pending")
		}
		if err != nil {
			return err
		}

		meta := map[string]any{"booking_id": b.ID, "action": string(action), "status": string(target)}
		if err := tx.RecordAudit(ctx, model.AuditEntry{EventType: audit.EventBookingDecided, ActorID: actorID, Metadata: meta, CreatedAt: at}); err != nil {
			return err
		}
		evt, err := outbox.NewEvent("booking", b.ID, outbox.BookingDecided, map[string]any{
			"actor_id":   actorID,
			"booking_id": b.ID,
			"action":     string(action),
			"status":     string(target),
			"decided_at": at.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, evt)
	})
	if err != nil {
		if apperr.Is(err, apperr.Authorization) {
			s.RecordDenied(ctx, actorID, "booking.decide", bookingID)
		}
		return model.Booking{}, err
	}

	s.logger.Info("booking decided", "booking_id", updated.ID, "actor_id", actorID, "action", string(action), "status", string(updated.Status))
	return updated, nil
}

// RecordDenied logs and audits a rejected ownership check. It runs in its own
// transaction because the denied unit of work was rolled back.
func (s *Service) RecordDenied(ctx context.Context, actorID, operation, resourceID string) {
	s.logger.Warn("authorization denied", "actor_id", actorID, "operation", operation, "resource_id", resourceID)
	err := storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		return tx.RecordAudit(ctx, model.AuditEntry{
			EventType: audit.EventAuthorizationDenied,
			ActorID:   actorID,
			Metadata:  map[string]any{"operation": operation, "resource_id": resourceID},
			CreatedAt: s.now().UTC(),
		})
	})
	if err != nil {
		s.logger.Error("failed to audit authorization denial", "err", err, "actor_id", actorID)
	}
}

// ListForParticipant returns the participant's bookings on the given side, newest first.
func (s *Service) ListForParticipant(ctx context.Context, participantID string, role model.Role, statuses []model.BookingStatus, limit int) ([]model.Booking, error) {
	if role != model.RoleProvider && role != model.RoleRequester {
		return nil, apperr.New(apperr.Validation, "role must be provider or requester")
	}
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, apperr.Newf(apperr.Validation, "unknown status %q", st)
		}
	}
	return s.list(ctx, model.BookingFilter{ParticipantID: participantID, Role: role, Statuses: statuses, Limit: clampLimit(limit)})
}

// ListCompleted returns Completed bookings where participantID is on either side.
func (s *Service) ListCompleted(ctx context.Context, participantID string, limit int) ([]model.Booking, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, apperr.New(apperr.Validation, "participant_id is required")
	}
	return s.list(ctx, model.BookingFilter{
		ParticipantID: participantID,
		Statuses:      []model.BookingStatus{model.StatusCompleted},
		Limit:         clampLimit(limit),
	})
}

func (s *Service) list(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error) {
	var out []model.Booking
	err := storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListBookings(ctx, filter)
		return err
	})
	return out, err
}

// CompleteElapsed moves up to limit Confirmed bookings whose window has ended to
// Completed. It returns 0 without work when another replica holds the sweep lock.
func (s *Service) CompleteElapsed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	var done int
	err := storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		done = 0
		locked, err := tx.TryLeaderLock(ctx, completionLockKey)
		if err != nil || !locked {
			return err
		}
		now := s.now().UTC()
		due, err := tx.ClaimElapsedConfirmed(ctx, now, limit)
		if err != nil {
			return err
		}
		for _, b := range due {
			updated, err := tx.UpdateBookingStatus(ctx, b.ID, model.StatusConfirmed, model.StatusCompleted, now)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			evt, err := outbox.NewEvent("booking", b.ID, outbox.BookingCompleted, bookingPayload(updated))
			if err != nil {
				return err
			}
			if err := tx.EnqueueEvent(ctx, evt); err != nil {
				return err
			}
			done++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if done > 0 {
		s.logger.Info("bookings completed", "count", done)
	}
	return done, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func bookingPayload(b model.Booking) map[string]any {
	return map[string]any{
		"booking_id":   b.ID,
		"provider_id":  b.ProviderID,
		"requester_id": b.RequesterID,
		"start_time":   b.StartTime.UTC().Format(time.RFC3339),
		"end_time":     b.EndTime.UTC().Format(time.RFC3339),
		"status":       string(b.Status),
	}
}
