package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage"
)

const (
	DefaultGranularity = 15 * time.Minute
	MaxDuration        = 24 * time.Hour
	defaultPageSize    = 50
	maxPageSize        = 200
)

type Resolver struct {
	store       storage.Store
	logger      *slog.Logger
	now         func() time.Time
	granularity time.Duration
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithGranularity(g time.Duration) Option {
	return func(r *Resolver) {
		if g > 0 {
			r.granularity = g
		}
	}
}

func NewResolver(store storage.Store, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:       store,
		logger:      logger,
		now:         time.Now,
		granularity: DefaultGranularity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSlot advertises [start, end) for providerID. The start must lie in the future
// and the slot may not overlap another slot of the same provider.
func (r *Resolver) CreateSlot(ctx context.Context, providerID string, start, end time.Time) (model.Slot, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return model.Slot{}, apperr.New(apperr.Validation, "provider_id is required")
	}
	now := r.now().UTC()
	start, end = start.UTC(), end.UTC()
	if !start.After(now) {
		return model.Slot{}, apperr.New(apperr.Validation, "slot must start in the future")
	}
	if !end.After(start) {
		return model.Slot{}, apperr.New(apperr.Validation, "slot end must be after its start")
	}

	slot := model.Slot{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		StartTime:  start,
		EndTime:    end,
		CreatedAt:  now,
	}
	err := storage.Atomically(ctx, r.store, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockParties(ctx, providerID); err != nil {
			return err
		}
		existing, err := tx.ListSlotsOverlapping(ctx, providerID, start, end)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return errSlotOverlap(existing[0])
		}
		if err := tx.InsertSlot(ctx, slot); err != nil {
			if errors.Is(err, storage.ErrOverlap) {
				return apperr.Wrap(apperr.Conflict, "slot overlaps an existing slot", err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return model.Slot{}, err
	}
	r.logger.Info("slot created", "slot_id", slot.ID, "provider_id", providerID,
		"start_time", start.Format(time.RFC3339), "end_time", end.Format(time.RFC3339))
	return slot, nil
}

func errSlotOverlap(existing model.Slot) error {
	return apperr.Newf(apperr.Conflict, "slot overlaps existing slot %s to %s",
		existing.StartTime.Format(time.RFC3339), existing.EndTime.Format(time.RFC3339))
}

// SlotPage is one page of a provider's upcoming slots. NextFrom is zero on the last page.
type SlotPage struct {
	Slots    []model.Slot
	NextFrom time.Time
}

// ListUpcomingSlots returns slots with start >= from in ascending order. A provider's
// slots never overlap, so their starts are unique and NextFrom resumes exactly.
func (r *Resolver) ListUpcomingSlots(ctx context.Context, providerID string, from time.Time, limit int) (SlotPage, error) {
	if strings.TrimSpace(providerID) == "" {
		return SlotPage{}, apperr.New(apperr.Validation, "provider_id is required")
	}
	if from.IsZero() {
		from = r.now()
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var slots []model.Slot
	err := storage.Atomically(ctx, r.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		slots, err = tx.ListSlotsFrom(ctx, providerID, from.UTC(), limit+1)
		return err
	})
	if err != nil {
		return SlotPage{}, err
	}

	page := SlotPage{Slots: slots}
	if len(slots) > limit {
		page.Slots = slots[:limit]
		page.NextFrom = slots[limit].StartTime
	}
	return page, nil
}

// ValidStartTimes enumerates bookable starts inside one slot.
func (r *Resolver) ValidStartTimes(ctx context.Context, slotID string, duration time.Duration) ([]time.Time, error) {
	if err := validateDuration(duration); err != nil {
		return nil, err
	}
	var starts []time.Time
	err := storage.Atomically(ctx, r.store, func(ctx context.Context, tx storage.Tx) error {
		slot, err := tx.GetSlot(ctx, slotID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.NotFound, "slot not found")
		}
		if err != nil {
			return err
		}
		starts, err = r.startsInSlots(ctx, tx, slot.ProviderID, []model.Slot{slot}, duration)
		return err
	})
	return starts, err
}

// ValidStartTimesOnDate enumerates bookable starts, across all of the provider's slots,
// that fall on the given UTC calendar day.
func (r *Resolver) ValidStartTimesOnDate(ctx context.Context, providerID string, date time.Time, duration time.Duration) ([]time.Time, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, apperr.New(apperr.Validation, "provider_id is required")
	}
	if err := validateDuration(duration); err != nil {
		return nil, err
	}
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var starts []time.Time
	err := storage.Atomically(ctx, r.store, func(ctx context.Context, tx storage.Tx) error {
		slots, err := tx.ListSlotsOverlapping(ctx, providerID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		all, err := r.startsInSlots(ctx, tx, providerID, slots, duration)
		if err != nil {
			return err
		}
		starts = starts[:0]
		for _, s := range all {
			if !s.Before(dayStart) && s.Before(dayEnd) {
				starts = append(starts, s)
			}
		}
		return nil
	})
	return starts, err
}

// startsInSlots loads the provider's active bookings over the slots' span once and
// checks each candidate against a BusyIndex.
func (r *Resolver) startsInSlots(ctx context.Context, tx storage.Tx, providerID string, slots []model.Slot, duration time.Duration) ([]time.Time, error) {
	if len(slots) == 0 {
		return nil, nil
	}
	spanStart, spanEnd := slots[0].StartTime, slots[0].EndTime
	for _, s := range slots[1:] {
		if s.StartTime.Before(spanStart) {
			spanStart = s.StartTime
		}
		if s.EndTime.After(spanEnd) {
			spanEnd = s.EndTime
		}
	}

	booked, err := tx.ListActiveBookings(ctx, model.RoleProvider, providerID, spanStart, spanEnd)
	if err != nil {
		return nil, err
	}
	busy := make([]Interval, 0, len(booked))
	for _, b := range booked {
		busy = append(busy, Interval{Start: b.StartTime, End: b.EndTime})
	}

	now := r.now().UTC()
	var starts []time.Time
	for _, s := range slots {
		starts = append(starts, AvailableSlots(s.StartTime, s.EndTime, duration, r.granularity, busy, now)...)
	}
	return starts, nil
}

func validateDuration(d time.Duration) error {
	if d <= 0 {
		return apperr.New(apperr.Validation, "duration must be positive")
	}
	if d > MaxDuration {
		return apperr.New(apperr.Validation, fmt.Sprintf("duration must not exceed %s", MaxDuration))
	}
	if d%time.Minute != 0 {
		return apperr.New(apperr.Validation, "duration must be a whole number of minutes")
	}
	return nil
}
