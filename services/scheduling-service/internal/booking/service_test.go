package booking_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage/memory"
)

type harness struct {
	store    *memory.Store
	now      time.Time
	bookings *booking.Service
	slots    *availability.Resolver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memory.New(), now: time.Date(2030, 5, 6, 8, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return h.now }
	h.bookings = booking.NewService(h.store, logger, clock)
	h.slots = availability.NewResolver(h.store, logger, availability.WithClock(clock))
	return h
}

func tomorrow(hh, mm int) time.Time {
	return time.Date(2030, 5, 7, hh, mm, 0, 0, time.UTC)
}

func (h *harness) slot(t *testing.T, provider string, start, end time.Time) model.Slot {
	t.Helper()
	s, err := h.slots.CreateSlot(context.Background(), provider, start, end)
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return s
}

func (h *harness) book(requester, provider string, start time.Time, minutes int) (model.Booking, error) {
	b, _, err := h.bookings.Create(context.Background(), booking.CreateRequest{
		RequesterID:     requester,
		ProviderID:      provider,
		Start:           start,
		DurationMinutes: minutes,
	})
	return b, err
}

func TestCreateBookingConflicts(t *testing.T) {
	h := newHarness(t)
	h.slot(t, "prov", tomorrow(10, 0), tomorrow(12, 0))

	b, err := h.book("req-a", "prov", tomorrow(10, 0), 30)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if b.Status != model.StatusPending || !b.EndTime.Equal(tomorrow(10, 30)) {
		t.Fatalf("unexpected booking: %+v", b)
	}

	if _, err := h.book("req-b", "prov", tomorrow(10, 15), 30); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected provider conflict, got %v", err)
	}
	if _, err := h.book("req-b", "prov", tomorrow(10, 30), 30); err != nil {
		t.Fatalf("adjacent booking: %v", err)
	}
}

func TestCreateBookingRequesterOverlap(t *testing.T) {
	h := newHarness(t)
	h.slot(t, "prov-1", tomorrow(10, 0), tomorrow(12, 0))
	h.slot(t, "prov-2", tomorrow(10, 0), tomorrow(12, 0))

	if _, err := h.book("req", "prov-1", tomorrow(10, 0), 60); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := h.book("req", "prov-2", tomorrow(10, 30), 30); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected requester conflict, got %v", err)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	h := newHarness(t)
	h.slot(t, "prov", tomorrow(10, 0), tomorrow(12, 0))

	cases := []struct {
		name      string
		requester string
		provider  string
		start     time.Time
		minutes   int
		want      apperr.Kind
	}{
		{"self booking", "prov", "prov", tomorrow(10, 0), 30, apperr.Validation},
		{"missing requester", "", "prov", tomorrow(10, 0), 30, apperr.Validation},
		{"zero duration", "req", "prov", tomorrow(10, 0), 0, apperr.Validation},
		{"past start", "req", "prov", h.now.Add(-time.Hour), 30, apperr.Validation},
		{"outside slot", "req", "prov", tomorrow(11, 45), 30, apperr.NotAvailable},
		{"no slot", "req", "prov", tomorrow(15, 0), 30, apperr.NotAvailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.book(tc.requester, tc.provider, tc.start, tc.minutes); !apperr.Is(err, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	h := newHarness(t)
	h.slot(t, "prov", tomorrow(10, 0), tomorrow(12, 0))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.book("req-"+string(rune('a'+i)), "prov", tomorrow(10, 0), 30)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.Conflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected one winner, got %d", ok)
	}
}

func TestCreateBookingIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.slot(t, "prov", tomorrow(10, 0), tomorrow(12, 0))
	ctx := context.Background()
	req := booking.CreateRequest{
		RequesterID:     "req",
		ProviderID:      "prov",
		Start:           tomorrow(10, 0),
		DurationMinutes: 30,
		IdempotencyKey:  "key-1",
	}

	first, replayed, err := h.bookings.Create(ctx, req)
	if err != nil || replayed {
		t.Fatalf("first create: replayed=%v err=%v", replayed, err)
	}
	second, replayed, err := h.bookings.Create(ctx, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replayed || second.ID != first.ID {
		t.Fatalf("expected replay of %s, got %s (replayed=%v)", first.ID, second.ID, replayed)
	}

	var created int
	for _, evt := range h.store.Events() {
		if evt.EventType == outbox.BookingCreated {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected one created event, got %d", created)
	}

	moved := req
	moved.Start = tomorrow(11, 0)
	if _, _, err := h.bookings.Create(ctx, moved); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error for a reused key with another window, got %v", err)
	}
	longer := req
	longer.DurationMinutes = 60
	if _, _, err := h.bookings.Create(ctx, longer); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error for a reused key with another duration, got %v", err)
	}
	otherProvider := req
	otherProvider.ProviderID = "prov-2"
	if _, _, err := h.bookings.Create(ctx, otherProvider); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error for a reused key with another provider, got %v", err)
	}
}

func TestDecideTransitions(t *testing.T) {
	h := newHarness(t)
	h.slot(t, "prov", tomorrow(10, 0), tomorrow(12, 0))
	ctx := context.Background()

	b, err := h.book("req", "prov", tomorrow(10, 0), 30)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := h.bookings.Decide(ctx, b.ID, "req", booking.ActionAccept); !apperr.Is(err, apperr.Authorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, err := h.bookings.Decide(ctx, b.ID, "prov", booking.Action("maybe")); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.bookings.Decide(ctx, "missing", "prov", booking.ActionAccept); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	rejected, err := h.bookings.Decide(ctx, b.ID, "prov", booking.ActionReject)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != model.StatusRejected {
		t.Fatalf("status = %s", rejected.Status)
	}
	if _, err := h.bookings.Decide(ctx, b.ID, "prov", booking.ActionAccept); !apperr.Is(err, apperr.InvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	// A rejected booking frees the window.
	if _, err := h.book("req-2", "prov", tomorrow(10, 0), 30); err != nil {
		t.Fatalf("rebook after reject: %v", err)
	}

	var decided, denied int
	for _, e := range h.store.AuditEntries() {
		switch e.EventType {
		case "booking.decided":
			decided++
		case "authorization.denied":
			denied++
		}
	}
	if decided != 1 || denied != 1 {
		t.Fatalf("audit: decided=%d denied=%d", decided, denied)
	}
}

func TestCompleteElapsed(t *testing.T) {
	h := newHarness(t)
	h.slot(t, "prov", tomorrow(10, 0), tomorrow(12, 0))
	ctx := context.Background()

	accepted, err := h.book("req-1", "prov", tomorrow(10, 0), 30)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	pending, err := h.book("req-2", "prov", tomorrow(11, 0), 30)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := h.bookings.Decide(ctx, accepted.ID, "prov", booking.ActionAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}

	n, err := h.bookings.CompleteElapsed(ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("before end: n=%d err=%v", n, err)
	}

	h.now = tomorrow(12, 0)
	n, err = h.bookings.CompleteElapsed(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("after end: n=%d err=%v", n, err)
	}

	done, err := h.bookings.ListCompleted(ctx, "prov", 0)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(done) != 1 || done[0].ID != accepted.ID {
		t.Fatalf("unexpected completed list: %+v", done)
	}
	mine, err := h.bookings.ListCompleted(ctx, "req-1", 0)
	if err != nil || len(mine) != 1 {
		t.Fatalf("requester completed list: %v %v", mine, err)
	}

	open, err := h.bookings.ListForParticipant(ctx, "prov", model.RoleProvider, []model.BookingStatus{model.StatusPending}, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(open) != 1 || open[0].ID != pending.ID {
		t.Fatalf("unexpected pending list: %+v", open)
	}
	if _, err := h.bookings.ListForParticipant(ctx, "prov", model.RoleProvider, []model.BookingStatus{"Lost"}, 0); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation for unknown status, got %v", err)
	}
}
