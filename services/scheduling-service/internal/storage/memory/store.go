// Package memory is an in-process storage.Store. Transactions run one at a time
// against a private copy of the state that replaces the shared state on commit.
package memory

import (
	"context"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage"
)

type Store struct {
	mu          sync.Mutex
	st          *state
	failCommits int
}

type state struct {
	slots    map[string]model.Slot
	bookings map[string]model.Booking
	payments map[string]model.Payment
	tokens   map[string]model.PaymentToken
	idem     map[string]string
	inbox    map[string]string
	events   []outbox.Event
	audit    []model.AuditEntry
}

func New() *Store {
	return &Store{st: &state{
		slots:    map[string]model.Slot{},
		bookings: map[string]model.Booking{},
		payments: map[string]model.Payment{},
		tokens:   map[string]model.PaymentToken{},
		idem:     map[string]string{},
		inbox:    map[string]string{},
	}}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	if s.failCommits > 0 {
		s.failCommits--
		return storage.ErrSerialization
	}
	s.st = work
	return nil
}

// FailNextCommits makes the next n transactions lose a serialization race at commit.
func (s *Store) FailNextCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

// Events returns the outbox events committed so far.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.st.events...)
}

func (s *Store) AuditEntries() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEntry(nil), s.st.audit...)
}

// Payments returns every committed payment for bookingID.
func (s *Store) Payments(bookingID string) []model.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Payment
	for _, p := range s.st.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out
}

func (st *state) clone() *state {
	c := &state{
		slots:    make(map[string]model.Slot, len(st.slots)),
		bookings: make(map[string]model.Booking, len(st.bookings)),
		payments: make(map[string]model.Payment, len(st.payments)),
		tokens:   make(map[string]model.PaymentToken, len(st.tokens)),
		idem:     make(map[string]string, len(st.idem)),
		inbox:    make(map[string]string, len(st.inbox)),
		events:   append([]outbox.Event(nil), st.events...),
		audit:    append([]model.AuditEntry(nil), st.audit...),
	}
	for k, v := range st.slots {
		c.slots[k] = v
	}
	for k, v := range st.bookings {
		c.bookings[k] = v
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k, v := range st.tokens {
		c.tokens[k] = v
	}
	for k, v := range st.idem {
		c.idem[k] = v
	}
	for k, v := range st.inbox {
		c.inbox[k] = v
	}
	return c
}

type memTx struct {
	st *state
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func (t *memTx) InsertSlot(_ context.Context, slot model.Slot) error {
	if _, ok := t.st.slots[slot.ID]; ok {
		return storage.ErrDuplicate
	}
	for _, s := range t.st.slots {
		if s.ProviderID == slot.ProviderID && overlaps(s.StartTime, s.EndTime, slot.StartTime, slot.EndTime) {
			return storage.ErrOverlap
		}
	}
	t.st.slots[slot.ID] = slot
	return nil
}

func (t *memTx) GetSlot(_ context.Context, slotID string) (model.Slot, error) {
	s, ok := t.st.slots[slotID]
	if !ok {
		return model.Slot{}, storage.ErrNotFound
	}
	return s, nil
}

func (t *memTx) ListSlotsOverlapping(_ context.Context, providerID string, start, end time.Time) ([]model.Slot, error) {
	return t.slotsWhere(func(s model.Slot) bool {
		return s.ProviderID == providerID && overlaps(s.StartTime, s.EndTime, start, end)
	}, 0), nil
}

func (t *memTx) ListSlotsFrom(_ context.Context, providerID string, from time.Time, limit int) ([]model.Slot, error) {
	return t.slotsWhere(func(s model.Slot) bool {
		return s.ProviderID == providerID && !s.StartTime.Before(from)
	}, limit), nil
}

func (t *memTx) FindCoveringSlot(_ context.Context, providerID string, start, end time.Time) (model.Slot, error) {
	found := t.slotsWhere(func(s model.Slot) bool {
		return s.ProviderID == providerID && s.Contains(start, end)
	}, 1)
	if len(found) == 0 {
		return model.Slot{}, storage.ErrNotFound
	}
	return found[0], nil
}

func (t *memTx) slotsWhere(keep func(model.Slot) bool, limit int) []model.Slot {
	var out []model.Slot
	for _, s := range t.st.slots {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (t *memTx) LockParties(context.Context, ...string) error { return nil }

func (t *memTx) TryLeaderLock(context.Context, int64) (bool, error) { return true, nil }

func (t *memTx) InsertBooking(_ context.Context, b model.Booking) error {
	if _, ok := t.st.bookings[b.ID]; ok {
		return storage.ErrDuplicate
	}
	if b.Status.IsActive() {
		for _, other := range t.st.bookings {
			if !other.Status.IsActive() || !overlaps(other.StartTime, other.EndTime, b.StartTime, b.EndTime) {
				continue
			}
			if other.ProviderID == b.ProviderID || other.RequesterID == b.RequesterID {
				return storage.ErrOverlap
			}
		}
	}
	b.UpdatedAt = b.CreatedAt
	t.st.bookings[b.ID] = b
	return nil
}

func (t *memTx) GetBooking(_ context.Context, bookingID string, _ bool) (model.Booking, error) {
	b, ok := t.st.bookings[bookingID]
	if !ok {
		return model.Booking{}, storage.ErrNotFound
	}
	return b, nil
}

func (t *memTx) ListActiveBookings(_ context.Context, role model.Role, participantID string, start, end time.Time) ([]model.Booking, error) {
	var out []model.Booking
	for _, b := range t.st.bookings {
		if !b.Status.IsActive() || !overlaps(b.StartTime, b.EndTime, start, end) {
			continue
		}
		switch role {
		case model.RoleProvider:
			if b.ProviderID != participantID {
				continue
			}
		case model.RoleRequester:
			if b.RequesterID != participantID {
				continue
			}
		default:
			return nil, storage.ErrNotFound
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (t *memTx) UpdateBookingStatus(_ context.Context, bookingID string, from, to model.BookingStatus, at time.Time) (model.Booking, error) {
	b, ok := t.st.bookings[bookingID]
	if !ok || b.Status != from {
		return model.Booking{}, storage.ErrNotFound
	}
	b.Status = to
	b.UpdatedAt = at
	t.st.bookings[bookingID] = b
	return b, nil
}

func (t *memTx) ListBookings(_ context.Context, f model.BookingFilter) ([]model.Booking, error) {
	var out []model.Booking
	for _, b := range t.st.bookings {
		switch f.Role {
		case model.RoleProvider:
			if b.ProviderID != f.ParticipantID {
				continue
			}
		case model.RoleRequester:
			if b.RequesterID != f.ParticipantID {
				continue
			}
		default:
			if b.ProviderID != f.ParticipantID && b.RequesterID != f.ParticipantID {
				continue
			}
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, b.Status) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasStatus(list []model.BookingStatus, s model.BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (t *memTx) ClaimElapsedConfirmed(_ context.Context, now time.Time, limit int) ([]model.Booking, error) {
	var out []model.Booking
	for _, b := range t.st.bookings {
		if b.Status == model.StatusConfirmed && !b.EndTime.After(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func idemKey(requesterID, key string) string {
	return requesterID + "\x00" + key
}

func (t *memTx) LockIdempotencyKey(_ context.Context, requesterID, key string) (string, error) {
	k := idemKey(requesterID, key)
	if id, ok := t.st.idem[k]; ok {
		return id, nil
	}
	t.st.idem[k] = ""
	return "", nil
}

func (t *memTx) FinalizeIdempotencyKey(_ context.Context, requesterID, key, bookingID string) error {
	t.st.idem[idemKey(requesterID, key)] = bookingID
	return nil
}

func (t *memTx) HasCompletedPayment(_ context.Context, bookingID string) (bool, error) {
	for _, p := range t.st.payments {
		if p.BookingID == bookingID && p.Status == model.PaymentCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertPayment(ctx context.Context, p model.Payment) error {
	if _, ok := t.st.bookings[p.BookingID]; !ok {
		return storage.ErrNotFound
	}
	for _, existing := range t.st.payments {
		if existing.ID == p.ID || existing.TransactionID == p.TransactionID {
			return storage.ErrDuplicate
		}
		if p.Status == model.PaymentCompleted && existing.BookingID == p.BookingID && existing.Status == model.PaymentCompleted {
			return storage.ErrDuplicate
		}
	}
	t.st.payments[p.ID] = p
	return nil
}

func (t *memTx) ListPayments(_ context.Context, requesterID string, limit int) ([]model.Payment, error) {
	var out []model.Payment
	for _, p := range t.st.payments {
		if p.RequesterID == requesterID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) SummarizePayments(_ context.Context, role model.Role, participantID string, since time.Time) (model.PaymentSummary, error) {
	var sum model.PaymentSummary
	buckets := map[string]*model.MonthlyTotal{}
	for _, p := range t.st.payments {
		if p.Status != model.PaymentCompleted {
			continue
		}
		b, ok := t.st.bookings[p.BookingID]
		if !ok {
			continue
		}
		switch role {
		case model.RoleProvider:
			if b.ProviderID != participantID {
				continue
			}
		case model.RoleRequester:
			if b.RequesterID != participantID {
				continue
			}
		default:
			return model.PaymentSummary{}, storage.ErrNotFound
		}
		sum.TotalCents += p.AmountCents
		sum.Count++
		if sum.Currency == "" || p.Currency < sum.Currency {
			sum.Currency = p.Currency
		}
		if p.CreatedAt.Before(since) {
			continue
		}
		month := p.CreatedAt.UTC().Format("2006-01")
		m := buckets[month]
		if m == nil {
			m = &model.MonthlyTotal{Month: month}
			buckets[month] = m
		}
		m.AmountCents += p.AmountCents
		m.Count++
	}
	for _, m := range buckets {
		sum.Monthly = append(sum.Monthly, *m)
	}
	sort.Slice(sum.Monthly, func(i, j int) bool { return sum.Monthly[i].Month < sum.Monthly[j].Month })
	return sum, nil
}

func (t *memTx) InsertToken(_ context.Context, tok model.PaymentToken) error {
	if _, ok := t.st.bookings[tok.BookingID]; !ok {
		return storage.ErrNotFound
	}
	k := hex.EncodeToString(tok.Hash)
	if _, ok := t.st.tokens[k]; ok {
		return storage.ErrDuplicate
	}
	t.st.tokens[k] = tok
	return nil
}

func (t *memTx) ClaimToken(_ context.Context, hash []byte, requesterID string, now time.Time) (model.PaymentToken, error) {
	k := hex.EncodeToString(hash)
	tok, ok := t.st.tokens[k]
	if !ok || tok.UsedAt != nil || tok.RequesterID != requesterID || !tok.ExpiresAt.After(now) {
		return model.PaymentToken{}, storage.ErrNotFound
	}
	used := now
	tok.UsedAt = &used
	t.st.tokens[k] = tok
	return tok, nil
}

func (t *memTx) DeleteAccount(_ context.Context, accountID string) (model.AccountPurge, error) {
	var purge model.AccountPurge
	removed := map[string]bool{}
	for id, b := range t.st.bookings {
		if b.ProviderID == accountID || b.RequesterID == accountID {
			removed[id] = true
			delete(t.st.bookings, id)
			purge.Bookings++
		}
	}
	for id, p := range t.st.payments {
		if removed[p.BookingID] || p.RequesterID == accountID {
			delete(t.st.payments, id)
			purge.Payments++
		}
	}
	for k, tok := range t.st.tokens {
		if removed[tok.BookingID] || tok.RequesterID == accountID {
			delete(t.st.tokens, k)
			purge.Tokens++
		}
	}
	for id, s := range t.st.slots {
		if s.ProviderID == accountID {
			delete(t.st.slots, id)
			purge.Slots++
		}
	}
	for k := range t.st.idem {
		if len(k) > len(accountID) && k[:len(accountID)+1] == accountID+"\x00" {
			delete(t.st.idem, k)
		}
	}
	return purge, nil
}

func (t *memTx) RecordInbox(_ context.Context, eventID, eventType string) (bool, error) {
	if _, ok := t.st.inbox[eventID]; ok {
		return false, nil
	}
	t.st.inbox[eventID] = eventType
	return true, nil
}

func (t *memTx) EnqueueEvent(_ context.Context, evt outbox.Event) error {
	t.st.events = append(t.st.events, evt)
	return nil
}

func (t *memTx) RecordAudit(_ context.Context, entry model.AuditEntry) error {
	t.st.audit = append(t.st.audit, entry)
	return nil
}

func (t *memTx) ListAudit(_ context.Context, actorID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []model.AuditEntry
	for i := len(t.st.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if t.st.audit[i].ActorID == actorID {
			out = append(out, t.st.audit[i])
		}
	}
	return out, nil
}
