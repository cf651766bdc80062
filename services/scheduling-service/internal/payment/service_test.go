package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store *memory.Store
	clock *clock
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		store: store,
		clock: c,
		svc:   NewService(store, SimulatedGateway{}, logger, Config{}, c.Now),
	}
}

// seedBooking stores a booking directly, bypassing the request flow.
func (f *fixture) seedBooking(t *testing.T, id string, status model.BookingStatus, start time.Time, minutes int) model.Booking {
	t.Helper()
	b := model.Booking{
		ID:          id,
		RequesterID: "req-1",
		ProviderID:  "prov-1",
		StartTime:   start,
		EndTime:     start.Add(time.Duration(minutes) * time.Minute),
		Status:      status,
		CreatedAt:   f.clock.Now(),
	}
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertBooking(ctx, b)
	})
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return b
}

func TestInitiateAndRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seedBooking(t, "b-1", model.StatusConfirmed, f.clock.Now().Add(2*time.Hour), 30)

	issued, err := f.svc.Initiate(ctx, "req-1", b.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if issued.Token == "" {
		t.Fatalf("expected token")
	}
	if issued.AmountCents != 30*DefaultRatePerMinuteCents {
		t.Fatalf("amount = %d", issued.AmountCents)
	}
	if !issued.ExpiresAt.Equal(f.clock.Now().Add(TokenTTL)) {
		t.Fatalf("expires_at = %v", issued.ExpiresAt)
	}

	p, err := f.svc.Redeem(ctx, issued.Token, "req-1", "pm_card_visa")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if p.Status != model.PaymentCompleted || p.AmountCents != 6000 || p.TransactionID == "" {
		t.Fatalf("unexpected payment: %+v", p)
	}

	_, err = f.svc.Redeem(ctx, issued.Token, "req-1", "pm_card_visa")
	if !apperr.Is(err, apperr.InvalidToken) {
		t.Fatalf("expected invalid token on reuse, got %v", err)
	}

	var sawEvent bool
	for _, evt := range f.store.Events() {
		if evt.EventType == outbox.PaymentCompleted && evt.AggregateID == p.ID {
			sawEvent = true
		}
	}
	if !sawEvent {
		t.Fatalf("expected payment completed event")
	}

	_, err = f.svc.Initiate(ctx, "req-1", b.ID)
	if !apperr.Is(err, apperr.AlreadyPaid) {
		t.Fatalf("expected already paid, got %v", err)
	}
}

func TestRedeemExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seedBooking(t, "b-1", model.StatusConfirmed, f.clock.Now().Add(2*time.Hour), 30)

	issued, err := f.svc.Initiate(ctx, "req-1", b.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.clock.Advance(TokenTTL)

	_, err = f.svc.Redeem(ctx, issued.Token, "req-1", "pm_card_visa")
	if !apperr.Is(err, apperr.InvalidToken) {
		t.Fatalf("expected invalid token after expiry, got %v", err)
	}
	if n := len(f.store.Payments(b.ID)); n != 0 {
		t.Fatalf("expected no payments, got %d", n)
	}
}

func TestRedeemWrongRequester(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seedBooking(t, "b-1", model.StatusConfirmed, f.clock.Now().Add(2*time.Hour), 30)

	issued, err := f.svc.Initiate(ctx, "req-1", b.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	_, err = f.svc.Redeem(ctx, issued.Token, "someone-else", "pm_card_visa")
	if !apperr.Is(err, apperr.InvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	// The failed attempt must not burn the token.
	if _, err := f.svc.Redeem(ctx, issued.Token, "req-1", "pm_card_visa"); err != nil {
		t.Fatalf("redeem by owner: %v", err)
	}
}

func TestDeclinedInstrumentLeavesTokenUsable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seedBooking(t, "b-1", model.StatusConfirmed, f.clock.Now().Add(2*time.Hour), 45)

	issued, err := f.svc.Initiate(ctx, "req-1", b.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	_, err = f.svc.Redeem(ctx, issued.Token, "req-1", DeclineInstrument)
	if !apperr.Is(err, apperr.InstrumentDeclined) {
		t.Fatalf("expected declined, got %v", err)
	}
	if n := len(f.store.Payments(b.ID)); n != 0 {
		t.Fatalf("expected no payments after decline, got %d", n)
	}

	_, err = f.svc.Redeem(ctx, issued.Token, "req-1", "pm_card_unknown")
	if !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation for unsupported instrument, got %v", err)
	}

	p, err := f.svc.Redeem(ctx, issued.Token, "req-1", "pm_card_mastercard")
	if err != nil {
		t.Fatalf("redeem after decline: %v", err)
	}
	if p.AmountCents != 45*DefaultRatePerMinuteCents {
		t.Fatalf("amount = %d", p.AmountCents)
	}
}

func TestConcurrentTokensSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seedBooking(t, "b-1", model.StatusConfirmed, f.clock.Now().Add(2*time.Hour), 30)

	const n = 4
	tokens := make([]string, n)
	for i := range tokens {
		issued, err := f.svc.Initiate(ctx, "req-1", b.ID)
		if err != nil {
			t.Fatalf("initiate %d: %v", i, err)
		}
		tokens[i] = issued.Token
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Redeem(ctx, tokens[i], "req-1", "pm_card_visa")
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.AlreadyPaid):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one winner, got %d", ok)
	}
	if got := len(f.store.Payments(b.ID)); got != 1 {
		t.Fatalf("expected one payment, got %d", got)
	}
}

func TestAuthorizePreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	f.seedBooking(t, "pending", model.StatusPending, now.Add(time.Hour), 30)
	f.seedBooking(t, "late", model.StatusConfirmed, now.Add(-2*time.Hour), 30)
	f.seedBooking(t, "grace", model.StatusConfirmed, now.Add(-30*time.Minute), 30)

	cases := []struct {
		name      string
		requester string
		booking   string
		want      apperr.Kind
	}{
		{"missing", "req-1", "nope", apperr.NotFound},
		{"not owner", "intruder", "pending", apperr.Authorization},
		{"not confirmed", "req-1", "pending", apperr.InvalidState},
		{"window closed", "req-1", "late", apperr.PaymentWindowClosed},
		{"within grace", "req-1", "grace", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Authorize(ctx, tc.requester, tc.booking)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !apperr.Is(err, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}

	var denied bool
	for _, e := range f.store.AuditEntries() {
		if e.EventType == "authorization.denied" && e.ActorID == "intruder" {
			denied = true
		}
	}
	if !denied {
		t.Fatalf("expected denial to be audited")
	}
}

func TestSummaryAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b1 := f.seedBooking(t, "b-1", model.StatusConfirmed, f.clock.Now().Add(time.Hour), 30)

	issued, err := f.svc.Initiate(ctx, "req-1", b1.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.svc.Redeem(ctx, issued.Token, "req-1", "pm_card_visa"); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	hist, err := f.svc.History(ctx, "req-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].BookingID != b1.ID {
		t.Fatalf("unexpected history: %+v", hist)
	}

	for _, role := range []model.Role{model.RoleRequester, model.RoleProvider} {
		id := "req-1"
		if role == model.RoleProvider {
			id = "prov-1"
		}
		sum, err := f.svc.Summary(ctx, id, role)
		if err != nil {
			t.Fatalf("summary %s: %v", role, err)
		}
		if sum.TotalCents != 6000 || sum.Count != 1 {
			t.Fatalf("summary %s: %+v", role, sum)
		}
		if len(sum.Monthly) != summaryMonths {
			t.Fatalf("expected %d months, got %d", summaryMonths, len(sum.Monthly))
		}
		last := sum.Monthly[len(sum.Monthly)-1]
		if last.Month != "2030-03" || last.AmountCents != 6000 {
			t.Fatalf("current month bucket: %+v", last)
		}
		if sum.Monthly[0].Month != "2029-10" {
			t.Fatalf("first month = %s", sum.Monthly[0].Month)
		}
	}

	if _, err := f.svc.Summary(ctx, "req-1", model.RoleAdmin); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTokenIsOpaqueAndHashed(t *testing.T) {
	f := newFixture(t)
	tok, hash, err := newToken(f.svc.rand)
	if err != nil {
		t.Fatalf("newToken: %v", err)
	}
	if len(tok) != 43 {
		t.Fatalf("unexpected token length %d", len(tok))
	}
	if got := hashToken(tok); string(got) != string(hash) {
		t.Fatalf("hash mismatch")
	}
	other, _, err := newToken(f.svc.rand)
	if err != nil {
		t.Fatalf("newToken: %v", err)
	}
	if other == tok {
		t.Fatalf("tokens must differ")
	}
}

func TestRedeemRetriesSerializationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seedBooking(t, "b-1", model.StatusConfirmed, f.clock.Now().Add(time.Hour), 30)
	issued, err := f.svc.Initiate(ctx, "req-1", b.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.store.FailNextCommits(2)
	_, err = f.svc.Redeem(ctx, issued.Token, "req-1", "pm_card_visa")
	if !apperr.Is(err, apperr.Transient) {
		t.Fatalf("expected transient, got %v", err)
	}
	if !errors.Is(err, storage.ErrSerialization) {
		t.Fatalf("expected wrapped serialization error")
	}
	// Nothing committed, so the token still works.
	if _, err := f.svc.Redeem(ctx, issued.Token, "req-1", "pm_card_visa"); err != nil {
		t.Fatalf("redeem after transient failure: %v", err)
	}
}

func TestRedeemAfterGraceWindowCloses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seedBooking(t, "b-late", model.StatusConfirmed, f.clock.Now().Add(-59*time.Minute), 30)

	issued, err := f.svc.Initiate(ctx, "req-1", b.ID)
	if err != nil {
		t.Fatalf("initiate inside the grace window: %v", err)
	}
	f.clock.Advance(4 * time.Minute)

	_, err = f.svc.Redeem(ctx, issued.Token, "req-1", "pm_card_visa")
	if !apperr.Is(err, apperr.PaymentWindowClosed) {
		t.Fatalf("expected payment window closed, got %v", err)
	}
	if n := len(f.store.Payments(b.ID)); n != 0 {
		t.Fatalf("expected no payments, got %d", n)
	}
}
