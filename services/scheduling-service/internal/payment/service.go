package payment

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
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
	TokenTTL    = 300 * time.Second
	GracePeriod = time.Hour

	DefaultRatePerMinuteCents = 200
	DefaultCurrency           = "usd"
	summaryMonths             = 6
)

type Config struct {
	RatePerMinuteCents int64
	Currency           string
	// TokenTTL is fixed in production; tests shorten it.
	TokenTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerMinuteCents <= 0 {
		c.RatePerMinuteCents = DefaultRatePerMinuteCents
	}
	c.Currency = strings.ToLower(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = TokenTTL
	}
	return c
}

type Service struct {
	store   storage.Store
	gateway Gateway
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
	rand    io.Reader
}

func NewService(store storage.Store, gateway Gateway, logger *slog.Logger, cfg Config, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if gateway == nil {
		gateway = SimulatedGateway{}
	}
	return &Service{
		store:   store,
		gateway: gateway,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		now:     now,
		rand:    rand.Reader,
	}
}

// AmountCents prices a booking at the flat per-minute rate.
func (s *Service) AmountCents(b model.Booking) int64 {
	return b.DurationMinutes() * s.cfg.RatePerMinuteCents
}

// Authorize reports whether requesterID may pay for bookingID now. It does not write.
func (s *Service) Authorize(ctx context.Context, requesterID, bookingID string) (model.Booking, error) {
	var b model.Booking
	err := storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		b, err = s.checkPayable(ctx, tx, requesterID, bookingID, s.now().UTC())
		return err
	})
	if apperr.Is(err, apperr.Authorization) {
		s.recordDenied(ctx, requesterID, bookingID)
	}
	return b, err
}

// checkPayable applies the payment preconditions in order, each with its own failure.
func (s *Service) checkPayable(ctx context.Context, tx storage.Tx, requesterID, bookingID string, now time.Time) (model.Booking, error) {
	b, err := tx.GetBooking(ctx, bookingID, false)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Booking{}, apperr.New(apperr.NotFound, "booking not found")
	}
	if err != nil {
		return model.Booking{}, err
	}
	if b.RequesterID != requesterID {
		return model.Booking{}, apperr.New(apperr.Authorization, "only the booking's requester can pay for it")
	}
	if b.Status != model.StatusConfirmed {
		return model.Booking{}, apperr.Newf(apperr.InvalidState, "booking is %s, only Confirmed bookings can be paid", b.Status)
	}
	paid, err := tx.HasCompletedPayment(ctx, b.ID)
	if err != nil {
		return model.Booking{}, err
	}
	if paid {
		return model.Booking{}, apperr.New(apperr.AlreadyPaid, "booking is already paid")
	}
	if b.StartTime.Before(now.Add(-GracePeriod)) {
		return model.Booking{}, apperr.New(apperr.PaymentWindowClosed, "payment window for this booking has closed")
	}
	return b, nil
}

// Issued is what the requester receives when a payment is initiated.
type Issued struct {
	Token       string
	BookingID   string
	ExpiresAt   time.Time
	AmountCents int64
	Currency    string
}

// Initiate authorizes the payment and issues a single-use token bound to the requester
// and booking. Only the token's digest is stored.
func (s *Service) Initiate(ctx context.Context, requesterID, bookingID string) (Issued, error) {
	token, hash, err := newToken(s.rand)
	if err != nil {
		return Issued{}, err
	}

	var issued Issued
	err = storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		now := s.now().UTC()
		b, err := s.checkPayable(ctx, tx, requesterID, bookingID, now)
		if err != nil {
			return err
		}
		tok := model.PaymentToken{
			Hash:        hash,
			RequesterID: requesterID,
			BookingID:   b.ID,
			ExpiresAt:   now.Add(s.cfg.TokenTTL),
			CreatedAt:   now,
		}
		if err := tx.InsertToken(ctx, tok); err != nil {
			return err
		}
		issued = Issued{
			Token:       token,
			BookingID:   b.ID,
			ExpiresAt:   tok.ExpiresAt,
			AmountCents: s.AmountCents(b),
			Currency:    s.cfg.Currency,
		}
		return nil
	})
	if err != nil {
		if apperr.Is(err, apperr.Authorization) {
			s.recordDenied(ctx, requesterID, bookingID)
		}
		return Issued{}, err
	}
	s.logger.Info("payment token issued", "booking_id", bookingID, "requester_id", requesterID,
		"expires_at", issued.ExpiresAt.Format(time.RFC3339))
	return issued, nil
}

// Redeem consumes token and records a Completed payment. Claiming the token, charging
// and inserting the payment form one unit: a decline rolls it back and leaves the
// token usable until it expires.
func (s *Service) Redeem(ctx context.Context, token, requesterID, instrumentID string) (model.Payment, error) {
	token = strings.TrimSpace(token)
	instrumentID = strings.TrimSpace(instrumentID)
	if token == "" {
		return model.Payment{}, apperr.New(apperr.InvalidToken, "payment token is invalid or expired")
	}
	if instrumentID == "" {
		return model.Payment{}, apperr.New(apperr.Validation, "instrument_id is required")
	}
	hash := hashToken(token)

	var payment model.Payment
	err := storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		now := s.now().UTC()
		tok, err := tx.ClaimToken(ctx, hash, requesterID, now)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.InvalidToken, "payment token is invalid or expired")
		}
		if err != nil {
			return err
		}

		b, err := tx.GetBooking(ctx, tok.BookingID, true)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.InvalidToken, "payment token no longer refers to a booking")
		}
		if err != nil {
			return err
		}
		paid, err := tx.HasCompletedPayment(ctx, b.ID)
		if err != nil {
			return err
		}
		if paid {
			return apperr.New(apperr.AlreadyPaid, "booking is already paid")
		}
		if b.StartTime.Before(now.Add(-GracePeriod)) {
			return apperr.New(apperr.PaymentWindowClosed, "payment window for this booking has closed")
		}

		amount := s.AmountCents(b)
		res, err := s.gateway.Charge(ctx, ChargeRequest{
			BookingID:    b.ID,
			RequesterID:  requesterID,
			InstrumentID: instrumentID,
			AmountCents:  amount,
			Currency:     s.cfg.Currency,
		})
		switch {
		case errors.Is(err, ErrDeclined):
			return apperr.Wrap(apperr.InstrumentDeclined, "the payment instrument was declined", err)
		case errors.Is(err, ErrUnsupportedInstrument):
			return apperr.New(apperr.Validation, "unsupported payment instrument")
		case err != nil:
			return err
		}

		payment = model.Payment{
			ID:            uuid.NewString(),
			RequesterID:   requesterID,
			BookingID:     b.ID,
			AmountCents:   amount,
			Currency:      s.cfg.Currency,
			Status:        model.PaymentCompleted,
			TransactionID: uuid.NewString(),
			ProviderRef:   res.Reference,
			CreatedAt:     now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperr.Wrap(apperr.AlreadyPaid, "booking is already paid", err)
			}
			return err
		}

		evt, err := outbox.NewEvent("payment", payment.ID, outbox.PaymentCompleted, map[string]any{
			"payment_id":     payment.ID,
			"booking_id":     b.ID,
			"requester_id":   requesterID,
			"provider_id":    b.ProviderID,
			"amount_cents":   amount,
			"currency":       payment.Currency,
			"transaction_id": payment.TransactionID,
			"created_at":     now.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, evt)
	})
	if err != nil {
		if k := apperr.KindOf(err); k == apperr.InstrumentDeclined || k == apperr.InvalidToken {
			s.logger.Warn("payment redemption failed", "reason", string(k), "requester_id", requesterID)
		}
		return model.Payment{}, err
	}
	s.logger.Info("payment completed", "payment_id", payment.ID, "booking_id", payment.BookingID,
		"transaction_id", payment.TransactionID, "amount_cents", payment.AmountCents)
	return payment, nil
}

func (s *Service) History(ctx context.Context, requesterID string, limit int) ([]model.Payment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []model.Payment
	err := storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListPayments(ctx, requesterID, limit)
		return err
	})
	return out, err
}

// Summary totals what a requester has spent or a provider has earned, with a
// breakdown for the current and previous five calendar months.
func (s *Service) Summary(ctx context.Context, participantID string, role model.Role) (model.PaymentSummary, error) {
	if role != model.RoleProvider && role != model.RoleRequester {
		return model.PaymentSummary{}, apperr.New(apperr.Validation, "role must be provider or requester")
	}
	now := s.now().UTC()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(summaryMonths - 1), 0)

	var sum model.PaymentSummary
	err := storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		sum, err = tx.SummarizePayments(ctx, role, participantID, since)
		return err
	})
	if err != nil {
		return model.PaymentSummary{}, err
	}
	if sum.Currency == "" {
		sum.Currency = s.cfg.Currency
	}
	sum.Monthly = fillMonths(sum.Monthly, since, summaryMonths)
	return sum, nil
}

// fillMonths returns exactly n consecutive months starting at since, zero-filled.
func fillMonths(got []model.MonthlyTotal, since time.Time, n int) []model.MonthlyTotal {
	byMonth := make(map[string]model.MonthlyTotal, len(got))
	for _, m := range got {
		byMonth[m.Month] = m
	}
	out := make([]model.MonthlyTotal, 0, n)
	for i := 0; i < n; i++ {
		key := since.AddDate(0, i, 0).Format("2006-01")
		m, ok := byMonth[key]
		if !ok {
			m = model.MonthlyTotal{Month: key}
		}
		out = append(out, m)
	}
	return out
}

func (s *Service) recordDenied(ctx context.Context, actorID, bookingID string) {
	s.logger.Warn("authorization denied", "actor_id", actorID, "operation", "payment.initiate", "resource_id", bookingID)
	err := storage.Atomically(ctx, s.store, func(ctx context.Context, tx storage.Tx) error {
		return tx.RecordAudit(ctx, model.AuditEntry{
			EventType: audit.EventAuthorizationDenied,
			ActorID:   actorID,
			Metadata:  map[string]any{"operation": "payment.initiate", "resource_id": bookingID},
			CreatedAt: s.now().UTC(),
		})
	})
	if err != nil {
		s.logger.Error("failed to audit authorization denial", "err", err, "actor_id", actorID)
	}
}
