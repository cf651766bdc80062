package handlers

import (
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/payment"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage"
)

type Deps struct {
	Store    storage.Store
	Resolver *availability.Resolver
	Bookings *booking.Service
	Payments *payment.Service
	Logger   *slog.Logger

	// Authenticate wraps every API route; it must put an auth.Principal in the context.
	Authenticate func(http.Handler) http.Handler
}

// Register mounts the public API on mux.
func Register(mux *http.ServeMux, d Deps) {
	slots := NewSlotHandler(d.Resolver, d.Bookings, d.Logger)
	bookings := NewBookingHandler(d.Bookings, d.Logger)
	payments := NewPaymentHandler(d.Payments, d.Bookings, d.Logger)
	audits := NewAuditHandler(d.Store, d.Bookings, d.Logger)

	authed := func(h http.HandlerFunc) http.Handler {
		if d.Authenticate == nil {
			return h
		}
		return d.Authenticate(h)
	}

	mux.Handle("/api/v1/slots", authed(slots.Slots))
	mux.Handle("/api/v1/slots/start-times", authed(slots.StartTimes))
	mux.Handle("/api/v1/bookings", authed(bookings.Bookings))
	mux.Handle("/api/v1/bookings/completed", authed(bookings.Completed))
	mux.Handle("/api/v1/bookings/decide", authed(bookings.Decide))
	mux.Handle("/api/v1/payments", authed(payments.History))
	mux.Handle("/api/v1/payments/initiate", authed(payments.Initiate))
	mux.Handle("/api/v1/payments/redeem", authed(payments.Redeem))
	mux.Handle("/api/v1/payments/summary", authed(payments.Summary))
	mux.Handle("/api/v1/audit", authed(audits.List))
}
