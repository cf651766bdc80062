package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
)

type BookingHandler struct {
	svc    *booking.Service
	logger *slog.Logger
}

func NewBookingHandler(svc *booking.Service, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, logger: logger}
}

type createBookingRequest struct {
	ProviderID      string `json:"provider_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type decideBookingRequest struct {
	BookingID string `json:"booking_id"`
	Action    string `json:"action"`
}

type bookingItem struct {
	BookingID   string `json:"booking_id"`
	ProviderID  string `json:"provider_id"`
	RequesterID string `json:"requester_id"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type listBookingsResponse struct {
	Bookings []bookingItem `json:"bookings"`
}

func toBookingItem(b model.Booking) bookingItem {
	return bookingItem{
		BookingID:   b.ID,
		ProviderID:  b.ProviderID,
		RequesterID: b.RequesterID,
		StartTime:   formatTime(b.StartTime),
		EndTime:     formatTime(b.EndTime),
		Status:      string(b.Status),
		CreatedAt:   formatTime(b.CreatedAt),
		UpdatedAt:   formatTime(b.UpdatedAt),
	}
}

func toBookingList(in []model.Booking) listBookingsResponse {
	out := listBookingsResponse{Bookings: make([]bookingItem, 0, len(in))}
	for _, b := range in {
		out.Bookings = append(out.Bookings, toBookingItem(b))
	}
	return out
}

// Bookings serves POST (request a booking as the caller) and GET (the caller's bookings).
func (h *BookingHandler) Bookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		httpx.WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed", Message: "method not allowed"})
	}
}

func (h *BookingHandler) create(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if p.Role != string(model.RoleRequester) {
		writeError(w, r, h.logger, deny(r, h.svc, p.UserID, "booking.create", "", "only requesters can book"))
		return
	}

	var req createBookingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	b, replayed, err := h.svc.Create(r.Context(), booking.CreateRequest{
		RequesterID:     p.UserID,
		ProviderID:      req.ProviderID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		w.Header().Set("Idempotency-Replayed", "true")
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, toBookingItem(b))
}

func (h *BookingHandler) list(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	role := model.Role(p.Role)
	if role != model.RoleProvider && role != model.RoleRequester {
		writeError(w, r, h.logger, badRequest("bookings are listed for providers and requesters"))
		return
	}

	var statuses []model.BookingStatus
	for _, raw := range strings.Split(r.URL.Query().Get("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			statuses = append(statuses, model.BookingStatus(raw))
		}
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out, err := h.svc.ListForParticipant(r.Context(), p.UserID, role, statuses, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toBookingList(out))
}

// Completed lists Completed bookings on either side. Callers other than admins may
// only ask about themselves.
func (h *BookingHandler) Completed(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	p, err := principal(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	participantID := strings.TrimSpace(r.URL.Query().Get("participant_id"))
	if participantID == "" {
		participantID = p.UserID
	}
	if participantID != p.UserID && p.Role != string(model.RoleAdmin) {
		writeError(w, r, h.logger, deny(r, h.svc, p.UserID, "booking.list_completed", participantID, "cannot list another participant's bookings"))
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out, err := h.svc.ListCompleted(r.Context(), participantID, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toBookingList(out))
}

func (h *BookingHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	p, err := principal(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req decideBookingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	b, err := h.svc.Decide(r.Context(), req.BookingID, p.UserID, booking.Action(strings.ToLower(strings.TrimSpace(req.Action))))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toBookingItem(b))
}
