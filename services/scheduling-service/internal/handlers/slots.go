package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
)

type SlotHandler struct {
	resolver *availability.Resolver
	denials  DenialRecorder
	logger   *slog.Logger
}

func NewSlotHandler(resolver *availability.Resolver, denials DenialRecorder, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{resolver: resolver, denials: denials, logger: logger}
}

type createSlotRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type slotItem struct {
	SlotID     string `json:"slot_id"`
	ProviderID string `json:"provider_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

type listSlotsResponse struct {
	Slots    []slotItem `json:"slots"`
	NextFrom string     `json:"next_from,omitempty"`
}

type startTimesResponse struct {
	DurationMinutes int      `json:"duration_minutes"`
	StartTimes      []string `json:"start_times"`
}

func toSlotItem(s model.Slot) slotItem {
	return slotItem{
		SlotID:     s.ID,
		ProviderID: s.ProviderID,
		StartTime:  formatTime(s.StartTime),
		EndTime:    formatTime(s.EndTime),
	}
}

// Slots serves POST (create for the calling provider) and GET (list upcoming).
func (h *SlotHandler) Slots(w http.ResponseWriter, r *http.Request) {
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

func (h *SlotHandler) create(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if p.Role != string(model.RoleProvider) {
		writeError(w, r, h.logger, deny(r, h.denials, p.UserID, "slot.create", "", "only providers can publish availability"))
		return
	}

	var req createSlotRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	end, err := parseTime("end_time", req.EndTime)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	slot, err := h.resolver.CreateSlot(r.Context(), p.UserID, start, end)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toSlotItem(slot))
}

func (h *SlotHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerID := strings.TrimSpace(q.Get("provider_id"))
	if providerID == "" {
		writeError(w, r, h.logger, badRequest("provider_id is required"))
		return
	}
	var from time.Time
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := parseTime("from", raw)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		from = t
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page, err := h.resolver.ListUpcomingSlots(r.Context(), providerID, from, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := listSlotsResponse{Slots: make([]slotItem, 0, len(page.Slots)), NextFrom: formatTime(page.NextFrom)}
	for _, s := range page.Slots {
		resp.Slots = append(resp.Slots, toSlotItem(s))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// StartTimes lists bookable starts either within one slot (slot_id) or across a
// provider's slots on a UTC date (provider_id and date).
func (h *SlotHandler) StartTimes(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	minutes, err := queryInt(r, "duration_minutes")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if minutes == 0 {
		writeError(w, r, h.logger, badRequest("duration_minutes is required"))
		return
	}
	duration := time.Duration(minutes) * time.Minute

	var starts []time.Time
	if slotID := strings.TrimSpace(q.Get("slot_id")); slotID != "" {
		starts, err = h.resolver.ValidStartTimes(r.Context(), slotID, duration)
	} else {
		providerID := strings.TrimSpace(q.Get("provider_id"))
		dateStr := strings.TrimSpace(q.Get("date"))
		if providerID == "" || dateStr == "" {
			writeError(w, r, h.logger, badRequest("slot_id or provider_id and date are required"))
			return
		}
		date, perr := time.Parse("2006-01-02", dateStr)
		if perr != nil {
			writeError(w, r, h.logger, badRequest("invalid date, expected YYYY-MM-DD"))
			return
		}
		starts, err = h.resolver.ValidStartTimesOnDate(r.Context(), providerID, date, duration)
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := startTimesResponse{DurationMinutes: minutes, StartTimes: make([]string, 0, len(starts))}
	for _, s := range starts {
		resp.StartTimes = append(resp.StartTimes, formatTime(s))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
