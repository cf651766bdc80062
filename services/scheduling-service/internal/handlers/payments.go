package handlers

import (
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/payment"
)

type PaymentHandler struct {
	svc     *payment.Service
	denials DenialRecorder
	logger  *slog.Logger
}

func NewPaymentHandler(svc *payment.Service, denials DenialRecorder, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, denials: denials, logger: logger}
}

type initiatePaymentRequest struct {
	BookingID string `json:"booking_id"`
}

type initiatePaymentResponse struct {
	PaymentToken string `json:"payment_token"`
	BookingID    string `json:"booking_id"`
	ExpiresAt    string `json:"expires_at"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

type redeemPaymentRequest struct {
	PaymentToken string `json:"payment_token"`
	InstrumentID string `json:"instrument_id"`
}

type paymentItem struct {
	PaymentID     string `json:"payment_id"`
	BookingID     string `json:"booking_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	CreatedAt     string `json:"created_at"`
}

type paymentHistoryResponse struct {
	Payments []paymentItem `json:"payments"`
}

type monthlyItem struct {
	Month       string `json:"month"`
	AmountCents int64  `json:"amount_cents"`
	Count       int    `json:"count"`
}

type paymentSummaryResponse struct {
	Role       string        `json:"role"`
	TotalCents int64         `json:"total_cents"`
	Count      int           `json:"count"`
	Currency   string        `json:"currency"`
	Monthly    []monthlyItem `json:"monthly"`
}

func toPaymentItem(p model.Payment) paymentItem {
	return paymentItem{
		PaymentID:     p.ID,
		BookingID:     p.BookingID,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		CreatedAt:     formatTime(p.CreatedAt),
	}
}

// requireRequester resolves the caller and refuses anyone who is not a requester.
func (h *PaymentHandler) requireRequester(r *http.Request, operation string) (string, error) {
	p, err := principal(r)
	if err != nil {
		return "", err
	}
	if p.Role != string(model.RoleRequester) {
		return "", deny(r, h.denials, p.UserID, operation, "", "only requesters can pay")
	}
	return p.UserID, nil
}

func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	requesterID, err := h.requireRequester(r, "payment.initiate")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req initiatePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.BookingID == "" {
		writeError(w, r, h.logger, badRequest("booking_id is required"))
		return
	}

	issued, err := h.svc.Initiate(r.Context(), requesterID, req.BookingID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusCreated, initiatePaymentResponse{
		PaymentToken: issued.Token,
		BookingID:    issued.BookingID,
		ExpiresAt:    formatTime(issued.ExpiresAt),
		AmountCents:  issued.AmountCents,
		Currency:     issued.Currency,
	})
}

func (h *PaymentHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	requesterID, err := h.requireRequester(r, "payment.redeem")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req redeemPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	p, err := h.svc.Redeem(r.Context(), req.PaymentToken, requesterID, req.InstrumentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toPaymentItem(p))
}

func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	requesterID, err := h.requireRequester(r, "payment.history")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	payments, err := h.svc.History(r.Context(), requesterID, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := paymentHistoryResponse{Payments: make([]paymentItem, 0, len(payments))}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, toPaymentItem(p))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Summary reports spending for requesters and earnings for providers.
func (h *PaymentHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	p, err := principal(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sum, err := h.svc.Summary(r.Context(), p.UserID, model.Role(p.Role))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := paymentSummaryResponse{
		Role:       p.Role,
		TotalCents: sum.TotalCents,
		Count:      sum.Count,
		Currency:   sum.Currency,
		Monthly:    make([]monthlyItem, 0, len(sum.Monthly)),
	}
	for _, m := range sum.Monthly {
		resp.Monthly = append(resp.Monthly, monthlyItem{Month: m.Month, AmountCents: m.AmountCents, Count: m.Count})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
