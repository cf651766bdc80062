package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/auth"
	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/apperr"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError reports err with the status of its kind. Untyped errors are logged and
// reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
	}
	httpx.WriteJSON(w, status, errorResponse{Error: string(kind), Message: apperr.Message(err)})
}

func badRequest(msg string) error {
	return apperr.New(apperr.Validation, msg)
}

func decodeBody(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		if errors.Is(err, httpx.ErrEmptyBody) {
			return badRequest("request body is required")
		}
		return apperr.Wrap(apperr.Validation, "invalid json body", err)
	}
	return nil
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		httpx.WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed", Message: "method not allowed"})
		return false
	}
	return true
}

func principal(r *http.Request) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return auth.Principal{}, apperr.New(apperr.Authorization, "missing principal")
	}
	return p, nil
}

func parseTime(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, badRequest("invalid " + field + ", expected RFC3339")
	}
	return t, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid " + name)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// DenialRecorder logs and audits a refused request. booking.Service implements it.
type DenialRecorder interface {
	RecordDenied(ctx context.Context, actorID, operation, resourceID string)
}

// deny records the refusal and returns the Authorization error to report.
func deny(r *http.Request, rec DenialRecorder, actorID, operation, resourceID, msg string) error {
	if rec != nil {
		rec.RecordDenied(r.Context(), actorID, operation, resourceID)
	}
	return apperr.New(apperr.Authorization, msg)
}
