package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage"
)

type AuditHandler struct {
	store   storage.Store
	denials DenialRecorder
	logger  *slog.Logger
}

func NewAuditHandler(store storage.Store, denials DenialRecorder, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, denials: denials, logger: logger}
}

type auditItem struct {
	EventType string         `json:"event_type"`
	ActorID   string         `json:"actor_id"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
}

type auditResponse struct {
	Entries []auditItem `json:"entries"`
}

// List returns the newest audit entries for actor_id. Non-admins see only their own.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	p, err := principal(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
	if actorID == "" {
		actorID = p.UserID
	}
	if actorID != p.UserID && p.Role != string(model.RoleAdmin) {
		writeError(w, r, h.logger, deny(r, h.denials, p.UserID, "audit.list", actorID, "cannot read another participant's audit trail"))
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var entries []model.AuditEntry
	err = storage.Atomically(r.Context(), h.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		entries, err = tx.ListAudit(ctx, actorID, limit)
		return err
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := auditResponse{Entries: make([]auditItem, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, auditItem{
			EventType: e.EventType,
			ActorID:   e.ActorID,
			Metadata:  e.Metadata,
			CreatedAt: formatTime(e.CreatedAt),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
