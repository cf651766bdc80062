// Package accounts removes a deleted account's scheduling data when the identity
// side announces the deletion.
package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/audit"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage"
)

// AccountDeletedTopic carries {"account_id": "..."} for every removed account.
const AccountDeletedTopic = "identity.account.deleted.v1"

type Purger struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewPurger(store storage.Store, logger *slog.Logger) *Purger {
	return &Purger{store: store, logger: logger, now: time.Now}
}

// Purge deletes every slot, booking, payment and token accountID takes part in. A
// non-empty eventID makes redelivery of the same event a no-op; the dedupe record
// commits with the purge.
func (p *Purger) Purge(ctx context.Context, eventID, accountID string) (model.AccountPurge, bool, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return model.AccountPurge{}, false, apperr.New(apperr.Validation, "account_id is required")
	}

	var (
		purge   model.AccountPurge
		applied bool
	)
	err := storage.Atomically(ctx, p.store, func(ctx context.Context, tx storage.Tx) error {
		applied = false
		if eventID != "" {
			fresh, err := tx.RecordInbox(ctx, eventID, AccountDeletedTopic)
			if err != nil {
				return err
			}
			if !fresh {
				return nil
			}
		}
		var err error
		purge, err = tx.DeleteAccount(ctx, accountID)
		if err != nil {
			return err
		}
		applied = true
		return tx.RecordAudit(ctx, model.AuditEntry{
			EventType: audit.EventAccountPurged,
			ActorID:   accountID,
			Metadata: map[string]any{
				"event_id": eventID,
				"slots":    purge.Slots,
				"bookings": purge.Bookings,
				"payments": purge.Payments,
				"tokens":   purge.Tokens,
			},
			CreatedAt: p.now().UTC(),
		})
	})
	if err != nil {
		return model.AccountPurge{}, false, err
	}
	if !applied {
		p.logger.Info("duplicate account deletion ignored", "event_id", eventID, "account_id", accountID)
		return model.AccountPurge{}, false, nil
	}
	p.logger.Info("account purged", "account_id", accountID, "slots", purge.Slots,
		"bookings", purge.Bookings, "payments", purge.Payments, "tokens", purge.Tokens)
	return purge, true, nil
}

type accountDeleted struct {
	AccountID string `json:"account_id"`
}

// HandleAccountDeleted decodes an account deletion event and purges the account.
func (p *Purger) HandleAccountDeleted(ctx context.Context, eventID string, payload []byte) error {
	var evt accountDeleted
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", AccountDeletedTopic, err)
	}
	_, _, err := p.Purge(ctx, eventID, evt.AccountID)
	return err
}
