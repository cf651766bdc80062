package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotkeeper/libs/db"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/audit"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/inbox"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/outbox"
)

// PostgresStore runs every unit of work in a SERIALIZABLE transaction. The exclusion
// constraints in the schema back up the application-level overlap checks.
type PostgresStore struct {
	pool   *db.Pool
	outbox *outbox.Repository
	inbox  *inbox.Repository
	audit  *audit.Repository
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		outbox: outbox.NewRepository(),
		inbox:  inbox.NewRepository(),
		audit:  audit.NewRepository(),
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginSerializable(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx, store: s}); err != nil {
		return err
	}
	return mapErr(tx.Commit(ctx))
}

type pgTx struct {
	tx    pgx.Tx
	store *PostgresStore
}

func (t *pgTx) LockParties(ctx context.Context, participantIDs ...string) error {
	ids := append([]string(nil), participantIDs...)
	sort.Strings(ids)
	var prev string
	for i, id := range ids {
		if id == "" || (i > 0 && id == prev) {
			continue
		}
		prev = id
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, id); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (t *pgTx) TryLeaderLock(ctx context.Context, key int64) (bool, error) {
	var locked bool
	if err := t.tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, key).Scan(&locked); err != nil {
		return false, mapErr(err)
	}
	return locked, nil
}

func (t *pgTx) EnqueueEvent(ctx context.Context, evt outbox.Event) error {
	return mapErr(t.store.outbox.Insert(ctx, t.tx, evt))
}

func (t *pgTx) RecordInbox(ctx context.Context, eventID, eventType string) (bool, error) {
	ok, err := t.store.inbox.Record(ctx, t.tx, eventID, eventType)
	return ok, mapErr(err)
}

func (t *pgTx) RecordAudit(ctx context.Context, entry model.AuditEntry) error {
	return mapErr(t.store.audit.Record(ctx, t.tx, entry))
}

func (t *pgTx) ListAudit(ctx context.Context, actorID string, limit int) ([]model.AuditEntry, error) {
	entries, err := t.store.audit.ListByActor(ctx, t.tx, actorID, limit)
	return entries, mapErr(err)
}

// mapErr translates driver errors into the storage sentinels, keeping the cause.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01":
			return fmt.Errorf("%w: %w", ErrOverlap, err)
		case "23505":
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		case "40001", "40P01":
			return fmt.Errorf("%w: %w", ErrSerialization, err)
		case "22P02":
			// A malformed id cannot name a row.
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
	}
	return err
}
