package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/finwallet/syncengine/internal/model"
	"github.com/finwallet/syncengine/internal/util"
)

// OutboxRepository owns the sync_outbox table: the durable queue of local
// mutations awaiting replication. Rows are never deleted automatically;
// PruneSynced removes replicated rows past a retention window.
type OutboxRepository interface {
	// Enqueue writes a single outbox entry and returns its id. If tx is nil
	// it opens/commits an internal transaction; domain services pass their
	// own tx so entry and mutation commit atomically.
	Enqueue(ctx context.Context, tx *sqlx.Tx, entityType model.EntityType, op model.Operation, entityID string, payload []byte) (string, error)

	// NextBatch returns unsynced entries eligible at `now` in insertion
	// order. Entries at or beyond the retry budget are excluded (frozen).
	NextBatch(ctx context.Context, limit int, now time.Time) ([]model.OutboxEntry, error)

	// MarkSynced is idempotent.
	MarkSynced(ctx context.Context, tx *sqlx.Tx, id string) error

	// MarkFailed increments retry bookkeeping. A null nextAttempt freezes
	// the entry until RetryEntry is called.
	MarkFailed(ctx context.Context, tx *sqlx.Tx, id, errMsg string, nextAttempt model.NullUnixTime) error

	// Freeze exhausts the entry's retry budget immediately (permanent errors).
	Freeze(ctx context.Context, tx *sqlx.Tx, id, errMsg string) error

	// ListFrozen returns permanently failed entries for manual intervention.
	ListFrozen(ctx context.Context, limit int) ([]model.OutboxEntry, error)

	// RetryEntry resets retry bookkeeping on an unsynced entry so the next
	// push picks it up again.
	RetryEntry(ctx context.Context, id string) error

	CountPending(ctx context.Context, now time.Time) (int, error)

	// PruneSynced deletes synced rows created before the cutoff. Unsynced
	// rows are never touched, preserving queue order.
	PruneSynced(ctx context.Context, before time.Time) (int64, error)
}

type OutboxRepositoryImpl struct {
	db         *sqlx.DB
	maxRetries int
}

func NewOutboxRepository(db *sqlx.DB, maxRetries int) *OutboxRepositoryImpl {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &OutboxRepositoryImpl{db: db, maxRetries: maxRetries}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

func (r *OutboxRepositoryImpl) Enqueue(ctx context.Context, tx *sqlx.Tx, entityType model.EntityType, op model.Operation, entityID string, payload []byte) (string, error) {
	id := util.NewULID()
	const q = `
		INSERT INTO sync_outbox (id, entity_type, operation, entity_id, payload, synced, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?)
	`
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, id, entityType, op, entityID, payload, model.NewUnixTime(time.Now()))
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *OutboxRepositoryImpl) NextBatch(ctx context.Context, limit int, now time.Time) ([]model.OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, entity_type, operation, entity_id, payload, synced, retry_count, next_attempt_at, last_error, created_at
		  FROM sync_outbox
		 WHERE synced = 0
		   AND retry_count < ?
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at, id
		 LIMIT ?
	`
	var rows []model.OutboxEntry
	if err := r.db.SelectContext(ctx, &rows, q, r.maxRetries, now.UTC().UnixMilli(), limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) MarkSynced(ctx context.Context, tx *sqlx.Tx, id string) error {
	const q = `UPDATE sync_outbox SET synced = 1, last_error = NULL WHERE id = ?`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, id)
		return err
	})
}

func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, tx *sqlx.Tx, id, errMsg string, nextAttempt model.NullUnixTime) error {
	const q = `
		UPDATE sync_outbox
		   SET retry_count = retry_count + 1, last_error = ?, next_attempt_at = ?
		 WHERE id = ? AND synced = 0
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, errMsg, nextAttempt, id)
		return err
	})
}

func (r *OutboxRepositoryImpl) Freeze(ctx context.Context, tx *sqlx.Tx, id, errMsg string) error {
	const q = `
		UPDATE sync_outbox
		   SET retry_count = ?, last_error = ?, next_attempt_at = NULL
		 WHERE id = ? AND synced = 0
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, r.maxRetries, errMsg, id)
		return err
	})
}

func (r *OutboxRepositoryImpl) ListFrozen(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, entity_type, operation, entity_id, payload, synced, retry_count, next_attempt_at, last_error, created_at
		  FROM sync_outbox
		 WHERE synced = 0 AND retry_count >= ?
		 ORDER BY created_at, id
		 LIMIT ?
	`
	var rows []model.OutboxEntry
	if err := r.db.SelectContext(ctx, &rows, q, r.maxRetries, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) RetryEntry(ctx context.Context, id string) error {
	const q = `
		UPDATE sync_outbox
		   SET retry_count = 0, next_attempt_at = NULL, last_error = NULL
		 WHERE id = ? AND synced = 0
	`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

func (r *OutboxRepositoryImpl) CountPending(ctx context.Context, now time.Time) (int, error) {
	const q = `
		SELECT COUNT(*) FROM sync_outbox
		 WHERE synced = 0
		   AND retry_count < ?
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	`
	var n int
	if err := r.db.GetContext(ctx, &n, q, r.maxRetries, now.UTC().UnixMilli()); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *OutboxRepositoryImpl) PruneSynced(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM sync_outbox WHERE synced = 1 AND created_at < ?`
	res, err := r.db.ExecContext(ctx, q, before.UTC().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
