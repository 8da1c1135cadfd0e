package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/finwallet/syncengine/internal/model"
)

// AppliedEventsRepository is the idempotency ledger: the set of remote event
// ids already applied locally. MarkApplied is safe to call twice.
type AppliedEventsRepository interface {
	HasApplied(ctx context.Context, tx *sqlx.Tx, eventID string) (bool, error)
	MarkApplied(ctx context.Context, tx *sqlx.Tx, eventID string) error
}

type AppliedEventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAppliedEventsRepository(db *sqlx.DB) *AppliedEventsRepositoryImpl {
	return &AppliedEventsRepositoryImpl{db: db}
}

var _ AppliedEventsRepository = (*AppliedEventsRepositoryImpl)(nil)

func (r *AppliedEventsRepositoryImpl) HasApplied(ctx context.Context, tx *sqlx.Tx, eventID string) (bool, error) {
	const q = `SELECT 1 FROM applied_events WHERE event_id = ? LIMIT 1`
	var one int
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &one, q, eventID)
	} else {
		err = r.db.GetContext(ctx, &one, q, eventID)
	}
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *AppliedEventsRepositoryImpl) MarkApplied(ctx context.Context, tx *sqlx.Tx, eventID string) error {
	const q = `INSERT OR IGNORE INTO applied_events (event_id, applied_at) VALUES (?, ?)`
	if tx != nil {
		_, err := tx.ExecContext(ctx, q, eventID, model.NewUnixTime(time.Now()))
		return err
	}
	_, err := r.db.ExecContext(ctx, q, eventID, model.NewUnixTime(time.Now()))
	return err
}
