package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/finwallet/syncengine/internal/model"
)

// RecurringRepository persists recurring transaction rules.
type RecurringRepository interface {
	Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.RecurringRule, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, rule model.RecurringRule) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error

	// ListDue returns auto-generating rules whose next_run is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]model.RecurringRule, error)
	SetNextRun(ctx context.Context, tx *sqlx.Tx, id string, nextRun time.Time) error
}

type recurringRepo struct {
	db *sqlx.DB
}

func NewRecurringRepository(db *sqlx.DB) RecurringRepository { return &recurringRepo{db: db} }

const recurringColumns = `id, name, type, amount, currency, category_id, account_id, frequency,
		start_date, end_date, auto_generate, next_run, created_at, synced, server_id, conflict_resolved, updated_at`

func (r *recurringRepo) Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.RecurringRule, error) {
	var rule model.RecurringRule
	err := tx.GetContext(ctx, &rule, `SELECT `+recurringColumns+` FROM recurring_rules WHERE id = ? LIMIT 1`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *recurringRepo) Upsert(ctx context.Context, tx *sqlx.Tx, rule model.RecurringRule) error {
	const q = `
		INSERT INTO recurring_rules
		    (id, name, type, amount, currency, category_id, account_id, frequency,
		     start_date, end_date, auto_generate, next_run, created_at, synced, server_id, conflict_resolved, updated_at)
		VALUES
		    (:id, :name, :type, :amount, :currency, :category_id, :account_id, :frequency,
		     :start_date, :end_date, :auto_generate, :next_run, :created_at, :synced, :server_id, :conflict_resolved, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
		    name = excluded.name,
		    type = excluded.type,
		    amount = excluded.amount,
		    currency = excluded.currency,
		    category_id = excluded.category_id,
		    account_id = excluded.account_id,
		    frequency = excluded.frequency,
		    start_date = excluded.start_date,
		    end_date = excluded.end_date,
		    auto_generate = excluded.auto_generate,
		    next_run = excluded.next_run,
		    synced = excluded.synced,
		    server_id = excluded.server_id,
		    conflict_resolved = excluded.conflict_resolved,
		    updated_at = excluded.updated_at
	`
	_, err := tx.NamedExecContext(ctx, q, rule)
	return err
}

func (r *recurringRepo) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM recurring_rules WHERE id = ?`, id)
	return err
}

func (r *recurringRepo) BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error {
	const q = `UPDATE recurring_rules SET server_id = ? WHERE id = ? AND server_id IS NULL`
	_, err := tx.ExecContext(ctx, q, serverID, id)
	return err
}

func (r *recurringRepo) ListDue(ctx context.Context, now time.Time) ([]model.RecurringRule, error) {
	const q = `
		SELECT ` + recurringColumns + `
		  FROM recurring_rules
		 WHERE auto_generate = 1
		   AND next_run IS NOT NULL AND next_run <= ?
		   AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY next_run
	`
	ms := now.UTC().UnixMilli()
	var rules []model.RecurringRule
	if err := r.db.SelectContext(ctx, &rules, q, ms, ms); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *recurringRepo) SetNextRun(ctx context.Context, tx *sqlx.Tx, id string, nextRun time.Time) error {
	const q = `UPDATE recurring_rules SET next_run = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, nextRun.UTC().UnixMilli(), id)
	return err
}
