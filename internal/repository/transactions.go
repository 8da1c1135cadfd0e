package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/finwallet/syncengine/internal/model"
)

// TransactionsRepository persists transaction rows. All methods run inside
// the caller's transaction so record writes and sync bookkeeping commit as
// one unit.
type TransactionsRepository interface {
	Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Transaction, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, t model.Transaction) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error
}

type transactionsRepo struct{}

func NewTransactionsRepository() TransactionsRepository { return &transactionsRepo{} }

func (r *transactionsRepo) Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Transaction, error) {
	const q = `
		SELECT id, account_id, category_id, subcategory_id, type, amount, currency, occurred_at,
		       merchant, note, tags, created_at, synced, server_id, conflict_resolved, updated_at
		  FROM transactions
		 WHERE id = ? LIMIT 1
	`
	var t model.Transaction
	if err := tx.GetContext(ctx, &t, q, id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *transactionsRepo) Upsert(ctx context.Context, tx *sqlx.Tx, t model.Transaction) error {
	const q = `
		INSERT INTO transactions
		    (id, account_id, category_id, subcategory_id, type, amount, currency, occurred_at,
		     merchant, note, tags, created_at, synced, server_id, conflict_resolved, updated_at)
		VALUES
		    (:id, :account_id, :category_id, :subcategory_id, :type, :amount, :currency, :occurred_at,
		     :merchant, :note, :tags, :created_at, :synced, :server_id, :conflict_resolved, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
		    account_id = excluded.account_id,
		    category_id = excluded.category_id,
		    subcategory_id = excluded.subcategory_id,
		    type = excluded.type,
		    amount = excluded.amount,
		    currency = excluded.currency,
		    occurred_at = excluded.occurred_at,
		    merchant = excluded.merchant,
		    note = excluded.note,
		    tags = excluded.tags,
		    synced = excluded.synced,
		    server_id = excluded.server_id,
		    conflict_resolved = excluded.conflict_resolved,
		    updated_at = excluded.updated_at
	`
	_, err := tx.NamedExecContext(ctx, q, t)
	return err
}

func (r *transactionsRepo) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	return err
}

func (r *transactionsRepo) BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error {
	const q = `UPDATE transactions SET server_id = ? WHERE id = ? AND server_id IS NULL`
	_, err := tx.ExecContext(ctx, q, serverID, id)
	return err
}
