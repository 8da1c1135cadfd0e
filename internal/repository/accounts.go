package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/finwallet/syncengine/internal/model"
)

// AccountsRepository persists account rows. balance is derived and owned by
// the recalculation step; the merger never writes it.
type AccountsRepository interface {
	Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Account, error)
	UpsertBase(ctx context.Context, tx *sqlx.Tx, a model.Account) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error
}

type accountsRepo struct{}

func NewAccountsRepository() AccountsRepository { return &accountsRepo{} }

func (r *accountsRepo) Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Account, error) {
	const q = `
		SELECT id, name, type, currency, opening_balance, balance,
		       created_at, synced, server_id, conflict_resolved, updated_at
		  FROM accounts
		 WHERE id = ? LIMIT 1
	`
	var a model.Account
	if err := tx.GetContext(ctx, &a, q, id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// UpsertBase writes the replicated base fields only; balance keeps its local
// value on update and starts at opening_balance on insert.
func (r *accountsRepo) UpsertBase(ctx context.Context, tx *sqlx.Tx, a model.Account) error {
	const q = `
		INSERT INTO accounts
		    (id, name, type, currency, opening_balance, balance, created_at, synced, server_id, conflict_resolved, updated_at)
		VALUES
		    (:id, :name, :type, :currency, :opening_balance, :opening_balance, :created_at, :synced, :server_id, :conflict_resolved, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
		    name = excluded.name,
		    type = excluded.type,
		    currency = excluded.currency,
		    opening_balance = excluded.opening_balance,
		    synced = excluded.synced,
		    server_id = excluded.server_id,
		    conflict_resolved = excluded.conflict_resolved,
		    updated_at = excluded.updated_at
	`
	_, err := tx.NamedExecContext(ctx, q, a)
	return err
}

func (r *accountsRepo) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func (r *accountsRepo) BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error {
	const q = `UPDATE accounts SET server_id = ? WHERE id = ? AND server_id IS NULL`
	_, err := tx.ExecContext(ctx, q, serverID, id)
	return err
}
