package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/finwallet/syncengine/internal/model"
)

// BudgetsRepository persists budget rows. (category_id, month) is unique;
// the merger resolves collisions by merging into the existing row.
type BudgetsRepository interface {
	Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Budget, error)
	GetByCategoryMonth(ctx context.Context, tx *sqlx.Tx, categoryID, month string) (*model.Budget, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, b model.Budget) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error
}

type budgetsRepo struct{}

func NewBudgetsRepository() BudgetsRepository { return &budgetsRepo{} }

const budgetColumns = `id, category_id, month, amount, consumed, created_at, synced, server_id, conflict_resolved, updated_at`

func (r *budgetsRepo) Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Budget, error) {
	var b model.Budget
	err := tx.GetContext(ctx, &b, `SELECT `+budgetColumns+` FROM budgets WHERE id = ? LIMIT 1`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *budgetsRepo) GetByCategoryMonth(ctx context.Context, tx *sqlx.Tx, categoryID, month string) (*model.Budget, error) {
	var b model.Budget
	err := tx.GetContext(ctx, &b,
		`SELECT `+budgetColumns+` FROM budgets WHERE category_id = ? AND month = ? LIMIT 1`,
		categoryID, month)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *budgetsRepo) Upsert(ctx context.Context, tx *sqlx.Tx, b model.Budget) error {
	const q = `
		INSERT INTO budgets (id, category_id, month, amount, consumed, created_at, synced, server_id, conflict_resolved, updated_at)
		VALUES (:id, :category_id, :month, :amount, :consumed, :created_at, :synced, :server_id, :conflict_resolved, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
		    category_id = excluded.category_id,
		    month = excluded.month,
		    amount = excluded.amount,
		    synced = excluded.synced,
		    server_id = excluded.server_id,
		    conflict_resolved = excluded.conflict_resolved,
		    updated_at = excluded.updated_at
	`
	_, err := tx.NamedExecContext(ctx, q, b)
	return err
}

func (r *budgetsRepo) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	return err
}

func (r *budgetsRepo) BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error {
	const q = `UPDATE budgets SET server_id = ? WHERE id = ? AND server_id IS NULL`
	_, err := tx.ExecContext(ctx, q, serverID, id)
	return err
}
