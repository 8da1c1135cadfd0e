package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/finwallet/syncengine/internal/model"
)

// SavingsGoalsRepository persists savings goal rows. current_amount is
// derived and owned by the recalculation step; the merger never writes it.
type SavingsGoalsRepository interface {
	Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.SavingsGoal, error)
	UpsertBase(ctx context.Context, tx *sqlx.Tx, g model.SavingsGoal) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error
}

type savingsGoalsRepo struct{}

func NewSavingsGoalsRepository() SavingsGoalsRepository { return &savingsGoalsRepo{} }

func (r *savingsGoalsRepo) Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.SavingsGoal, error) {
	const q = `
		SELECT id, name, target_amount, current_amount, deadline,
		       created_at, synced, server_id, conflict_resolved, updated_at
		  FROM savings_goals
		 WHERE id = ? LIMIT 1
	`
	var g model.SavingsGoal
	if err := tx.GetContext(ctx, &g, q, id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

// UpsertBase writes the replicated base fields only; current_amount keeps
// its local value on update.
func (r *savingsGoalsRepo) UpsertBase(ctx context.Context, tx *sqlx.Tx, g model.SavingsGoal) error {
	const q = `
		INSERT INTO savings_goals
		    (id, name, target_amount, current_amount, deadline, created_at, synced, server_id, conflict_resolved, updated_at)
		VALUES
		    (:id, :name, :target_amount, 0, :deadline, :created_at, :synced, :server_id, :conflict_resolved, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
		    name = excluded.name,
		    target_amount = excluded.target_amount,
		    deadline = excluded.deadline,
		    synced = excluded.synced,
		    server_id = excluded.server_id,
		    conflict_resolved = excluded.conflict_resolved,
		    updated_at = excluded.updated_at
	`
	_, err := tx.NamedExecContext(ctx, q, g)
	return err
}

func (r *savingsGoalsRepo) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM savings_goals WHERE id = ?`, id)
	return err
}

func (r *savingsGoalsRepo) BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error {
	const q = `UPDATE savings_goals SET server_id = ? WHERE id = ? AND server_id IS NULL`
	_, err := tx.ExecContext(ctx, q, serverID, id)
	return err
}
