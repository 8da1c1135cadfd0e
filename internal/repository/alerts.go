package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/finwallet/syncengine/internal/model"
)

// AlertsRepository persists alert rows.
type AlertsRepository interface {
	Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Alert, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, a model.Alert) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error
}

type alertsRepo struct{}

func NewAlertsRepository() AlertsRepository { return &alertsRepo{} }

func (r *alertsRepo) Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Alert, error) {
	const q = `
		SELECT id, alert_type, severity, title, message, category_id, amount, is_read, is_dismissed,
		       created_at, synced, server_id, conflict_resolved, updated_at
		  FROM alerts
		 WHERE id = ? LIMIT 1
	`
	var a model.Alert
	if err := tx.GetContext(ctx, &a, q, id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *alertsRepo) Upsert(ctx context.Context, tx *sqlx.Tx, a model.Alert) error {
	const q = `
		INSERT INTO alerts
		    (id, alert_type, severity, title, message, category_id, amount, is_read, is_dismissed,
		     created_at, synced, server_id, conflict_resolved, updated_at)
		VALUES
		    (:id, :alert_type, :severity, :title, :message, :category_id, :amount, :is_read, :is_dismissed,
		     :created_at, :synced, :server_id, :conflict_resolved, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
		    alert_type = excluded.alert_type,
		    severity = excluded.severity,
		    title = excluded.title,
		    message = excluded.message,
		    category_id = excluded.category_id,
		    amount = excluded.amount,
		    is_read = excluded.is_read,
		    is_dismissed = excluded.is_dismissed,
		    synced = excluded.synced,
		    server_id = excluded.server_id,
		    conflict_resolved = excluded.conflict_resolved,
		    updated_at = excluded.updated_at
	`
	_, err := tx.NamedExecContext(ctx, q, a)
	return err
}

func (r *alertsRepo) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	return err
}

func (r *alertsRepo) BackfillServerID(ctx context.Context, tx *sqlx.Tx, id, serverID string) error {
	const q = `UPDATE alerts SET server_id = ? WHERE id = ? AND server_id IS NULL`
	_, err := tx.ExecContext(ctx, q, serverID, id)
	return err
}
