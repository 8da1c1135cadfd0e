package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/finwallet/syncengine/internal/model"
)

// Well-known sync_state keys.
const (
	StateDeviceID           = "device_id"
	StateLastAppliedAt      = "last_applied_at"
	StateLastAppliedEventID = "last_applied_event_id"
	StateLastPushAt         = "last_push_at"
	StateLastSyncAt         = "last_sync_at"
)

// SyncStateRepository is a small key-value store for sync cursors and
// device identity.
type SyncStateRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, tx *sqlx.Tx, key, value string) error

	// EnsureDeviceID returns the stored device id, provisioning one on
	// first call.
	EnsureDeviceID(ctx context.Context) (string, error)
}

type SyncStateRepositoryImpl struct {
	db *sqlx.DB
}

func NewSyncStateRepository(db *sqlx.DB) *SyncStateRepositoryImpl {
	return &SyncStateRepositoryImpl{db: db}
}

var _ SyncStateRepository = (*SyncStateRepositoryImpl)(nil)

func (r *SyncStateRepositoryImpl) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM sync_state WHERE key = ? LIMIT 1`
	var value string
	if err := r.db.GetContext(ctx, &value, q, key); err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (r *SyncStateRepositoryImpl) Set(ctx context.Context, tx *sqlx.Tx, key, value string) error {
	const q = `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if tx != nil {
		_, err := tx.ExecContext(ctx, q, key, value, model.NewUnixTime(time.Now()))
		return err
	}
	_, err := r.db.ExecContext(ctx, q, key, value, model.NewUnixTime(time.Now()))
	return err
}

func (r *SyncStateRepositoryImpl) EnsureDeviceID(ctx context.Context) (string, error) {
	id, ok, err := r.Get(ctx, StateDeviceID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := r.Set(ctx, nil, StateDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}
