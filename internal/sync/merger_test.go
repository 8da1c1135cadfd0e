package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finwallet/syncengine/internal/model"
	"github.com/finwallet/syncengine/internal/repository"
)

var baseTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func samplePayload(amount float64) model.TransactionPayload {
	return model.TransactionPayload{
		AccountID:  "acc-1",
		CategoryID: "cat-groceries",
		Type:       "expense",
		Amount:     amount,
		Currency:   "USD",
		OccurredAt: baseTime.Add(-time.Hour),
	}
}

func TestMerger_AppliesCreate(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(db)

	ev := txnEvent(t, "ev-1", "t1", baseTime, samplePayload(42.50))
	outcome, err := applyEvent(t, db, m, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	rec, err := repository.NewTransactionsRepository().Get(context.Background(), tx, "t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 42.50, rec.Amount)
	assert.True(t, rec.Synced)
	assert.Equal(t, "ev-1", rec.ServerID.String)
	assert.Equal(t, baseTime, rec.UpdatedAt.Time)
}

func TestMerger_DuplicateEventSkipped(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(db)

	ev := txnEvent(t, "ev-1", "t1", baseTime, samplePayload(10))

	outcome, err := applyEvent(t, db, m, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = applyEvent(t, db, m, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedDuplicate, outcome)
}

func TestMerger_LastWriteWinsIsOrderIndependent(t *testing.T) {
	older := txnEvent(t, "ev-old", "t1", baseTime, samplePayload(10))
	newer := txnEvent(t, "ev-new", "t1", baseTime.Add(time.Minute), samplePayload(99))

	for name, order := range map[string][]model.RemoteEvent{
		"old_then_new": {older, newer},
		"new_then_old": {newer, older},
	} {
		t.Run(name, func(t *testing.T) {
			db := newTestDB(t)
			m := newTestMerger(db)

			for _, ev := range order {
				_, err := applyEvent(t, db, m, ev)
				require.NoError(t, err)
			}

			tx, err := db.BeginTxx(context.Background(), nil)
			require.NoError(t, err)
			defer func() { _ = tx.Rollback() }()

			rec, err := repository.NewTransactionsRepository().Get(context.Background(), tx, "t1")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, 99.0, rec.Amount, "newer event wins regardless of arrival order")
		})
	}
}

func TestMerger_StaleEventBackfillsServerID(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(db)

	newer := txnEvent(t, "ev-new", "t1", baseTime.Add(time.Minute), samplePayload(99))
	_, err := applyEvent(t, db, m, newer)
	require.NoError(t, err)

	// clear server_id to simulate a row created locally
	_, err = db.Exec(`UPDATE transactions SET server_id = NULL WHERE id = 't1'`)
	require.NoError(t, err)

	older := txnEvent(t, "ev-old", "t1", baseTime, samplePayload(10))
	outcome, err := applyEvent(t, db, m, older)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedStale, outcome)

	var serverID string
	require.NoError(t, db.Get(&serverID, `SELECT server_id FROM transactions WHERE id = 't1'`))
	assert.Equal(t, "ev-old", serverID)

	// stale events still land in the ledger
	ok, err := repository.NewAppliedEventsRepository(db).HasApplied(context.Background(), nil, "ev-old")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMerger_TieKeepsLocal(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(db)

	first := txnEvent(t, "ev-1", "t1", baseTime, samplePayload(10))
	_, err := applyEvent(t, db, m, first)
	require.NoError(t, err)

	sameStamp := txnEvent(t, "ev-2", "t1", baseTime, samplePayload(55))
	outcome, err := applyEvent(t, db, m, sameStamp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedStale, outcome)

	var amount float64
	require.NoError(t, db.Get(&amount, `SELECT amount FROM transactions WHERE id = 't1'`))
	assert.Equal(t, 10.0, amount)
}

func TestMerger_DeleteLosesToNewerLocalEdit(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(db)

	edit := txnEvent(t, "ev-edit", "t1", baseTime, samplePayload(10))
	_, err := applyEvent(t, db, m, edit)
	require.NoError(t, err)

	del := model.RemoteEvent{
		ID:             "ev-del",
		Type:           "txn_deleted",
		EntityID:       "t1",
		OriginDeviceID: "device-remote",
		SchemaVersion:  model.SchemaVersion,
		CreatedAt:      baseTime.Add(-5 * time.Second),
		Payload:        json.RawMessage(`{}`),
	}
	outcome, err := applyEvent(t, db, m, del)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedStale, outcome)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM transactions WHERE id = 't1'`))
	assert.Equal(t, 1, count, "tombstone older than the local edit must not delete")
}

func TestMerger_DeleteAppliesWhenNewer(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(db)

	edit := txnEvent(t, "ev-edit", "t1", baseTime, samplePayload(10))
	_, err := applyEvent(t, db, m, edit)
	require.NoError(t, err)

	del := model.RemoteEvent{
		ID:             "ev-del",
		Type:           "txn_deleted",
		EntityID:       "t1",
		OriginDeviceID: "device-remote",
		SchemaVersion:  model.SchemaVersion,
		CreatedAt:      baseTime.Add(5 * time.Second),
		Payload:        json.RawMessage(`{}`),
	}
	outcome, err := applyEvent(t, db, m, del)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM transactions WHERE id = 't1'`))
	assert.Equal(t, 0, count)
}

func TestMerger_BudgetMergesIntoCategoryMonthRow(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(db)

	payload, err := json.Marshal(model.BudgetPayload{CategoryID: "cat-food", Month: "2026-08", Amount: 300})
	require.NoError(t, err)
	first := model.RemoteEvent{
		ID: "ev-b1", Type: "budget_created", EntityID: "b-remote-1",
		OriginDeviceID: "device-remote", SchemaVersion: model.SchemaVersion,
		CreatedAt: baseTime, Payload: payload,
	}
	_, err = applyEvent(t, db, m, first)
	require.NoError(t, err)

	// second device created the same month budget under a different id
	payload2, err := json.Marshal(model.BudgetPayload{CategoryID: "cat-food", Month: "2026-08", Amount: 450})
	require.NoError(t, err)
	second := model.RemoteEvent{
		ID: "ev-b2", Type: "budget_created", EntityID: "b-remote-2",
		OriginDeviceID: "device-other", SchemaVersion: model.SchemaVersion,
		CreatedAt: baseTime.Add(time.Minute), Payload: payload2,
	}
	outcome, err := applyEvent(t, db, m, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM budgets WHERE category_id = 'cat-food' AND month = '2026-08'`))
	assert.Equal(t, 1, count, "one row per category and month")

	var amount float64
	require.NoError(t, db.Get(&amount, `SELECT amount FROM budgets WHERE category_id = 'cat-food' AND month = '2026-08'`))
	assert.Equal(t, 450.0, amount)
}

func TestMerger_UnknownEventType(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(db)

	ev := model.RemoteEvent{
		ID: "ev-x", Type: "portfolio_rebalanced", EntityID: "p1",
		OriginDeviceID: "device-remote", SchemaVersion: model.SchemaVersion,
		CreatedAt: baseTime, Payload: json.RawMessage(`{}`),
	}
	outcome, err := applyEvent(t, db, m, ev)
	assert.Equal(t, OutcomeError, outcome)
	assert.ErrorIs(t, err, ErrUnknownEventType)

	// not ledgered: a future client version may understand it
	ok, err := repository.NewAppliedEventsRepository(db).HasApplied(context.Background(), nil, "ev-x")
	require.NoError(t, err)
	assert.False(t, ok)
}
