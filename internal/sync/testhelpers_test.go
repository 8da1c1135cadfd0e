package sync

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/finwallet/syncengine/internal/gateway"
	"github.com/finwallet/syncengine/internal/model"
	"github.com/finwallet/syncengine/internal/repository"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)

	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	return db
}

func newTestMerger(db *sqlx.DB) *Merger {
	return NewMerger(
		repository.NewAppliedEventsRepository(db),
		repository.NewTransactionsRepository(),
		repository.NewBudgetsRepository(),
		repository.NewRecurringRepository(db),
		repository.NewAlertsRepository(),
		repository.NewSavingsGoalsRepository(),
		repository.NewAccountsRepository(),
		zap.NewNop(),
	)
}

// applyEvent runs one merge in a committed transaction.
func applyEvent(t *testing.T, db *sqlx.DB, m *Merger, ev model.RemoteEvent) (Outcome, error) {
	t.Helper()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	outcome, applyErr := m.ApplyEvent(context.Background(), tx, ev)
	if applyErr != nil {
		_ = tx.Rollback()
		return outcome, applyErr
	}

	require.NoError(t, tx.Commit())
	return outcome, nil
}

func txnEvent(t *testing.T, id, entityID string, createdAt time.Time, p model.TransactionPayload) model.RemoteEvent {
	t.Helper()

	b, err := json.Marshal(p)
	require.NoError(t, err)

	return model.RemoteEvent{
		ID:             id,
		Type:           "txn_created",
		EntityID:       entityID,
		OriginDeviceID: "device-remote",
		SchemaVersion:  model.SchemaVersion,
		CreatedAt:      createdAt.UTC(),
		Payload:        b,
	}
}

// fakeGateway is a scripted Gateway for protocol tests.
type fakeGateway struct {
	mu sync.Mutex

	pingErr   error
	pingGate  chan struct{} // when set, Ping blocks until closed
	createErr error
	created   []model.RemoteEvent

	pages      [][]model.RemoteEvent
	fetchCalls int
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) Ping(ctx context.Context) error {
	if g.pingGate != nil {
		select {
		case <-g.pingGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.pingErr
}

func (g *fakeGateway) CreateEvent(ctx context.Context, ev model.RemoteEvent) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.created = append(g.created, ev)
	return ev.ID, nil
}

func (g *fakeGateway) FetchEventsSince(ctx context.Context, since time.Time, pageToken string, limit int) ([]model.RemoteEvent, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx := g.fetchCalls
	g.fetchCalls++
	if idx >= len(g.pages) {
		return nil, "", nil
	}

	next := ""
	if idx < len(g.pages)-1 {
		next = "page-token"
	}
	return g.pages[idx], next, nil
}

func (g *fakeGateway) createdEvents() []model.RemoteEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.RemoteEvent(nil), g.created...)
}

type recalcSpy struct {
	mu    sync.Mutex
	calls int
}

func (r *recalcSpy) Recalculate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *recalcSpy) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestProtocol(db *sqlx.DB, gw gateway.Gateway, pullPage int) (*Protocol, *recalcSpy) {
	spy := &recalcSpy{}
	proto := NewProtocol(db, ProtocolOpts{
		Gateway:      gw,
		Outbox:       repository.NewOutboxRepository(db, 3),
		State:        repository.NewSyncStateRepository(db),
		Merger:       newTestMerger(db),
		Recalculator: spy,
		Policy:       DefaultRetryPolicy(),
		PushLimit:    100,
		PullPageSize: pullPage,
	}, zap.NewNop())
	return proto, spy
}
