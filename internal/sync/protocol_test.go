package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finwallet/syncengine/internal/gateway"
	"github.com/finwallet/syncengine/internal/model"
	"github.com/finwallet/syncengine/internal/repository"
)

func TestProtocol_PushHappyPath(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	proto, spy := newTestProtocol(db, gw, 50)
	ctx := context.Background()

	outbox := repository.NewOutboxRepository(db, 3)
	payload, err := json.Marshal(samplePayload(50.00))
	require.NoError(t, err)
	_, err = outbox.Enqueue(ctx, nil, model.EntityTransaction, model.OpCreate, "t1", payload)
	require.NoError(t, err)

	res, err := proto.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateSyncComplete, res.State)
	assert.Equal(t, 1, res.Pushed)
	assert.Zero(t, res.PushFailed)
	assert.Equal(t, 1, spy.count(), "recalculation runs after every completed cycle")

	created := gw.createdEvents()
	require.Len(t, created, 1)
	assert.Equal(t, "txn_created", created[0].Type)
	assert.Equal(t, "t1", created[0].EntityID)
	assert.Equal(t, model.SchemaVersion, created[0].SchemaVersion)

	deviceID, err := repository.NewSyncStateRepository(db).EnsureDeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, deviceID, created[0].OriginDeviceID)

	batch, err := outbox.NextBatch(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, batch, "pushed entries leave the queue")
}

func TestProtocol_PushTransientFailureSchedulesRetry(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createErr: errors.New("connection reset")}
	proto, _ := newTestProtocol(db, gw, 50)
	ctx := context.Background()

	outbox := repository.NewOutboxRepository(db, 3)
	_, err := outbox.Enqueue(ctx, nil, model.EntityTransaction, model.OpCreate, "t1", []byte(`{}`))
	require.NoError(t, err)

	res, err := proto.RunPush(ctx)
	require.NoError(t, err, "a failed entry does not fail the run")
	assert.Equal(t, 1, res.PushFailed)

	// not eligible immediately, eligible after backoff passes
	batch, err := outbox.NextBatch(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, batch)

	batch, err = outbox.NextBatch(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].RetryCount)
	assert.Contains(t, batch[0].LastError.String, "connection reset")
}

func TestProtocol_PushPermanentRejectionFreezes(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createErr: &gateway.Error{StatusCode: 422, Body: "bad payload"}}
	proto, _ := newTestProtocol(db, gw, 50)
	ctx := context.Background()

	outbox := repository.NewOutboxRepository(db, 3)
	_, err := outbox.Enqueue(ctx, nil, model.EntityTransaction, model.OpCreate, "t1", []byte(`{}`))
	require.NoError(t, err)

	_, err = proto.RunPush(ctx)
	require.NoError(t, err)

	batch, err := outbox.NextBatch(ctx, 10, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, batch, "rejected entries never retry on their own")

	frozen, err := outbox.ListFrozen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, frozen, 1)
	assert.Contains(t, frozen[0].LastError.String, "422")
}

func TestProtocol_PullPagination(t *testing.T) {
	db := newTestDB(t)

	events := []model.RemoteEvent{
		txnEvent(t, "ev-1", "t1", baseTime, samplePayload(1)),
		txnEvent(t, "ev-2", "t2", baseTime.Add(time.Second), samplePayload(2)),
		txnEvent(t, "ev-3", "t3", baseTime.Add(2*time.Second), samplePayload(3)),
	}
	gw := &fakeGateway{pages: [][]model.RemoteEvent{events[:2], events[2:]}}
	proto, _ := newTestProtocol(db, gw, 2)
	ctx := context.Background()

	res, err := proto.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, gw.fetchCalls, "a full page forces one more fetch")
	assert.Equal(t, 3, res.Pulled)
	assert.Equal(t, 3, res.Applied)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM transactions`))
	assert.Equal(t, 3, count)

	cursor, ok, err := repository.NewSyncStateRepository(db).Get(ctx, repository.StateLastAppliedAt)
	require.NoError(t, err)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339Nano, cursor)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(baseTime.Add(2*time.Second)), "cursor advances to the newest applied event")
}

func TestProtocol_PullIsIdempotentAcrossRuns(t *testing.T) {
	db := newTestDB(t)

	events := []model.RemoteEvent{txnEvent(t, "ev-1", "t1", baseTime, samplePayload(7))}
	gw := &fakeGateway{pages: [][]model.RemoteEvent{events, events}}
	proto, _ := newTestProtocol(db, gw, 50)
	ctx := context.Background()

	res, err := proto.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	// the server re-delivers the same event on the next run
	res, err = proto.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
	assert.Equal(t, 1, res.Skipped)
}

func TestProtocol_SkipsOwnEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	deviceID, err := repository.NewSyncStateRepository(db).EnsureDeviceID(ctx)
	require.NoError(t, err)

	own := txnEvent(t, "ev-own", "t1", baseTime, samplePayload(10))
	own.OriginDeviceID = deviceID

	gw := &fakeGateway{pages: [][]model.RemoteEvent{{own}}}
	proto, _ := newTestProtocol(db, gw, 50)

	res, err := proto.Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, res.Applied)
	assert.Equal(t, 1, res.Skipped)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM transactions`))
	assert.Zero(t, count, "own echoes are already reflected locally")

	ok, err := repository.NewAppliedEventsRepository(db).HasApplied(ctx, nil, "ev-own")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProtocol_OfflineIsNotAnError(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{pingErr: errors.New("no route to host")}
	proto, spy := newTestProtocol(db, gw, 50)

	res, err := proto.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateOfflineMode, res.State)
	assert.Zero(t, spy.count())
}

func TestProtocol_SingleFlight(t *testing.T) {
	db := newTestDB(t)
	gate := make(chan struct{})
	gw := &fakeGateway{pingGate: gate}
	proto, _ := newTestProtocol(db, gw, 50)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = proto.Run(context.Background())
	}()

	require.Eventually(t, proto.Running, time.Second, time.Millisecond)

	_, err := proto.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(gate)
	<-done
	assert.False(t, proto.Running())
}
