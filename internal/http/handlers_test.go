package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/finwallet/syncengine/internal/model"
	"github.com/finwallet/syncengine/internal/repository"
	syncsvc "github.com/finwallet/syncengine/internal/sync"
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

func TestTriggerHandler_ConflictWhileRunning(t *testing.T) {
	run := func(ctx context.Context) (syncsvc.Result, error) {
		return syncsvc.Result{}, syncsvc.ErrAlreadyRunning
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/now", nil)
	rec := httptest.NewRecorder()

	err := triggerHandler(run, zap.NewNop())(e.NewContext(req, rec))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerHandler_ReportsResult(t *testing.T) {
	run := func(ctx context.Context) (syncsvc.Result, error) {
		return syncsvc.Result{State: syncsvc.StateSyncComplete, Pushed: 2, Applied: 3}, nil
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/now", nil)
	rec := httptest.NewRecorder()

	err := triggerHandler(run, zap.NewNop())(e.NewContext(req, rec))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"SYNC_COMPLETE"`)
	assert.Contains(t, rec.Body.String(), `"pushed":2`)
}

func TestOutboxHandlers_ListAndRetry(t *testing.T) {
	db := newTestDB(t)
	outbox := repository.NewOutboxRepository(db, 3)
	ctx := context.Background()

	id, err := outbox.Enqueue(ctx, nil, model.EntityTransaction, model.OpCreate, "t1", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, outbox.Freeze(ctx, nil, id, "rejected"))

	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/v1/outbox/failed", nil)
	rec := httptest.NewRecorder()
	err = listFailedHandler(outbox, zap.NewNop())(e.NewContext(req, rec))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)
	assert.Contains(t, rec.Body.String(), "rejected")

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/outbox/:id/retry")
	c.SetParamNames("id")
	c.SetParamValues(id)

	err = retryEntryHandler(outbox, zap.NewNop())(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	batch, err := outbox.NextBatch(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, id, batch[0].ID)
}
