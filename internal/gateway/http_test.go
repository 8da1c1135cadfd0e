package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finwallet/syncengine/internal/model"
)

func TestHTTPGateway_CreateEvent(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody model.RemoteEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "srv-assigned-1",
			"createdAt": time.Now().UTC(),
		})
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "user-42", StaticTokenSource("tok-abc"), time.Second)

	id, err := gw.CreateEvent(context.Background(), model.RemoteEvent{
		ID:            "local-1",
		Type:          "txn_created",
		EntityID:      "t1",
		SchemaVersion: model.SchemaVersion,
		Payload:       json.RawMessage(`{"amount":5}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "srv-assigned-1", id)
	assert.Equal(t, "Bearer tok-abc", gotAuth)
	assert.Equal(t, "/v1/users/user-42/events", gotPath)
	assert.Equal(t, "txn_created", gotBody.Type)
}

func TestHTTPGateway_FetchEventsSince(t *testing.T) {
	since := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, since.Format(time.RFC3339Nano), q.Get("since"))
		assert.Equal(t, "tok-page", q.Get("pageToken"))
		assert.Equal(t, "25", q.Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"events": []model.RemoteEvent{
				{ID: "ev-1", Type: "budget_updated", EntityID: "b1", CreatedAt: since.Add(time.Minute)},
			},
			"nextPageToken": "tok-next",
		})
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "user-42", StaticTokenSource(""), time.Second)

	events, next, err := gw.FetchEventsSince(context.Background(), since, "tok-page", 25)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "ev-1", events[0].ID)
	assert.Equal(t, "tok-next", next)
}

func TestHTTPGateway_ErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unprocessable", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "user-42", StaticTokenSource(""), time.Second)

	_, err := gw.CreateEvent(context.Background(), model.RemoteEvent{ID: "x"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusUnprocessableEntity, ge.StatusCode)
	assert.Contains(t, ge.Body, "unprocessable")
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(&Error{StatusCode: 400}))
	assert.True(t, IsPermanent(&Error{StatusCode: 404}))
	assert.False(t, IsPermanent(&Error{StatusCode: 408}), "timeout is transient")
	assert.False(t, IsPermanent(&Error{StatusCode: 429}), "throttling is transient")
	assert.False(t, IsPermanent(&Error{StatusCode: 500}))
	assert.False(t, IsPermanent(assert.AnError))
}
