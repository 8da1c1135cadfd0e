package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/finwallet/syncengine/internal/model"
)

// HTTPGateway talks to the remote event log over its REST API.
type HTTPGateway struct {
	baseURL string
	userUID string
	tokens  TokenSource
	client  *http.Client
}

func NewHTTPGateway(baseURL, userUID string, tokens TokenSource, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPGateway{
		baseURL: baseURL,
		userUID: userUID,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ Gateway = (*HTTPGateway)(nil)

func (g *HTTPGateway) eventsURL() string {
	return g.baseURL + "/v1/users/" + url.PathEscape(g.userUID) + "/events"
}

func (g *HTTPGateway) do(ctx context.Context, method, rawURL string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := g.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &Error{StatusCode: res.StatusCode, Body: string(b)}
	}

	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

func (g *HTTPGateway) Ping(ctx context.Context) error {
	return g.do(ctx, http.MethodGet, g.baseURL+"/healthz", nil, nil)
}

type createEventResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func (g *HTTPGateway) CreateEvent(ctx context.Context, ev model.RemoteEvent) (string, error) {
	var resp createEventResponse
	if err := g.do(ctx, http.MethodPost, g.eventsURL(), ev, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return ev.ID, nil
	}
	return resp.ID, nil
}

type fetchEventsResponse struct {
	Events        []model.RemoteEvent `json:"events"`
	NextPageToken string              `json:"nextPageToken"`
}

func (g *HTTPGateway) FetchEventsSince(ctx context.Context, since time.Time, pageToken string, limit int) ([]model.RemoteEvent, string, error) {
	if limit <= 0 {
		limit = 50
	}

	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	q.Set("limit", strconv.Itoa(limit))

	var resp fetchEventsResponse
	if err := g.do(ctx, http.MethodGet, g.eventsURL()+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, "", err
	}
	return resp.Events, resp.NextPageToken, nil
}
