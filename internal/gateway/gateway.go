package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finwallet/syncengine/internal/model"
)

// Gateway is the boundary to the remote append-only event log. Events are
// create-only; created_at is assigned server-side.
type Gateway interface {
	// Ping is a cheap reachability probe.
	Ping(ctx context.Context) error

	// CreateEvent appends ev to the log and returns the stored event id.
	// The server deduplicates by event id, so resending after a crash is safe.
	CreateEvent(ctx context.Context, ev model.RemoteEvent) (string, error)

	// FetchEventsSince returns events with created_at > since, in creation
	// order, plus a token for the next page ("" when exhausted).
	FetchEventsSince(ctx context.Context, since time.Time, pageToken string, limit int) ([]model.RemoteEvent, string, error)
}

// TokenSource supplies the bearer credential. Token refresh itself is owned
// by the auth layer.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) { return string(s), nil }

// Error is a non-2xx response from the remote log.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: status=%d body=%q", e.StatusCode, e.Body)
}

// IsPermanent reports whether err represents a rejection that retrying
// cannot fix (4xx other than timeout/throttling). Network failures and 5xx
// are transient.
func IsPermanent(err error) bool {
	var ge *Error
	if !errors.As(err, &ge) {
		return false
	}
	if ge.StatusCode == 408 || ge.StatusCode == 429 {
		return false
	}
	return ge.StatusCode >= 400 && ge.StatusCode < 500
}
