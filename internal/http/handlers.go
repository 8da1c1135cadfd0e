package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/finwallet/syncengine/internal/repository"
	syncsvc "github.com/finwallet/syncengine/internal/sync"
)

func statusHandler(svc *syncsvc.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, svc.LastSyncInfo())
	}
}

// triggerHandler runs one of the sync entry points. A run already in flight
// yields 409: the request is dropped, not queued.
func triggerHandler(run func(context.Context) (syncsvc.Result, error), log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := run(c.Request().Context())
		if err != nil {
			if errors.Is(err, syncsvc.ErrAlreadyRunning) {
				return c.JSON(http.StatusConflict, map[string]string{"error": "sync already running"})
			}
			log.Error("sync trigger failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "sync failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"state":       string(res.State),
			"pushed":      res.Pushed,
			"push_failed": res.PushFailed,
			"pulled":      res.Pulled,
			"applied":     res.Applied,
			"skipped":     res.Skipped,
		})
	}
}

func listFailedHandler(outbox repository.OutboxRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		entries, err := outbox.ListFrozen(c.Request().Context(), limit)
		if err != nil {
			log.Error("list frozen entries failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		results := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			results = append(results, map[string]any{
				"id":          e.ID,
				"event_type":  e.EventType(),
				"entity_id":   e.EntityID,
				"retry_count": e.RetryCount,
				"last_error":  e.LastError.String,
				"created_at":  e.CreatedAt.UTC(),
			})
		}
		return c.JSON(http.StatusOK, map[string]any{"count": len(results), "results": results})
	}
}

// retryEntryHandler resets a frozen entry so the next push picks it up.
func retryEntryHandler(outbox repository.OutboxRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing id"})
		}

		if err := outbox.RetryEntry(c.Request().Context(), id); err != nil {
			log.Error("retry entry failed", zap.String("entry_id", id), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "retry failed"})
		}
		return c.JSON(http.StatusAccepted, map[string]string{"id": id, "status": "requeued"})
	}
}
