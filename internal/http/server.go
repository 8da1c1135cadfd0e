package http

import (
	"context"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finwallet/syncengine/internal/metrics"
	"github.com/finwallet/syncengine/internal/repository"
	syncsvc "github.com/finwallet/syncengine/internal/sync"
)

// Server is the local control plane: sync triggers, status, and outbox
// inspection for the device owner. It binds to loopback; it carries no
// authentication of its own.
type Server struct{ e *echo.Echo }

func NewServer(svc *syncsvc.Service, outbox repository.OutboxRepository, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")
	v1.GET("/sync/status", statusHandler(svc))
	v1.POST("/sync/now", triggerHandler(svc.SyncNow, log))
	v1.POST("/sync/push", triggerHandler(svc.PushOnly, log))
	v1.POST("/sync/pull", triggerHandler(svc.PullOnly, log))
	v1.GET("/outbox/failed", listFailedHandler(outbox, log))
	v1.POST("/outbox/:id/retry", retryEntryHandler(outbox, log))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error            { return s.e.Start(addr) }
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
