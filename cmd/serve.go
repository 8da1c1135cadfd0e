package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finwallet/syncengine/internal/config"
	"github.com/finwallet/syncengine/internal/db"
	"github.com/finwallet/syncengine/internal/gateway"
	httpSrv "github.com/finwallet/syncengine/internal/http"
	"github.com/finwallet/syncengine/internal/logger"
	"github.com/finwallet/syncengine/internal/repository"
	"github.com/finwallet/syncengine/internal/service/recalc"
	"github.com/finwallet/syncengine/internal/service/recurring"
	syncsvc "github.com/finwallet/syncengine/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background sync engine with its local control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log, err := logger.New(cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		store, err := db.NewSQLiteConnection(cfg.SQLite.Path, db.SQLiteOpts{
			BusyTimeout: cfg.SQLite.BusyTimeout,
			PingTimeout: cfg.SQLite.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("sqlite open: %w", err)
		}
		defer store.Close()

		outboxRepo := repository.NewOutboxRepository(store, cfg.Retry.MaxRetries)
		svc, scheduler := buildEngine(store, outboxRepo, cfg, log)

		scheduler.Start()
		defer scheduler.Stop()

		server := httpSrv.NewServer(svc, outboxRepo, log)

		errCh := make(chan error, 1)
		go func() {
			log.Info("control api listening", zap.String("addr", cfg.HTTP.Addr))
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("control api exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}

// buildEngine wires repositories, gateway, merger, protocol and scheduler
// into the sync service.
func buildEngine(store *sqlx.DB, outboxRepo repository.OutboxRepository, cfg config.Config, log *zap.Logger) (*syncsvc.Service, *syncsvc.Scheduler) {
	stateRepo := repository.NewSyncStateRepository(store)
	appliedRepo := repository.NewAppliedEventsRepository(store)
	txnsRepo := repository.NewTransactionsRepository()
	budgetsRepo := repository.NewBudgetsRepository()
	recurringRepo := repository.NewRecurringRepository(store)
	alertsRepo := repository.NewAlertsRepository()
	goalsRepo := repository.NewSavingsGoalsRepository()
	accountsRepo := repository.NewAccountsRepository()

	gw := gateway.NewHTTPGateway(
		cfg.Remote.BaseURL,
		cfg.Remote.UserUID,
		gateway.StaticTokenSource(cfg.Remote.Token),
		cfg.Remote.Timeout,
	)

	merger := syncsvc.NewMerger(
		appliedRepo, txnsRepo, budgetsRepo, recurringRepo, alertsRepo, goalsRepo, accountsRepo,
		log.Named("merger"),
	)

	proto := syncsvc.NewProtocol(store, syncsvc.ProtocolOpts{
		Gateway:      gw,
		Outbox:       outboxRepo,
		State:        stateRepo,
		Merger:       merger,
		Recalculator: recalc.New(store, log.Named("recalc")),
		Policy: syncsvc.RetryPolicy{
			BaseDelay:  cfg.Retry.BaseDelay,
			Multiplier: cfg.Retry.Multiplier,
			MaxDelay:   cfg.Retry.MaxDelay,
			MaxRetries: cfg.Retry.MaxRetries,
		},
		PushLimit:    cfg.Sync.PushLimit,
		PullPageSize: cfg.Sync.PullPageSize,
	}, log.Named("sync"))

	generator := recurring.NewGenerator(store, recurringRepo, txnsRepo, outboxRepo, log.Named("recurring"))

	scheduler := syncsvc.NewScheduler(proto, generator, syncsvc.SchedulerOpts{
		SyncInterval:      cfg.Sync.Interval,
		RecurringInterval: cfg.Sync.RecurringInterval,
		RunTimeout:        cfg.Sync.RunTimeout,
	}, log.Named("scheduler"))

	return syncsvc.NewService(proto, scheduler), scheduler
}
