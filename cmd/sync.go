package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finwallet/syncengine/internal/config"
	"github.com/finwallet/syncengine/internal/db"
	"github.com/finwallet/syncengine/internal/logger"
	"github.com/finwallet/syncengine/internal/repository"
	syncsvc "github.com/finwallet/syncengine/internal/sync"
)

var syncDirection string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
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
		svc, _ := buildEngine(store, outboxRepo, cfg, log)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.RunTimeout)
		defer cancel()

		var res syncsvc.Result
		switch syncDirection {
		case "push":
			res, err = svc.PushOnly(ctx)
		case "pull":
			res, err = svc.PullOnly(ctx)
		default:
			res, err = svc.SyncNowBlocking(cfg.Sync.RunTimeout)
		}
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		fmt.Printf(">> %s pushed=%d push_failed=%d pulled=%d applied=%d skipped=%d\n",
			res.State, res.Pushed, res.PushFailed, res.Pulled, res.Applied, res.Skipped)
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncDirection, "direction", "both", "both | push | pull")
}
