package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/finwallet/syncengine/internal/config"
	"github.com/finwallet/syncengine/internal/db"
	"github.com/finwallet/syncengine/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the local store with demo accounts and rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := db.NewSQLiteConnection(cfg.SQLite.Path, db.SQLiteOpts{
			BusyTimeout: cfg.SQLite.BusyTimeout,
			PingTimeout: cfg.SQLite.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("sqlite open: %w", err)
		}
		defer store.Close()

		log.Println(">> Seeding demo data...")

		if err := seedAccounts(store); err != nil {
			return err
		}
		if err := seedRules(store); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

// seedAccounts inserts deterministic demo accounts (idempotent).
func seedAccounts(dbx *sqlx.DB) error {
	accounts := []model.Account{
		{ID: "acc-checking", Name: "Checking", Type: "checking", Currency: "USD", OpeningBalance: 2500},
		{ID: "acc-savings", Name: "Savings", Type: "savings", Currency: "USD", OpeningBalance: 10000},
		{ID: "acc-credit", Name: "Credit Card", Type: "credit", Currency: "USD", OpeningBalance: 0},
	}

	const q = `
		INSERT INTO accounts
		    (id, name, type, currency, opening_balance, balance, created_at, synced, server_id, conflict_resolved, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, 0, NULL, 0, ?)
		ON CONFLICT (id) DO UPDATE SET
		    name = excluded.name,
		    type = excluded.type,
		    opening_balance = excluded.opening_balance,
		    updated_at = excluded.updated_at
	`

	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := model.NewUnixTime(time.Now())
	for _, a := range accounts {
		if _, err := tx.Exec(q, a.ID, a.Name, a.Type, a.Currency, a.OpeningBalance, a.OpeningBalance, now, now); err != nil {
			return fmt.Errorf("insert account %q: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	return nil
}

// seedRules inserts a demo budget, savings goal and recurring rule.
func seedRules(dbx *sqlx.DB) error {
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	nowMs := model.NewUnixTime(now)
	month := now.Format("2006-01")

	const budgetQ = `
		INSERT INTO budgets (id, category_id, month, amount, consumed, created_at, synced, server_id, conflict_resolved, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, 0, NULL, 0, ?)
		ON CONFLICT (category_id, month) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at
	`
	if _, err := tx.Exec(budgetQ, "bud-groceries-"+month, "cat-groceries", month, 600.0, nowMs, nowMs); err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}

	const goalQ = `
		INSERT INTO savings_goals (id, name, target_amount, current_amount, deadline, created_at, synced, server_id, conflict_resolved, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, 0, NULL, 0, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, target_amount = excluded.target_amount, updated_at = excluded.updated_at
	`
	deadline := model.NewUnixTime(now.AddDate(1, 0, 0))
	if _, err := tx.Exec(goalQ, "goal-vacation", "Vacation Fund", 3000.0, deadline, nowMs, nowMs); err != nil {
		return fmt.Errorf("insert savings goal: %w", err)
	}

	const ruleQ = `
		INSERT INTO recurring_rules
		    (id, name, type, amount, currency, category_id, account_id, frequency,
		     start_date, end_date, auto_generate, next_run, created_at, synced, server_id, conflict_resolved, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 1, ?, ?, 0, NULL, 0, ?)
		ON CONFLICT (id) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at
	`
	firstRun := model.NewUnixTime(now.AddDate(0, 0, 1))
	if _, err := tx.Exec(ruleQ,
		"rule-rent", "Monthly Rent", "expense", 1200.0, "USD", "cat-housing", "acc-checking", "monthly",
		nowMs, firstRun, nowMs, nowMs,
	); err != nil {
		return fmt.Errorf("insert recurring rule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rules: %w", err)
	}
	return nil
}
