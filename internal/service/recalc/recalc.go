package recalc

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Recalculator recomputes every derived value from replicated base data:
// account balances, budget consumption and savings goal progress. It runs
// after each sync so merged events are reflected immediately, and the
// computation is idempotent, so running it with nothing merged is harmless.
type Recalculator struct {
	db  *sqlx.DB
	log *zap.Logger
}

func New(db *sqlx.DB, log *zap.Logger) *Recalculator {
	return &Recalculator{db: db, log: log}
}

// balance = opening balance plus the signed sum of the account's
// transactions (income positive, everything else negative).
const recalcAccountsQuery = `
	UPDATE accounts
	   SET balance = opening_balance + COALESCE((
	       SELECT SUM(CASE WHEN t.type = 'income' THEN t.amount ELSE -t.amount END)
	         FROM transactions t
	        WHERE t.account_id = accounts.id
	   ), 0)
`

// consumed = expense total for the budget's category in its month.
// occurred_at is stored as Unix milliseconds.
const recalcBudgetsQuery = `
	UPDATE budgets
	   SET consumed = COALESCE((
	       SELECT SUM(t.amount)
	         FROM transactions t
	        WHERE t.type = 'expense'
	          AND t.category_id = budgets.category_id
	          AND strftime('%Y-%m', t.occurred_at / 1000, 'unixepoch') = budgets.month
	   ), 0)
`

// current_amount = signed sum of transactions tagged with the goal's id.
// tags is a JSON array of strings, so a quoted-id containment match finds
// the contributions.
const recalcGoalsQuery = `
	UPDATE savings_goals
	   SET current_amount = COALESCE((
	       SELECT SUM(CASE WHEN t.type = 'income' THEN t.amount ELSE -t.amount END)
	         FROM transactions t
	        WHERE t.tags LIKE '%"' || savings_goals.id || '"%'
	   ), 0)
`

func (r *Recalculator) Recalculate(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{recalcAccountsQuery, recalcBudgetsQuery, recalcGoalsQuery} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.log.Debug("derived values recalculated")
	return nil
}
