package recurring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/finwallet/syncengine/internal/model"
	"github.com/finwallet/syncengine/internal/repository"
	"github.com/finwallet/syncengine/internal/util"
)

// catchUpCap bounds how many missed occurrences one rule can materialize in
// a single run, so a rule dormant for years cannot flood the store.
const catchUpCap = 100

// Generator materializes transactions from due recurring rules. Each
// generated transaction and its outbox entry commit in one transaction, so
// the mutation and its replication intent never diverge.
type Generator struct {
	db     *sqlx.DB
	rules  repository.RecurringRepository
	txns   repository.TransactionsRepository
	outbox repository.OutboxRepository
	log    *zap.Logger

	now func() time.Time
}

func NewGenerator(
	db *sqlx.DB,
	rules repository.RecurringRepository,
	txns repository.TransactionsRepository,
	outbox repository.OutboxRepository,
	log *zap.Logger,
) *Generator {
	return &Generator{db: db, rules: rules, txns: txns, outbox: outbox, log: log}
}

func (g *Generator) clock() time.Time {
	if g.now != nil {
		return g.now()
	}
	return time.Now()
}

// GenerateDue creates one transaction per missed occurrence of every due
// rule and returns the number generated. Rules with broken frequencies are
// skipped and logged, never aborting the batch.
func (g *Generator) GenerateDue(ctx context.Context) (int, error) {
	now := g.clock()

	due, err := g.rules.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, rule := range due {
		n, err := g.generateForRule(ctx, rule, now)
		if err != nil {
			g.log.Warn("recurring rule generation failed",
				zap.String("rule_id", rule.ID),
				zap.String("rule_name", rule.Name),
				zap.Error(err),
			)
			continue
		}
		total += n
	}
	return total, nil
}

func (g *Generator) generateForRule(ctx context.Context, rule model.RecurringRule, now time.Time) (int, error) {
	if !rule.NextRun.Valid {
		return 0, nil
	}

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	n := 0
	next := rule.NextRun.Time
	for !next.After(now) && n < catchUpCap {
		if rule.EndDate.Valid && next.After(rule.EndDate.Time) {
			break
		}
		if err := g.emit(ctx, tx, rule, next, now); err != nil {
			return 0, err
		}
		n++

		next, err = advance(next, rule.Frequency)
		if err != nil {
			return 0, err
		}
	}

	if err := g.rules.SetNextRun(ctx, tx, rule.ID, next); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (g *Generator) emit(ctx context.Context, tx *sqlx.Tx, rule model.RecurringRule, occurredAt, now time.Time) error {
	rec := model.Transaction{
		ID:         util.NewULID(),
		AccountID:  rule.AccountID,
		CategoryID: rule.CategoryID,
		Type:       rule.Type,
		Amount:     rule.Amount,
		Currency:   rule.Currency,
		OccurredAt: model.NewUnixTime(occurredAt),
		Merchant:   sql.NullString{String: rule.Name, Valid: rule.Name != ""},
		CreatedAt:  model.NewUnixTime(now),
		SyncMeta: model.SyncMeta{
			UpdatedAt: model.NewUnixTime(now),
		},
	}
	if err := g.txns.Upsert(ctx, tx, rec); err != nil {
		return err
	}

	payload := model.TransactionPayload{
		AccountID:  rule.AccountID,
		CategoryID: rule.CategoryID.String,
		Type:       rule.Type,
		Amount:     rule.Amount,
		Currency:   rule.Currency,
		OccurredAt: occurredAt,
		Merchant:   rule.Name,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = g.outbox.Enqueue(ctx, tx, model.EntityTransaction, model.OpCreate, rec.ID, b)
	return err
}

func advance(t time.Time, frequency string) (time.Time, error) {
	switch frequency {
	case "daily":
		return t.AddDate(0, 0, 1), nil
	case "weekly":
		return t.AddDate(0, 0, 7), nil
	case "monthly":
		return t.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", frequency)
	}
}
