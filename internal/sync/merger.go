package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/finwallet/syncengine/internal/model"
	"github.com/finwallet/syncengine/internal/repository"
)

// Outcome classifies the result of applying one remote event.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeSkippedStale     Outcome = "skipped_stale"
	OutcomeError            Outcome = "error"
)

var ErrUnknownEventType = errors.New("unrecognized event type")

// Merger applies remote events to local state with last-write-wins conflict
// resolution. The event's server-assigned created_at is compared against the
// local record's updated_at; ties resolve in favor of the local record.
type Merger struct {
	applied   repository.AppliedEventsRepository
	txns      repository.TransactionsRepository
	budgets   repository.BudgetsRepository
	recurring repository.RecurringRepository
	alerts    repository.AlertsRepository
	goals     repository.SavingsGoalsRepository
	accounts  repository.AccountsRepository
	log       *zap.Logger
}

func NewMerger(
	applied repository.AppliedEventsRepository,
	txns repository.TransactionsRepository,
	budgets repository.BudgetsRepository,
	recurring repository.RecurringRepository,
	alerts repository.AlertsRepository,
	goals repository.SavingsGoalsRepository,
	accounts repository.AccountsRepository,
	log *zap.Logger,
) *Merger {
	return &Merger{
		applied:   applied,
		txns:      txns,
		budgets:   budgets,
		recurring: recurring,
		alerts:    alerts,
		goals:     goals,
		accounts:  accounts,
		log:       log,
	}
}

// ApplyEvent applies one remote event inside the caller's transaction.
// Handled events (applied or skipped_stale) are recorded in the idempotency
// ledger so they are never reprocessed, even when resolution discarded them.
func (m *Merger) ApplyEvent(ctx context.Context, tx *sqlx.Tx, ev model.RemoteEvent) (Outcome, error) {
	if ev.ID == "" {
		return OutcomeError, fmt.Errorf("event without id")
	}

	dup, err := m.applied.HasApplied(ctx, tx, ev.ID)
	if err != nil {
		return OutcomeError, err
	}
	if dup {
		return OutcomeSkippedDuplicate, nil
	}

	entityType, op, ok := model.ParseEventType(ev.Type)
	if !ok {
		return OutcomeError, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}

	var outcome Outcome
	switch entityType {
	case model.EntityTransaction:
		outcome, err = m.mergeTransaction(ctx, tx, op, ev)
	case model.EntityBudget:
		outcome, err = m.mergeBudget(ctx, tx, op, ev)
	case model.EntityRecurring:
		outcome, err = m.mergeRecurring(ctx, tx, op, ev)
	case model.EntityAlert:
		outcome, err = m.mergeAlert(ctx, tx, op, ev)
	case model.EntitySavingsGoal:
		outcome, err = m.mergeSavingsGoal(ctx, tx, op, ev)
	case model.EntityAccount:
		outcome, err = m.mergeAccount(ctx, tx, op, ev)
	default:
		return OutcomeError, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
	if err != nil {
		return OutcomeError, err
	}

	if outcome == OutcomeApplied || outcome == OutcomeSkippedStale {
		if err := m.applied.MarkApplied(ctx, tx, ev.ID); err != nil {
			return OutcomeError, err
		}
	}

	if outcome == OutcomeSkippedStale {
		m.log.Debug("event lost conflict resolution",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.String("entity_id", ev.EntityID),
		)
	}

	return outcome, nil
}

// remoteWins reports whether the event beats the local record. A missing
// record always loses; equal timestamps keep the local version.
func remoteWins(ev model.RemoteEvent, local *model.UnixTime) bool {
	if local == nil {
		return true
	}
	return ev.CreatedAt.After(local.Time)
}

// winnerMeta is the sync metadata written when the remote payload wins.
func winnerMeta(ev model.RemoteEvent) model.SyncMeta {
	return model.SyncMeta{
		Synced:           true,
		ServerID:         sql.NullString{String: ev.ID, Valid: true},
		ConflictResolved: true,
		UpdatedAt:        model.NewUnixTime(ev.CreatedAt),
	}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ---- per-entity handlers ----

func (m *Merger) mergeTransaction(ctx context.Context, tx *sqlx.Tx, op model.Operation, ev model.RemoteEvent) (Outcome, error) {
	existing, err := m.txns.Get(ctx, tx, ev.EntityID)
	if err != nil {
		return OutcomeError, err
	}

	if op == model.OpDelete {
		if existing == nil {
			return OutcomeApplied, nil
		}
		if existing.UpdatedAt.After(ev.CreatedAt) {
			// a later local edit outranks the earlier remote delete
			return OutcomeSkippedStale, nil
		}
		if err := m.txns.Delete(ctx, tx, ev.EntityID); err != nil {
			return OutcomeError, err
		}
		return OutcomeApplied, nil
	}

	var p model.TransactionPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return OutcomeError, fmt.Errorf("decode transaction payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return OutcomeError, err
	}

	var localUpdated *model.UnixTime
	if existing != nil {
		localUpdated = &existing.UpdatedAt
	}
	if !remoteWins(ev, localUpdated) {
		if !existing.ServerID.Valid {
			if err := m.txns.BackfillServerID(ctx, tx, ev.EntityID, ev.ID); err != nil {
				return OutcomeError, err
			}
		}
		return OutcomeSkippedStale, nil
	}

	var tags sql.NullString
	if len(p.Tags) > 0 {
		b, err := json.Marshal(p.Tags)
		if err != nil {
			return OutcomeError, err
		}
		tags = nullStr(string(b))
	}

	rec := model.Transaction{
		ID:            ev.EntityID,
		AccountID:     p.AccountID,
		CategoryID:    nullStr(p.CategoryID),
		SubcategoryID: nullStr(p.SubcategoryID),
		Type:          p.Type,
		Amount:        p.Amount,
		Currency:      currencyOr(p.Currency),
		OccurredAt:    model.NewUnixTime(p.OccurredAt),
		Merchant:      nullStr(p.Merchant),
		Note:          nullStr(p.Note),
		Tags:          tags,
		CreatedAt:     recordCreatedAt(existing != nil, ev, func() model.UnixTime { return existing.CreatedAt }),
		SyncMeta:      winnerMeta(ev),
	}
	if err := m.txns.Upsert(ctx, tx, rec); err != nil {
		return OutcomeError, err
	}
	return OutcomeApplied, nil
}

func (m *Merger) mergeBudget(ctx context.Context, tx *sqlx.Tx, op model.Operation, ev model.RemoteEvent) (Outcome, error) {
	existing, err := m.budgets.Get(ctx, tx, ev.EntityID)
	if err != nil {
		return OutcomeError, err
	}

	if op == model.OpDelete {
		if existing == nil {
			return OutcomeApplied, nil
		}
		if existing.UpdatedAt.After(ev.CreatedAt) {
			return OutcomeSkippedStale, nil
		}
		if err := m.budgets.Delete(ctx, tx, ev.EntityID); err != nil {
			return OutcomeError, err
		}
		return OutcomeApplied, nil
	}

	var p model.BudgetPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return OutcomeError, fmt.Errorf("decode budget payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return OutcomeError, err
	}

	// (category, month) is unique: a remote row for an unknown id that
	// collides with an existing month budget merges into that row instead
	// of inserting a duplicate.
	target := existing
	targetID := ev.EntityID
	if target == nil {
		collision, err := m.budgets.GetByCategoryMonth(ctx, tx, p.CategoryID, p.Month)
		if err != nil {
			return OutcomeError, err
		}
		if collision != nil {
			target = collision
			targetID = collision.ID
		}
	}

	var localUpdated *model.UnixTime
	if target != nil {
		localUpdated = &target.UpdatedAt
	}
	if !remoteWins(ev, localUpdated) {
		if !target.ServerID.Valid {
			if err := m.budgets.BackfillServerID(ctx, tx, targetID, ev.ID); err != nil {
				return OutcomeError, err
			}
		}
		return OutcomeSkippedStale, nil
	}

	rec := model.Budget{
		ID:         targetID,
		CategoryID: p.CategoryID,
		Month:      p.Month,
		Amount:     p.Amount,
		CreatedAt:  recordCreatedAt(target != nil, ev, func() model.UnixTime { return target.CreatedAt }),
		SyncMeta:   winnerMeta(ev),
	}
	if target != nil {
		rec.Consumed = target.Consumed
	}
	if err := m.budgets.Upsert(ctx, tx, rec); err != nil {
		return OutcomeError, err
	}
	return OutcomeApplied, nil
}

func (m *Merger) mergeRecurring(ctx context.Context, tx *sqlx.Tx, op model.Operation, ev model.RemoteEvent) (Outcome, error) {
	existing, err := m.recurring.Get(ctx, tx, ev.EntityID)
	if err != nil {
		return OutcomeError, err
	}

	if op == model.OpDelete {
		if existing == nil {
			return OutcomeApplied, nil
		}
		if existing.UpdatedAt.After(ev.CreatedAt) {
			return OutcomeSkippedStale, nil
		}
		if err := m.recurring.Delete(ctx, tx, ev.EntityID); err != nil {
			return OutcomeError, err
		}
		return OutcomeApplied, nil
	}

	var p model.RecurringPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return OutcomeError, fmt.Errorf("decode recurring payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return OutcomeError, err
	}

	var localUpdated *model.UnixTime
	if existing != nil {
		localUpdated = &existing.UpdatedAt
	}
	if !remoteWins(ev, localUpdated) {
		if !existing.ServerID.Valid {
			if err := m.recurring.BackfillServerID(ctx, tx, ev.EntityID, ev.ID); err != nil {
				return OutcomeError, err
			}
		}
		return OutcomeSkippedStale, nil
	}

	rec := model.RecurringRule{
		ID:           ev.EntityID,
		Name:         p.Name,
		Type:         p.Type,
		Amount:       p.Amount,
		Currency:     currencyOr(p.Currency),
		CategoryID:   nullStr(p.CategoryID),
		AccountID:    p.AccountID,
		Frequency:    p.Frequency,
		StartDate:    model.NewUnixTime(p.StartDate),
		AutoGenerate: p.AutoGenerate,
		CreatedAt:    recordCreatedAt(existing != nil, ev, func() model.UnixTime { return existing.CreatedAt }),
		SyncMeta:     winnerMeta(ev),
	}
	if p.EndDate != nil {
		rec.EndDate = model.SomeUnixTime(*p.EndDate)
	}
	if p.NextRun != nil {
		rec.NextRun = model.SomeUnixTime(*p.NextRun)
	}
	if err := m.recurring.Upsert(ctx, tx, rec); err != nil {
		return OutcomeError, err
	}
	return OutcomeApplied, nil
}

func (m *Merger) mergeAlert(ctx context.Context, tx *sqlx.Tx, op model.Operation, ev model.RemoteEvent) (Outcome, error) {
	existing, err := m.alerts.Get(ctx, tx, ev.EntityID)
	if err != nil {
		return OutcomeError, err
	}

	if op == model.OpDelete {
		if existing == nil {
			return OutcomeApplied, nil
		}
		if existing.UpdatedAt.After(ev.CreatedAt) {
			return OutcomeSkippedStale, nil
		}
		if err := m.alerts.Delete(ctx, tx, ev.EntityID); err != nil {
			return OutcomeError, err
		}
		return OutcomeApplied, nil
	}

	var p model.AlertPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return OutcomeError, fmt.Errorf("decode alert payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return OutcomeError, err
	}

	var localUpdated *model.UnixTime
	if existing != nil {
		localUpdated = &existing.UpdatedAt
	}
	if !remoteWins(ev, localUpdated) {
		if !existing.ServerID.Valid {
			if err := m.alerts.BackfillServerID(ctx, tx, ev.EntityID, ev.ID); err != nil {
				return OutcomeError, err
			}
		}
		return OutcomeSkippedStale, nil
	}

	rec := model.Alert{
		ID:          ev.EntityID,
		AlertType:   p.AlertType,
		Severity:    p.Severity,
		Title:       p.Title,
		Message:     nullStr(p.Message),
		CategoryID:  nullStr(p.CategoryID),
		IsRead:      p.IsRead,
		IsDismissed: p.IsDismissed,
		CreatedAt:   recordCreatedAt(existing != nil, ev, func() model.UnixTime { return existing.CreatedAt }),
		SyncMeta:    winnerMeta(ev),
	}
	if p.Amount != nil {
		rec.Amount = sql.NullFloat64{Float64: *p.Amount, Valid: true}
	}
	if err := m.alerts.Upsert(ctx, tx, rec); err != nil {
		return OutcomeError, err
	}
	return OutcomeApplied, nil
}

func (m *Merger) mergeSavingsGoal(ctx context.Context, tx *sqlx.Tx, op model.Operation, ev model.RemoteEvent) (Outcome, error) {
	existing, err := m.goals.Get(ctx, tx, ev.EntityID)
	if err != nil {
		return OutcomeError, err
	}

	if op == model.OpDelete {
		if existing == nil {
			return OutcomeApplied, nil
		}
		if existing.UpdatedAt.After(ev.CreatedAt) {
			return OutcomeSkippedStale, nil
		}
		if err := m.goals.Delete(ctx, tx, ev.EntityID); err != nil {
			return OutcomeError, err
		}
		return OutcomeApplied, nil
	}

	var p model.SavingsGoalPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return OutcomeError, fmt.Errorf("decode savings goal payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return OutcomeError, err
	}

	var localUpdated *model.UnixTime
	if existing != nil {
		localUpdated = &existing.UpdatedAt
	}
	if !remoteWins(ev, localUpdated) {
		if !existing.ServerID.Valid {
			if err := m.goals.BackfillServerID(ctx, tx, ev.EntityID, ev.ID); err != nil {
				return OutcomeError, err
			}
		}
		return OutcomeSkippedStale, nil
	}

	rec := model.SavingsGoal{
		ID:           ev.EntityID,
		Name:         p.Name,
		TargetAmount: p.TargetAmount,
		CreatedAt:    recordCreatedAt(existing != nil, ev, func() model.UnixTime { return existing.CreatedAt }),
		SyncMeta:     winnerMeta(ev),
	}
	if p.Deadline != nil {
		rec.Deadline = model.SomeUnixTime(*p.Deadline)
	}
	if err := m.goals.UpsertBase(ctx, tx, rec); err != nil {
		return OutcomeError, err
	}
	return OutcomeApplied, nil
}

func (m *Merger) mergeAccount(ctx context.Context, tx *sqlx.Tx, op model.Operation, ev model.RemoteEvent) (Outcome, error) {
	existing, err := m.accounts.Get(ctx, tx, ev.EntityID)
	if err != nil {
		return OutcomeError, err
	}

	if op == model.OpDelete {
		if existing == nil {
			return OutcomeApplied, nil
		}
		if existing.UpdatedAt.After(ev.CreatedAt) {
			return OutcomeSkippedStale, nil
		}
		if err := m.accounts.Delete(ctx, tx, ev.EntityID); err != nil {
			return OutcomeError, err
		}
		return OutcomeApplied, nil
	}

	var p model.AccountPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return OutcomeError, fmt.Errorf("decode account payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return OutcomeError, err
	}

	var localUpdated *model.UnixTime
	if existing != nil {
		localUpdated = &existing.UpdatedAt
	}
	if !remoteWins(ev, localUpdated) {
		if !existing.ServerID.Valid {
			if err := m.accounts.BackfillServerID(ctx, tx, ev.EntityID, ev.ID); err != nil {
				return OutcomeError, err
			}
		}
		return OutcomeSkippedStale, nil
	}

	rec := model.Account{
		ID:             ev.EntityID,
		Name:           p.Name,
		Type:           p.Type,
		Currency:       currencyOr(p.Currency),
		OpeningBalance: p.OpeningBalance,
		CreatedAt:      recordCreatedAt(existing != nil, ev, func() model.UnixTime { return existing.CreatedAt }),
		SyncMeta:       winnerMeta(ev),
	}
	if err := m.accounts.UpsertBase(ctx, tx, rec); err != nil {
		return OutcomeError, err
	}
	return OutcomeApplied, nil
}

func currencyOr(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}

// recordCreatedAt keeps the local creation time on update and stamps the
// event time on first sight.
func recordCreatedAt(exists bool, ev model.RemoteEvent, local func() model.UnixTime) model.UnixTime {
	if exists {
		return local()
	}
	return model.NewUnixTime(ev.CreatedAt)
}
