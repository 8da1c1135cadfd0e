package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/finwallet/syncengine/internal/gateway"
	"github.com/finwallet/syncengine/internal/metrics"
	"github.com/finwallet/syncengine/internal/model"
	"github.com/finwallet/syncengine/internal/repository"
)

// State names the phase a sync run is in, or finished in.
type State string

const (
	StateIdle            State = "IDLE"
	StateCheckingNetwork State = "CHECKING_NETWORK"
	StatePushOutbox      State = "PUSH_OUTBOX"
	StatePullInbox       State = "PULL_INBOX"
	StateMergeConflicts  State = "MERGE_CONFLICTS"
	StateRecalculate     State = "RECALCULATE"
	StateSyncComplete    State = "SYNC_COMPLETE"
	StateOfflineMode     State = "OFFLINE_MODE"
	StateError           State = "ERROR"
)

// ErrAlreadyRunning is returned when a run is requested while another run
// holds the single-flight gate. The request is dropped, never queued.
var ErrAlreadyRunning = errors.New("sync already running")

// Recalculator recomputes derived values (account balances, budget
// consumption, goal progress) after remote events have been merged.
type Recalculator interface {
	Recalculate(ctx context.Context) error
}

// Result summarizes one sync run.
type Result struct {
	State      State
	Pushed     int
	PushFailed int
	Pulled     int
	Applied    int
	Skipped    int // duplicates, stale losers and own echoes
	Err        error
}

// Protocol drives a full sync cycle: reachability probe, outbox push, paged
// pull with merge, then recalculation. At most one run executes at a time.
type Protocol struct {
	db       *sqlx.DB
	gw       gateway.Gateway
	outbox   repository.OutboxRepository
	state    repository.SyncStateRepository
	merger   *Merger
	recalc   Recalculator
	policy   RetryPolicy
	pushLim  int
	pullPage int
	log      *zap.Logger

	running atomic.Bool
	now     func() time.Time
}

type ProtocolOpts struct {
	Gateway      gateway.Gateway
	Outbox       repository.OutboxRepository
	State        repository.SyncStateRepository
	Merger       *Merger
	Recalculator Recalculator
	Policy       RetryPolicy
	PushLimit    int
	PullPageSize int
}

func NewProtocol(db *sqlx.DB, opts ProtocolOpts, log *zap.Logger) *Protocol {
	if opts.PushLimit <= 0 {
		opts.PushLimit = 100
	}
	if opts.PullPageSize <= 0 {
		opts.PullPageSize = 50
	}

	return &Protocol{
		db:       db,
		gw:       opts.Gateway,
		outbox:   opts.Outbox,
		state:    opts.State,
		merger:   opts.Merger,
		recalc:   opts.Recalculator,
		policy:   opts.Policy,
		pushLim:  opts.PushLimit,
		pullPage: opts.PullPageSize,
		log:      log,
	}
}

func (p *Protocol) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// Running reports whether a run currently holds the gate.
func (p *Protocol) Running() bool { return p.running.Load() }

// Run executes a full push-then-pull cycle. When the remote log is
// unreachable the run ends in OFFLINE_MODE without error: being offline is a
// normal condition, not a failure.
func (p *Protocol) Run(ctx context.Context) (Result, error) {
	return p.run(ctx, true, true)
}

// RunPush pushes the outbox without pulling.
func (p *Protocol) RunPush(ctx context.Context) (Result, error) {
	return p.run(ctx, true, false)
}

// RunPull pulls and merges without pushing.
func (p *Protocol) RunPull(ctx context.Context) (Result, error) {
	return p.run(ctx, false, true)
}

func (p *Protocol) run(ctx context.Context, doPush, doPull bool) (Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		metrics.SyncRunsTotal.WithLabelValues("already_running").Inc()
		return Result{State: StateIdle}, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	var res Result

	res.State = StateCheckingNetwork
	if err := p.gw.Ping(ctx); err != nil {
		p.log.Info("remote unreachable, staying offline", zap.Error(err))
		metrics.SyncRunsTotal.WithLabelValues("offline").Inc()
		res.State = StateOfflineMode
		return res, nil
	}

	if doPush {
		res.State = StatePushOutbox
		if err := p.push(ctx, &res); err != nil {
			return p.fail(res, err)
		}
	}

	if doPull {
		res.State = StatePullInbox
		if err := p.pull(ctx, &res); err != nil {
			return p.fail(res, err)
		}
	}

	res.State = StateRecalculate
	if err := p.recalc.Recalculate(ctx); err != nil {
		return p.fail(res, err)
	}

	if err := p.state.Set(ctx, nil, repository.StateLastSyncAt, p.clock().UTC().Format(time.RFC3339Nano)); err != nil {
		return p.fail(res, err)
	}

	res.State = StateSyncComplete
	metrics.SyncRunsTotal.WithLabelValues("complete").Inc()
	p.log.Info("sync complete",
		zap.Int("pushed", res.Pushed),
		zap.Int("push_failed", res.PushFailed),
		zap.Int("pulled", res.Pulled),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (p *Protocol) fail(res Result, err error) (Result, error) {
	metrics.SyncRunsTotal.WithLabelValues("error").Inc()
	res.State = StateError
	res.Err = err
	return res, err
}

// push drains eligible outbox entries oldest-first. Failures are recorded
// per entry and never abort the batch: one poisoned payload must not block
// the queue behind it.
func (p *Protocol) push(ctx context.Context, res *Result) error {
	deviceID, err := p.state.EnsureDeviceID(ctx)
	if err != nil {
		return err
	}

	entries, err := p.outbox.NextBatch(ctx, p.pushLim, p.clock())
	if err != nil {
		return err
	}

	for _, e := range entries {
		ev := model.RemoteEvent{
			ID:             e.ID,
			Type:           e.EventType(),
			EntityID:       e.EntityID,
			OriginDeviceID: deviceID,
			SchemaVersion:  model.SchemaVersion,
			Payload:        e.Payload,
		}

		if _, err := p.gw.CreateEvent(ctx, ev); err != nil {
			res.PushFailed++
			metrics.EventsTotal.WithLabelValues("push", "failed").Inc()
			if ferr := p.recordPushFailure(ctx, e, err); ferr != nil {
				return ferr
			}
			continue
		}

		if err := p.outbox.MarkSynced(ctx, nil, e.ID); err != nil {
			return err
		}
		res.Pushed++
		metrics.EventsTotal.WithLabelValues("push", "pushed").Inc()
	}

	if err := p.state.Set(ctx, nil, repository.StateLastPushAt, p.clock().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}

	if n, err := p.outbox.CountPending(ctx, p.clock()); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
	return nil
}

func (p *Protocol) recordPushFailure(ctx context.Context, e model.OutboxEntry, cause error) error {
	if gateway.IsPermanent(cause) {
		p.log.Warn("outbox entry rejected, freezing",
			zap.String("entry_id", e.ID),
			zap.String("event_type", e.EventType()),
			zap.Error(cause),
		)
		return p.outbox.Freeze(ctx, nil, e.ID, cause.Error())
	}

	var next model.NullUnixTime
	if delay, ok := p.policy.Delay(e.RetryCount); ok {
		next = model.SomeUnixTime(p.clock().Add(delay))
	}
	p.log.Warn("outbox push failed, will retry",
		zap.String("entry_id", e.ID),
		zap.Int("retry_count", e.RetryCount+1),
		zap.Error(cause),
	)
	return p.outbox.MarkFailed(ctx, nil, e.ID, cause.Error(), next)
}

// pull pages through remote events newer than the stored cursor and merges
// each one in its own transaction. The cursor only advances past events that
// were handled, so a crash mid-page resumes without loss; the idempotency
// ledger absorbs the resulting re-deliveries.
func (p *Protocol) pull(ctx context.Context, res *Result) error {
	deviceID, err := p.state.EnsureDeviceID(ctx)
	if err != nil {
		return err
	}

	since, err := p.lastAppliedCursor(ctx)
	if err != nil {
		return err
	}

	var (
		maxCreated  time.Time
		lastEventID string
		pageToken   string
	)

	for {
		events, next, err := p.gw.FetchEventsSince(ctx, since, pageToken, p.pullPage)
		if err != nil {
			return err
		}
		res.Pulled += len(events)

		res.State = StateMergeConflicts
		for _, ev := range events {
			outcome, err := p.applyOne(ctx, deviceID, ev)
			if err != nil {
				p.log.Error("apply event failed",
					zap.String("event_id", ev.ID),
					zap.String("event_type", ev.Type),
					zap.Error(err),
				)
				metrics.EventsTotal.WithLabelValues("pull", "error").Inc()
				continue
			}

			switch outcome {
			case OutcomeApplied:
				res.Applied++
			default:
				res.Skipped++
			}
			metrics.EventsTotal.WithLabelValues("pull", string(outcome)).Inc()

			if ev.CreatedAt.After(maxCreated) {
				maxCreated = ev.CreatedAt
				lastEventID = ev.ID
			}
		}
		res.State = StatePullInbox

		if next == "" || len(events) < p.pullPage {
			break
		}
		pageToken = next
	}

	if !maxCreated.IsZero() {
		if err := p.state.Set(ctx, nil, repository.StateLastAppliedAt, maxCreated.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
		if err := p.state.Set(ctx, nil, repository.StateLastAppliedEventID, lastEventID); err != nil {
			return err
		}
	}
	return nil
}

// applyOne merges a single event inside its own transaction. Events that
// originated on this device are recorded in the ledger and skipped: their
// effect is already present locally.
func (p *Protocol) applyOne(ctx context.Context, deviceID string, ev model.RemoteEvent) (Outcome, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return OutcomeError, err
	}
	defer func() { _ = tx.Rollback() }()

	var outcome Outcome
	if ev.OriginDeviceID == deviceID {
		if err := p.merger.applied.MarkApplied(ctx, tx, ev.ID); err != nil {
			return OutcomeError, err
		}
		outcome = OutcomeSkippedDuplicate
	} else {
		outcome, err = p.merger.ApplyEvent(ctx, tx, ev)
		if err != nil {
			return OutcomeError, err
		}
	}

	if err := tx.Commit(); err != nil {
		return OutcomeError, err
	}
	return outcome, nil
}

func (p *Protocol) lastAppliedCursor(ctx context.Context) (time.Time, error) {
	raw, ok, err := p.state.Get(ctx, repository.StateLastAppliedAt)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		p.log.Warn("unparseable pull cursor, starting from zero", zap.String("value", raw))
		return time.Time{}, nil
	}
	return t, nil
}
