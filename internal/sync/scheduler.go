package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecurringGenerator materializes transactions from recurring rules that
// have come due.
type RecurringGenerator interface {
	GenerateDue(ctx context.Context) (int, error)
}

// Callbacks observe scheduler-driven runs. Each callback is invoked on its
// own goroutine so a slow or panicking observer cannot stall the schedule.
type Callbacks struct {
	OnRunStart    func()
	OnRunComplete func(Result)
	OnRunError    func(error)
}

// Status is a snapshot of scheduler health.
type Status struct {
	Running           bool      `json:"running"`
	LastSyncTime      time.Time `json:"lastSyncTime"`
	LastError         string    `json:"lastError,omitempty"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
}

// Scheduler triggers periodic sync runs and recurring-rule generation.
// Ticks that land while a run is in flight are dropped, never queued.
type Scheduler struct {
	proto      *Protocol
	recurring  RecurringGenerator
	interval   time.Duration
	recurEvery time.Duration
	runTimeout time.Duration
	callbacks  Callbacks
	log        *zap.Logger

	mu     sync.Mutex
	status Status

	stop chan struct{}
	done sync.WaitGroup
}

type SchedulerOpts struct {
	SyncInterval      time.Duration
	RecurringInterval time.Duration
	RunTimeout        time.Duration
	Callbacks         Callbacks
}

func NewScheduler(proto *Protocol, recurring RecurringGenerator, opts SchedulerOpts, log *zap.Logger) *Scheduler {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 15 * time.Minute
	}
	if opts.RecurringInterval <= 0 {
		opts.RecurringInterval = time.Hour
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}

	return &Scheduler{
		proto:      proto,
		recurring:  recurring,
		interval:   opts.SyncInterval,
		recurEvery: opts.RecurringInterval,
		runTimeout: opts.RunTimeout,
		callbacks:  opts.Callbacks,
		log:        log,
		stop:       make(chan struct{}),
	}
}

// Start launches the tick loop. It returns immediately.
func (s *Scheduler) Start() {
	s.done.Add(1)
	go s.loop()
}

// Stop halts the tick loop and waits for it to exit. An in-flight run is
// not interrupted; its context timeout bounds it.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.done.Wait()
}

// TriggerNow requests an immediate run on the caller's goroutine. It returns
// ErrAlreadyRunning when a run is in flight.
func (s *Scheduler) TriggerNow(ctx context.Context) (Result, error) {
	return s.runOnce(ctx)
}

// Status returns a snapshot of the last run.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.proto.Running()
	return st
}

func (s *Scheduler) loop() {
	defer s.done.Done()

	syncTick := time.NewTicker(s.interval)
	defer syncTick.Stop()
	recurTick := time.NewTicker(s.recurEvery)
	defer recurTick.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-syncTick.C:
			if _, err := s.runOnce(context.Background()); err != nil && err != ErrAlreadyRunning {
				s.log.Warn("scheduled sync failed", zap.Error(err))
			}
		case <-recurTick.C:
			s.generateRecurring()
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	s.fire(s.callbacks.OnRunStart)

	res, err := s.proto.Run(runCtx)
	if err == ErrAlreadyRunning {
		return res, err
	}

	s.recordRun(res, err)

	if err != nil {
		cb := s.callbacks.OnRunError
		if cb != nil {
			e := err
			s.fire(func() { cb(e) })
		}
		return res, err
	}

	cb := s.callbacks.OnRunComplete
	if cb != nil {
		r := res
		s.fire(func() { cb(r) })
	}
	return res, nil
}

func (s *Scheduler) recordRun(res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err != nil:
		s.status.LastError = err.Error()
		s.status.ConsecutiveErrors++
	case res.State == StateOfflineMode:
		// offline is not a failure; keep the error counter as-is
		s.status.LastError = ""
	default:
		s.status.LastSyncTime = time.Now()
		s.status.LastError = ""
		s.status.ConsecutiveErrors = 0
	}
}

func (s *Scheduler) generateRecurring() {
	if s.recurring == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	n, err := s.recurring.GenerateDue(ctx)
	if err != nil {
		s.log.Warn("recurring generation failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("generated recurring transactions", zap.Int("count", n))
	}
}

func (s *Scheduler) fire(fn func()) {
	if fn == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("sync callback panicked", zap.Any("panic", r))
			}
		}()
		fn()
	}()
}
