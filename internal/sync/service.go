package sync

import (
	"context"
	"time"
)

// Service is the app-facing surface of the sync engine. Trigger methods run
// on the caller's context; the scheduler keeps background runs going either
// way.
type Service struct {
	proto     *Protocol
	scheduler *Scheduler
}

func NewService(proto *Protocol, scheduler *Scheduler) *Service {
	return &Service{proto: proto, scheduler: scheduler}
}

// SyncNow runs a full cycle, or returns ErrAlreadyRunning.
func (s *Service) SyncNow(ctx context.Context) (Result, error) {
	return s.scheduler.TriggerNow(ctx)
}

// PushOnly pushes pending outbox entries without pulling.
func (s *Service) PushOnly(ctx context.Context) (Result, error) {
	return s.proto.RunPush(ctx)
}

// PullOnly pulls and merges remote events without pushing.
func (s *Service) PullOnly(ctx context.Context) (Result, error) {
	return s.proto.RunPull(ctx)
}

// SyncNowBlocking runs a full cycle detached from the caller's context,
// bounded by timeout. Useful for one-shot CLI invocations.
func (s *Service) SyncNowBlocking(timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.proto.Run(ctx)
}

// LastSyncInfo reports scheduler status.
func (s *Service) LastSyncInfo() Status {
	return s.scheduler.Status()
}
