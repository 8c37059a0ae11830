package schedule

import (
	"context"
	"log/slog"
)

// Service is the lifecycle façade the host application drives. It delegates
// to the Scheduler and passes errors through unchanged; logging is its only
// side effect.
type Service struct {
	scheduler *Scheduler
}

// NewService wraps a Scheduler.
func NewService(scheduler *Scheduler) *Service {
	return &Service{scheduler: scheduler}
}

// Start begins periodic aggregation.
func (s *Service) Start(ctx context.Context) error {
	slog.Info("aggregation service starting")
	return s.scheduler.Start(ctx)
}

// Stop halts periodic aggregation.
func (s *Service) Stop() {
	slog.Info("aggregation service stopping")
	s.scheduler.Stop()
}
