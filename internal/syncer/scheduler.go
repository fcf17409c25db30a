package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron"

	"example.com/eventbrite-sync/internal/reconcile"
)

// Scheduler dispatches a sync run on a cron schedule.
type Scheduler struct {
	cron         *cron.Cron
	orchestrator Orchestrator
	logger       *slog.Logger
}

// NewScheduler parses schedule ("@every 1h", "0 0 * * * *", ...) and returns
// a scheduler that is not yet started.
func NewScheduler(schedule string, orchestrator Orchestrator, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:         cron.New(),
		orchestrator: orchestrator,
		logger:       logger.With("component", "sync.scheduler"),
	}
	if err := s.cron.AddFunc(schedule, s.Dispatch); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	s.logger.Info("sync schedule registered", "schedule", schedule)
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Dispatch starts one run without waiting for it.
func (s *Scheduler) Dispatch() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	id, err := s.orchestrator.RunSyncAsync(ctx, SyncInput{Reason: "schedule"})
	if err != nil {
		if errors.Is(err, reconcile.ErrSyncInProgress) {
			s.logger.Warn("scheduled sync skipped, another run is active")
			return
		}
		s.logger.Error("scheduled sync dispatch failed", "error", err)
		return
	}
	s.logger.Info("scheduled sync dispatched", "run_id", id)
}
