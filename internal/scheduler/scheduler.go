package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wallabag_syncer/internal/domain"
)

// Syncer runs one sync pass.
type Syncer interface {
	Sync(ctx context.Context, onEvent func(domain.Event)) (*domain.SyncStats, error)
}

type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewScheduler(syncer Syncer, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start runs a pass immediately and then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "timeout", s.timeout)

	_, _ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single pass bounded by the scheduler timeout.
func (s *Scheduler) RunOnce(ctx context.Context) (*domain.SyncStats, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stats, err := s.syncer.Sync(syncCtx, s.logEvent)
	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		s.logger.Info("previous sync still running, skipping tick")
	case err != nil:
		s.logger.Error("sync failed", "error", err)
	}
	return stats, err
}

func (s *Scheduler) logEvent(ev domain.Event) {
	switch ev.State {
	case domain.EventError:
		s.logger.Error("sync rejected by server")
	case domain.EventFinished:
		s.logger.Debug("sync finished", "pages", ev.PageCompleted, "max_page", ev.MaxPage)
	default:
		s.logger.Debug("sync progress", "page_completed", ev.PageCompleted, "max_page", ev.MaxPage)
	}
}
