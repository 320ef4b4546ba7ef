package diarysync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/mealsync/internal/model"
)

// DefaultInterval is the period between background push passes.
const DefaultInterval = 5 * time.Minute

// Syncer is the part of the orchestrator the scheduler drives.
type Syncer interface {
	PullNow(ctx context.Context) (int, error)
	Push(ctx context.Context) error
}

// PassCallback is called after every pass the scheduler runs.
type PassCallback func(kind model.SyncKind, err error)

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	Interval    time.Duration
	PullOnStart bool
}

// Scheduler runs a push pass at start and then on a fixed interval. It is
// either stopped or running; Start and Stop are no-ops when already in the
// target state.
type Scheduler struct {
	mu       sync.Mutex
	syncer   Syncer
	cfg      SchedulerConfig
	callback PassCallback
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(syncer Syncer, cfg SchedulerConfig, callback PassCallback, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		syncer:   syncer,
		cfg:      cfg,
		callback: callback,
		logger:   logger,
	}
}

// Start runs an immediate push pass and arms the periodic one. Pass errors
// are logged, not returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		s.logger.Debug("sync scheduler already running")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	s.logger.Info("starting sync scheduler", "interval", s.cfg.Interval)

	go func() {
		defer close(done)

		if s.cfg.PullOnStart {
			n, err := s.syncer.PullNow(ctx)
			if err == nil {
				s.logger.Debug("initial pull finished", "inserted", n)
			}
			s.notify(model.SyncPull, err)
		}
		s.tick(ctx, "initial")

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx, "periodic")
			}
		}
	}()
}

// Stop cancels the loop, including an in-flight pass, and waits for it to
// exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("sync scheduler stopped")
}

// Running reports whether the periodic loop is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// ForceNow runs one push pass and returns its error.
func (s *Scheduler) ForceNow(ctx context.Context) error {
	s.logger.Info("force sync triggered")
	err := s.syncer.Push(ctx)
	s.notify(model.SyncPush, err)
	return err
}

func (s *Scheduler) tick(ctx context.Context, reason string) {
	err := s.syncer.Push(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("sync failed", "reason", reason, "error", err)
	}
	s.notify(model.SyncPush, err)
}

func (s *Scheduler) notify(kind model.SyncKind, err error) {
	if s.callback != nil {
		s.callback(kind, err)
	}
}
