package worker

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleSweeper releases external events still attached to cancelled bookings.
type StaleSweeper interface {
	SweepStale(ctx context.Context, limit int) (int, error)
}

// Sweeper runs StaleSweeper on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	cron   *cron.Cron
	target StaleSweeper
	batch  int
	logger *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper releasing up to batch bookings per run.
func NewSweeper(target StaleSweeper, batch int, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batch <= 0 {
		batch = 50
	}
	return &Sweeper{cron: cron.New(), target: target, batch: batch, logger: logger}
}

// Start schedules the sweep with a cron spec such as "@every 5m" and starts the scheduler.
func (s *Sweeper) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("stale reference sweeper started", zap.String("schedule", spec))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("stale reference sweeper stopped")
}

// RunOnce performs one sweep and returns how many bookings were fully released.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug("sweep already running")
		return 0
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	n, err := s.target.SweepStale(ctx, s.batch)
	if err != nil {
		s.logger.Error("sweep stale references", zap.Error(err))
		return n
	}
	if n > 0 {
		s.logger.Info("released stale references", zap.Int("bookings", n))
	}
	return n
}
