package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/service"
)

// TimeoutSweeper periodically times out submitted reports whose 20-minute
// support window has expired. The short interval keeps the effective timeout
// close to the window; a report is never timed out early because the sweep
// itself checks the deadline.
type TimeoutSweeper struct {
	sweep  *service.SweepService
	logger *zap.Logger

	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewTimeoutSweeper creates a new timeout sweeper
func NewTimeoutSweeper(sweep *service.SweepService, interval time.Duration, logger *zap.Logger) *TimeoutSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &TimeoutSweeper{
		sweep:    sweep,
		logger:   logger,
		interval: interval,
	}
}

// Start starts the sweep loop
func (w *TimeoutSweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("timeout sweeper is already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true

	w.logger.Info("TimeoutSweeper started", zap.Duration("interval", w.interval))

	go w.loop()

	return nil
}

// Stop stops the sweep loop
func (w *TimeoutSweeper) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return
	}

	w.isRunning = false
	if w.cancel != nil {
		w.cancel()
	}

	w.logger.Info("TimeoutSweeper stopped")
}

// Name returns the worker name for identification
func (w *TimeoutSweeper) Name() string {
	return "TimeoutSweeper"
}

func (w *TimeoutSweeper) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Sweep immediately on start
	w.runOnce()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Sweep loop context cancelled")
			return

		case <-ticker.C:
			w.runOnce()
		}
	}
}

func (w *TimeoutSweeper) runOnce() {
	ctx, cancel := context.WithTimeout(w.ctx, 60*time.Second)
	defer cancel()

	if _, err := w.sweep.Run(ctx); err != nil {
		w.logger.Error("Timeout sweep failed", zap.Error(err))
	}
}
