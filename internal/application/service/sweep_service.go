package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/port"
	"github.com/hvaldezm/delivery-incidents/internal/domain/flow"
	"github.com/hvaldezm/delivery-incidents/internal/domain/lifecycle"
	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
)

// SweepService applies TIMEOUT to submitted reports whose support window has
// expired. The tienda_cerrada auto-resolution is a domain policy specific to
// that report type and lives here, layered above the machine, not inside it.
type SweepService struct {
	reports     port.ReportRepository
	transitions port.TransitionRepository
	txManager   port.TransactionManager
	notifier    port.AgentNotifier
	machine     lifecycle.Machine
	logger      *zap.Logger
	now         func() time.Time
	batchSize   int
}

// SweepOption configures the sweep service
type SweepOption func(*SweepService)

// WithSweepClock overrides the sweep clock, used by tests
func WithSweepClock(now func() time.Time) SweepOption {
	return func(s *SweepService) {
		s.now = now
	}
}

// WithBatchSize caps how many expired reports one sweep handles
func WithBatchSize(n int) SweepOption {
	return func(s *SweepService) {
		s.batchSize = n
	}
}

// NewSweepService creates a new sweep service
func NewSweepService(
	reports port.ReportRepository,
	transitions port.TransitionRepository,
	txManager port.TransactionManager,
	notifier port.AgentNotifier,
	logger *zap.Logger,
	opts ...SweepOption,
) *SweepService {
	s := &SweepService{
		reports:     reports,
		transitions: transitions,
		txManager:   txManager,
		notifier:    notifier,
		machine:     lifecycle.NewReportMachine(),
		logger:      logger,
		now:         time.Now,
		batchSize:   50,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps one batch of expired reports and returns how many transitions
// landed. A report whose driver confirms resolution mid-sweep loses the race
// cleanly: the conditional update fails and the report is skipped.
func (s *SweepService) Run(ctx context.Context) (int, error) {
	now := s.now()

	expired, err := s.reports.ListExpired(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reports: %w", err)
	}

	swept := 0
	for _, r := range expired {
		if err := s.sweepOne(ctx, r, now); err != nil {
			if errors.Is(err, port.ErrStaleReport) {
				s.logger.Info("Sweep lost race to a live transition",
					zap.String("report_id", r.ID))
				continue
			}
			s.logger.Error("Failed to time out report",
				zap.String("report_id", r.ID),
				zap.Error(err))
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.Info("Timeout sweep finished",
			zap.Int("candidates", len(expired)),
			zap.Int("swept", swept))
	}
	return swept, nil
}

func (s *SweepService) sweepOne(ctx context.Context, r *report.Report, now time.Time) error {
	from := r.Status

	if err := s.machine.Transition(r, lifecycle.EventTimeout, now); err != nil {
		return err
	}

	// Unresolved closed-store reports are treated as resolved-no: the flow is
	// pinned to finish so the driver is never prompted again.
	if r.Type == report.TypeTiendaCerrada {
		r.ShouldReturnToStep = flow.StepFinish.String()
		r.CurrentStepHint = flow.StepFinish.String()
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.reports.UpdateFrom(txCtx, r, from); err != nil {
			return err
		}
		return s.transitions.Create(txCtx, &report.TransitionRecord{
			ReportID:   r.ID,
			FromStatus: from,
			ToStatus:   r.Status,
			Event:      lifecycle.EventTimeout.String(),
			Actor:      "sweep",
			RecordedAt: now,
		})
	})
	if err != nil {
		return err
	}

	go func(r *report.Report) {
		nctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notifier.NotifyTimeout(nctx, r); err != nil {
			s.logger.Error("Timeout notification failed",
				zap.String("report_id", r.ID),
				zap.Error(err))
		}
	}(r)

	return nil
}
