package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/port"
	"github.com/hvaldezm/delivery-incidents/internal/domain/flow"
	"github.com/hvaldezm/delivery-incidents/internal/domain/lifecycle"
	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
)

var (
	// ErrReportNotFound is returned when no report exists for the given ID
	ErrReportNotFound = errors.New("report not found")

	// ErrNotDraft is returned when a draft-only operation targets a report
	// past SUBMIT
	ErrNotDraft = errors.New("report is no longer a draft")

	// ErrInvalidEvidenceKey is returned when an upload names a key outside
	// the known evidence keys
	ErrInvalidEvidenceKey = errors.New("invalid evidence key")
)

// CreateReportInput carries the fields needed to open a draft report
type CreateReportInput struct {
	StoreID string
	Zone    string
	Type    report.Type
}

// ReportService drives the report lifecycle and wizard flow over the
// persistence and collaborator ports
type ReportService struct {
	reports     port.ReportRepository
	transitions port.TransitionRepository
	txManager   port.TransactionManager
	evidence    port.EvidenceStore
	extractor   port.TicketExtractor
	notifier    port.AgentNotifier
	machine     lifecycle.Machine
	logger      *zap.Logger
	now         func() time.Time
}

// ReportServiceOption configures the report service
type ReportServiceOption func(*ReportService)

// WithClock overrides the service clock, used by tests
func WithClock(now func() time.Time) ReportServiceOption {
	return func(s *ReportService) {
		s.now = now
	}
}

// NewReportService creates a new report service
func NewReportService(
	reports port.ReportRepository,
	transitions port.TransitionRepository,
	txManager port.TransactionManager,
	evidence port.EvidenceStore,
	extractor port.TicketExtractor,
	notifier port.AgentNotifier,
	logger *zap.Logger,
	opts ...ReportServiceOption,
) *ReportService {
	s := &ReportService{
		reports:     reports,
		transitions: transitions,
		txManager:   txManager,
		evidence:    evidence,
		extractor:   extractor,
		notifier:    notifier,
		machine:     lifecycle.NewReportMachine(),
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a draft report. Store validation has already happened at the
// caller; only the report type is checked here.
func (s *ReportService) Create(ctx context.Context, in CreateReportInput) (*report.Report, error) {
	if !in.Type.IsKnown() {
		return nil, fmt.Errorf("%w: %q", flow.ErrUnknownReportType, in.Type)
	}

	now := s.now()
	r := &report.Report{
		ID:        uuid.NewString(),
		StoreID:   in.StoreID,
		Zone:      in.Zone,
		Type:      in.Type,
		Status:    report.StatusDraft,
		Evidence:  make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.CurrentStepHint = flow.NextStep(flow.FromReport(r)).String()

	if err := s.reports.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}

	s.logger.Info("Report created",
		zap.String("report_id", r.ID),
		zap.String("store_id", r.StoreID),
		zap.String("type", string(r.Type)))

	return r, nil
}

// Get retrieves a report by ID
func (s *ReportService) Get(ctx context.Context, id string) (*report.Report, error) {
	r, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrReportNotFound
	}
	return r, nil
}

// List returns reports ordered newest first
func (s *ReportService) List(ctx context.Context, limit, offset int) ([]*report.Report, error) {
	return s.reports.List(ctx, limit, offset)
}

// History returns the applied lifecycle events for a report
func (s *ReportService) History(ctx context.Context, id string) ([]*report.TransitionRecord, error) {
	return s.transitions.GetByReportID(ctx, id)
}

// applyEvent loads the report, runs the event through the machine and
// persists the result conditionally on the loaded status. A concurrent
// writer surfaces as ErrInvalidTransition, never as silent corruption.
func (s *ReportService) applyEvent(ctx context.Context, id string, event lifecycle.Event, actor string) (*report.Report, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := r.Status
	now := s.now()

	if err := s.machine.Transition(r, event, now); err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.reports.UpdateFrom(txCtx, r, from); err != nil {
			if errors.Is(err, port.ErrStaleReport) {
				return fmt.Errorf("%w: event %s lost to a concurrent transition", lifecycle.ErrInvalidTransition, event)
			}
			return err
		}

		return s.transitions.Create(txCtx, &report.TransitionRecord{
			ReportID:   r.ID,
			FromStatus: from,
			ToStatus:   r.Status,
			Event:      event.String(),
			Actor:      actor,
			RecordedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lifecycle event applied",
		zap.String("report_id", r.ID),
		zap.String("event", event.String()),
		zap.String("from", from.String()),
		zap.String("to", r.Status.String()))

	return r, nil
}

// Submit moves a draft into live support and opens the timeout window.
// Agents of the report's zone are notified fire-and-forget.
func (s *ReportService) Submit(ctx context.Context, id string) (*report.Report, error) {
	r, err := s.applyEvent(ctx, id, lifecycle.EventSubmit, "driver")
	if err != nil {
		return nil, err
	}

	s.notifyAsync(r, s.notifier.NotifySubmission)
	return r, nil
}

// ConfirmResolution records the driver accepting the live-support outcome
func (s *ReportService) ConfirmResolution(ctx context.Context, id string) (*report.Report, error) {
	return s.applyEvent(ctx, id, lifecycle.EventDriverConfirmsResolution, "driver")
}

// Complete is the back-office close-out of a resolved or timed-out report
func (s *ReportService) Complete(ctx context.Context, id, actor string) (*report.Report, error) {
	return s.applyEvent(ctx, id, lifecycle.EventAdminCompletes, actor)
}

// Archive soft-deletes a completed report, retaining it for audit
func (s *ReportService) Archive(ctx context.Context, id, actor string) (*report.Report, error) {
	return s.applyEvent(ctx, id, lifecycle.EventArchive, actor)
}

// PermittedEvents returns the events currently legal for a report, letting
// the UI decide which actions to offer without attempting them
func (s *ReportService) PermittedEvents(ctx context.Context, id string) ([]lifecycle.Event, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.machine.PermittedEvents(r, s.now()), nil
}

// IsTimedOut reports whether the support window has expired, without
// transitioning anything
func (s *ReportService) IsTimedOut(ctx context.Context, id string) (bool, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return lifecycle.IsTimedOut(r, s.now()), nil
}

// UploadEvidence stores an image under an evidence key and recomputes the
// wizard position. Re-uploading a key replaces the reference but the key
// stays present, so the flow never moves backwards.
func (s *ReportService) UploadEvidence(ctx context.Context, id, key string, content []byte, mimeType string) (string, flow.Step, error) {
	if !report.IsEvidenceKey(key) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEvidenceKey, key)
	}
	if len(content) == 0 {
		return "", "", errors.New("evidence content cannot be empty")
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		return "", "", err
	}

	ref, err := s.evidence.Save(ctx, r.ID, key, content, mimeType)
	if err != nil {
		return "", "", fmt.Errorf("failed to store evidence: %w", err)
	}

	if err := s.reports.SetEvidence(ctx, r.ID, key, ref); err != nil {
		return "", "", err
	}

	r.SetEvidence(key, ref)
	step := s.resolveNextStep(ctx, r)

	s.logger.Info("Evidence recorded",
		zap.String("report_id", r.ID),
		zap.String("key", key),
		zap.String("next_step", step.String()))

	return ref, step, nil
}

// AttachIncidents replaces the incident lines recorded against the report
func (s *ReportService) AttachIncidents(ctx context.Context, id string, items []report.IncidentItem) (flow.Step, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if err := s.reports.SetIncidents(ctx, r.ID, items); err != nil {
		return "", err
	}

	r.IncidentDetails = items
	return s.resolveNextStep(ctx, r), nil
}

// ExtractTicket runs OCR over a previously uploaded ticket photo. The result
// is for display and later reconciliation; the lifecycle only reacts to the
// driver's confirmation.
func (s *ReportService) ExtractTicket(ctx context.Context, id, key string) (*port.TicketExtraction, error) {
	if key != report.EvidenceTicket && key != report.EvidenceReturnTicket {
		return nil, fmt.Errorf("key %q is not a ticket evidence key", key)
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ref := r.Evidence[key]
	if ref == "" {
		return nil, fmt.Errorf("no %s evidence uploaded yet", key)
	}

	content, mimeType, err := s.evidence.Read(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence %s: %w", ref, err)
	}

	extraction, err := s.extractor.Extract(ctx, content, mimeType)
	if err != nil {
		return nil, fmt.Errorf("ticket extraction failed: %w", err)
	}

	return extraction, nil
}

// ConfirmTicketExtraction records the driver vouching for the extracted
// ticket data, which is what unlocks SUBMIT for ticket-bearing types
func (s *ReportService) ConfirmTicketExtraction(ctx context.Context, id string, returnTicket bool) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.reports.SetTicketConfirmed(ctx, r.ID, returnTicket, true)
}

// NextStep recomputes the wizard position from persisted state
func (s *ReportService) NextStep(ctx context.Context, id string) (flow.Step, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.resolveNextStep(ctx, r), nil
}

// resolveNextStep runs the flow controller and refreshes the advisory step
// hint. Unknown types fall back to the entrega branch and are logged, never
// failed.
func (s *ReportService) resolveNextStep(ctx context.Context, r *report.Report) flow.Step {
	if !r.Type.IsKnown() {
		s.logger.Warn("Flow requested for unknown report type, using entrega branch",
			zap.String("report_id", r.ID),
			zap.String("type", string(r.Type)),
			zap.Error(flow.ErrUnknownReportType))
	}

	step := flow.NextStep(flow.FromReport(r))
	if r.CurrentStepHint != step.String() {
		if err := s.reports.SetStepHint(ctx, r.ID, step.String()); err != nil {
			s.logger.Warn("Failed to refresh step hint",
				zap.String("report_id", r.ID),
				zap.Error(err))
		}
		r.CurrentStepHint = step.String()
	}
	return step
}

// Navigate validates a requested step against the report type's valid set.
// Out-of-set requests redirect to the first valid step; the redirected flag
// reports whether that happened.
func (s *ReportService) Navigate(ctx context.Context, id string, requested flow.Step) (step flow.Step, redirected bool, err error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return "", false, err
	}

	step, resolveErr := flow.Resolve(flow.FromReport(r), requested)
	if resolveErr != nil {
		s.logger.Info("Navigation redirected",
			zap.String("report_id", r.ID),
			zap.String("requested", requested.String()),
			zap.String("redirected_to", step.String()),
			zap.Error(resolveErr))
		return step, true, nil
	}
	return step, false, nil
}

// EnterChat records the step the driver left for the support chat, so the
// flow routes back into the detour until the chat concludes
func (s *ReportService) EnterChat(ctx context.Context, id string, currentStep flow.Step) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	step, _ := flow.Resolve(flow.FromReport(r), currentStep)
	return s.reports.SetChatDetour(ctx, r.ID, step.String())
}

// LeaveChat ends the detour and pins the step the wizard must resume at
func (s *ReportService) LeaveChat(ctx context.Context, id string, returnStep flow.Step) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	step, _ := flow.Resolve(flow.FromReport(r), returnStep)
	if err := s.reports.SetChatDetour(ctx, r.ID, ""); err != nil {
		return err
	}
	return s.reports.SetReturnToStep(ctx, r.ID, step.String())
}

// AcknowledgeReturn clears the return override once the wizard host has
// routed the driver to it
func (s *ReportService) AcknowledgeReturn(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.reports.SetReturnToStep(ctx, r.ID, "")
}

// DeleteDraft discards a report that was never submitted. Deletion bypasses
// the lifecycle machine and is terminal.
func (s *ReportService) DeleteDraft(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != report.StatusDraft {
		return fmt.Errorf("%w: status is %s", ErrNotDraft, r.Status)
	}
	return s.reports.DeleteDraft(ctx, r.ID)
}

// notifyAsync fires a notification without blocking or failing the caller
func (s *ReportService) notifyAsync(r *report.Report, send func(context.Context, *report.Report) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := send(ctx, r); err != nil {
			s.logger.Error("Agent notification failed",
				zap.String("report_id", r.ID),
				zap.String("zone", r.Zone),
				zap.Error(err))
		}
	}()
}
