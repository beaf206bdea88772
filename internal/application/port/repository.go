package port

import (
	"context"
	"errors"
	"time"

	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
)

// ErrStaleReport is returned by conditional updates when the stored status no
// longer matches the status the caller loaded. Exactly one of two racing
// transitions wins; the loser observes this error.
var ErrStaleReport = errors.New("report modified concurrently")

// ReportRepository defines persistence operations for reports
type ReportRepository interface {
	Create(ctx context.Context, r *report.Report) error
	GetByID(ctx context.Context, id string) (*report.Report, error)
	List(ctx context.Context, limit, offset int) ([]*report.Report, error)

	// ListExpired returns submitted reports whose timeout has passed,
	// candidates for the TIMEOUT sweep
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*report.Report, error)

	// ListByStatuses returns reports in any of the given statuses, newest first
	ListByStatuses(ctx context.Context, statuses []report.Status, limit, offset int) ([]*report.Report, error)

	// UpdateFrom persists the report's lifecycle fields (status, timestamps,
	// flow signals, step hint) iff the stored status still equals from.
	// Returns ErrStaleReport when another writer got there first.
	UpdateFrom(ctx context.Context, r *report.Report, from report.Status) error

	SetEvidence(ctx context.Context, id, key, ref string) error
	SetIncidents(ctx context.Context, id string, items []report.IncidentItem) error
	SetChatDetour(ctx context.Context, id, lastStepBeforeChat string) error
	SetReturnToStep(ctx context.Context, id, step string) error
	SetTicketConfirmed(ctx context.Context, id string, returnTicket, confirmed bool) error
	SetStepHint(ctx context.Context, id, step string) error

	// DeleteDraft hard-deletes a draft. Drafts are the only reports that may
	// be deleted; everything past SUBMIT is retained for audit.
	DeleteDraft(ctx context.Context, id string) error
}

// TransitionRepository records applied lifecycle events for audit
type TransitionRepository interface {
	Create(ctx context.Context, rec *report.TransitionRecord) error
	GetByReportID(ctx context.Context, reportID string) ([]*report.TransitionRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
