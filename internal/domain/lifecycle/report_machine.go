package lifecycle

import (
	"errors"
	"time"

	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
)

// TimeoutWindow is how long after SUBMIT the report waits for live support
// before it may be timed out. Set once at SUBMIT and never reset.
const TimeoutWindow = 20 * time.Minute

// NewReportMachine builds the report lifecycle event table:
//
//	draft -SUBMIT-> submitted -DRIVER_CONFIRMS_RESOLUTION-> resolved_by_driver
//	                          -TIMEOUT------------------- > timed_out
//	resolved_by_driver | timed_out -ADMIN_COMPLETES-> completed -ARCHIVE-> archived
func NewReportMachine() Machine {
	b := NewBuilder()

	b.Configure(report.StatusDraft).
		PermitIf(EventSubmit, report.StatusSubmitted, guardTicketConfirmed).
		WithEffect(effectStampSubmission)

	b.Configure(report.StatusSubmitted).
		Permit(EventDriverConfirmsResolution, report.StatusResolvedByDriver).
		WithEffect(effectStampResolution).
		PermitIf(EventTimeout, report.StatusTimedOut, guardWindowExpired)

	b.Configure(report.StatusResolvedByDriver).
		Permit(EventAdminCompletes, report.StatusCompleted)

	b.Configure(report.StatusTimedOut).
		Permit(EventAdminCompletes, report.StatusCompleted)

	b.Configure(report.StatusCompleted).
		Permit(EventArchive, report.StatusArchived)

	return b.Build()
}

// guardTicketConfirmed blocks SUBMIT until the driver has confirmed the
// extracted ticket data, for types that carry a ticket
func guardTicketConfirmed(r *report.Report, _ time.Time) error {
	if r.TicketExtractionConfirmed || !r.Type.RequiresTicketConfirmation() {
		return nil
	}
	return errors.New("ticket extraction not confirmed")
}

// guardWindowExpired only admits TIMEOUT once the support window has passed
func guardWindowExpired(r *report.Report, now time.Time) error {
	if IsTimedOut(r, now) {
		return nil
	}
	return errors.New("timeout window has not expired")
}

func effectStampSubmission(r *report.Report, now time.Time) {
	submitted := now
	deadline := now.Add(TimeoutWindow)
	r.SubmittedAt = &submitted
	r.TimeoutAt = &deadline
}

func effectStampResolution(r *report.Report, now time.Time) {
	resolved := now
	r.ResolvedAt = &resolved
}

// IsTimedOut reports whether the support window has expired. It is a pure
// check; applying TIMEOUT is a separate, deliberate act so the audit trail
// records when the transition actually happened.
func IsTimedOut(r *report.Report, now time.Time) bool {
	return r.TimeoutAt != nil && now.After(*r.TimeoutAt)
}
