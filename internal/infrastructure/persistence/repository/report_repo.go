package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/port"
	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
	"github.com/hvaldezm/delivery-incidents/internal/infrastructure/persistence/sqlite"
)

const reportColumns = `
	id, store_id, zone, report_type, status, evidence, incident_details,
	should_return_to_step, last_step_before_chat,
	ticket_extraction_confirmed, return_ticket_extraction_confirmed,
	current_step_hint, created_at, submitted_at, resolved_at, timeout_at, updated_at
`

// ReportRepository implements port.ReportRepository over SQLite. Evidence and
// incident lines are stored as JSON columns on the report row.
type ReportRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *sql.DB, logger *zap.Logger) port.ReportRepository {
	return &ReportRepository{db: db, logger: logger}
}

func (r *ReportRepository) exec(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

// Create inserts a new draft report
func (r *ReportRepository) Create(ctx context.Context, rep *report.Report) error {
	evidence, err := json.Marshal(rep.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}
	incidents, err := marshalIncidents(rep.IncidentDetails)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO reports (` + reportColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.exec(ctx).ExecContext(ctx, query,
		rep.ID, rep.StoreID, rep.Zone, string(rep.Type), string(rep.Status),
		string(evidence), incidents,
		rep.ShouldReturnToStep, rep.LastStepBeforeChat,
		rep.TicketExtractionConfirmed, rep.ReturnTicketExtractionConfirmed,
		rep.CurrentStepHint, rep.CreatedAt,
		nullTime(rep.SubmittedAt), nullTime(rep.ResolvedAt), nullTime(rep.TimeoutAt),
		rep.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create report", zap.Error(err))
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// GetByID retrieves a report by ID; returns nil, nil when absent
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*report.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = ?`
	rep, err := scanReport(r.exec(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get report", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return rep, nil
}

// List returns reports ordered newest first
func (r *ReportRepository) List(ctx context.Context, limit, offset int) ([]*report.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports ORDER BY created_at DESC LIMIT ? OFFSET ?`
	return r.queryReports(ctx, query, limit, offset)
}

// ListExpired returns submitted reports whose timeout has passed
func (r *ReportRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*report.Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE status = ? AND timeout_at IS NOT NULL AND timeout_at < ?
		ORDER BY timeout_at ASC
		LIMIT ?
	`
	return r.queryReports(ctx, query, string(report.StatusSubmitted), now, limit)
}

// ListByStatuses returns reports in any of the given statuses, newest first
func (r *ReportRepository) ListByStatuses(ctx context.Context, statuses []report.Status, limit, offset int) ([]*report.Report, error) {
	if len(statuses) == 0 {
		return []*report.Report{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := `SELECT ` + reportColumns + ` FROM reports WHERE status IN (` + placeholders + `)
		ORDER BY created_at DESC LIMIT ? OFFSET ?`

	args := make([]interface{}, 0, len(statuses)+2)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, limit, offset)

	return r.queryReports(ctx, query, args...)
}

// UpdateFrom persists lifecycle fields conditionally on the loaded status.
// The WHERE clause on status is what gives at-most-one-winner semantics under
// racing transitions.
func (r *ReportRepository) UpdateFrom(ctx context.Context, rep *report.Report, from report.Status) error {
	query := `
		UPDATE reports
		SET status = ?, should_return_to_step = ?, last_step_before_chat = ?,
			current_step_hint = ?, submitted_at = ?, resolved_at = ?, timeout_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.exec(ctx).ExecContext(ctx, query,
		string(rep.Status), rep.ShouldReturnToStep, rep.LastStepBeforeChat,
		rep.CurrentStepHint,
		nullTime(rep.SubmittedAt), nullTime(rep.ResolvedAt), nullTime(rep.TimeoutAt),
		rep.UpdatedAt,
		rep.ID, string(from),
	)
	if err != nil {
		r.logger.Error("Failed to update report", zap.String("id", rep.ID), zap.Error(err))
		return fmt.Errorf("failed to update report: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: report %s no longer in status %s", port.ErrStaleReport, rep.ID, from)
	}
	return nil
}

// SetEvidence records an evidence reference under the key. A retake replaces
// the value; the key is never cleared. The JSON path is quoted so the key is
// always a single top-level member and the evidence map stays flat.
func (r *ReportRepository) SetEvidence(ctx context.Context, id, key, ref string) error {
	query := `
		UPDATE reports
		SET evidence = json_set(evidence, '$."' || ? || '"', ?), updated_at = ?
		WHERE id = ?
	`
	return r.execOne(ctx, query, "set evidence", key, ref, time.Now(), id)
}

// SetIncidents replaces the incident lines
func (r *ReportRepository) SetIncidents(ctx context.Context, id string, items []report.IncidentItem) error {
	incidents, err := marshalIncidents(items)
	if err != nil {
		return err
	}
	query := `UPDATE reports SET incident_details = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, "set incidents", incidents, time.Now(), id)
}

// SetChatDetour records (or clears, with "") the step left for the chat
func (r *ReportRepository) SetChatDetour(ctx context.Context, id, lastStepBeforeChat string) error {
	query := `UPDATE reports SET last_step_before_chat = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, "set chat detour", lastStepBeforeChat, time.Now(), id)
}

// SetReturnToStep records (or clears, with "") the explicit flow override
func (r *ReportRepository) SetReturnToStep(ctx context.Context, id, step string) error {
	query := `UPDATE reports SET should_return_to_step = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, "set return step", step, time.Now(), id)
}

// SetTicketConfirmed records the driver confirming a ticket extraction
func (r *ReportRepository) SetTicketConfirmed(ctx context.Context, id string, returnTicket, confirmed bool) error {
	column := "ticket_extraction_confirmed"
	if returnTicket {
		column = "return_ticket_extraction_confirmed"
	}
	query := `UPDATE reports SET ` + column + ` = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, "set ticket confirmed", confirmed, time.Now(), id)
}

// SetStepHint refreshes the advisory step cache
func (r *ReportRepository) SetStepHint(ctx context.Context, id, step string) error {
	query := `UPDATE reports SET current_step_hint = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, "set step hint", step, time.Now(), id)
}

// DeleteDraft hard-deletes a report that never left draft
func (r *ReportRepository) DeleteDraft(ctx context.Context, id string) error {
	query := `DELETE FROM reports WHERE id = ? AND status = ?`
	result, err := r.exec(ctx).ExecContext(ctx, query, id, string(report.StatusDraft))
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: report %s is not a draft", port.ErrStaleReport, id)
	}
	return nil
}

func (r *ReportRepository) execOne(ctx context.Context, query, op string, args ...interface{}) error {
	if _, err := r.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("Report update failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

func (r *ReportRepository) queryReports(ctx context.Context, query string, args ...interface{}) ([]*report.Report, error) {
	rows, err := r.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query reports", zap.Error(err))
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []*report.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(s scanner) (*report.Report, error) {
	var rep report.Report
	var evidence, incidents string
	var submittedAt, resolvedAt, timeoutAt sql.NullTime

	err := s.Scan(
		&rep.ID, &rep.StoreID, &rep.Zone, &rep.Type, &rep.Status,
		&evidence, &incidents,
		&rep.ShouldReturnToStep, &rep.LastStepBeforeChat,
		&rep.TicketExtractionConfirmed, &rep.ReturnTicketExtractionConfirmed,
		&rep.CurrentStepHint, &rep.CreatedAt,
		&submittedAt, &resolvedAt, &timeoutAt,
		&rep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(evidence), &rep.Evidence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	if incidents != "" && incidents != "null" {
		if err := json.Unmarshal([]byte(incidents), &rep.IncidentDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal incidents: %w", err)
		}
	}

	if submittedAt.Valid {
		rep.SubmittedAt = &submittedAt.Time
	}
	if resolvedAt.Valid {
		rep.ResolvedAt = &resolvedAt.Time
	}
	if timeoutAt.Valid {
		rep.TimeoutAt = &timeoutAt.Time
	}
	return &rep, nil
}

func marshalIncidents(items []report.IncidentItem) (string, error) {
	if items == nil {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to marshal incidents: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
