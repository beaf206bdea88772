package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/port"
	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
	"github.com/hvaldezm/delivery-incidents/internal/infrastructure/persistence/sqlite"
)

// TransitionRepository implements port.TransitionRepository over SQLite
type TransitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransitionRepository creates a new transition repository
func NewTransitionRepository(db *sql.DB, logger *zap.Logger) port.TransitionRepository {
	return &TransitionRepository{db: db, logger: logger}
}

// Create records one applied lifecycle event
func (r *TransitionRepository) Create(ctx context.Context, rec *report.TransitionRecord) error {
	query := `
		INSERT INTO report_transitions (report_id, from_status, to_status, event, actor, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		rec.ReportID, string(rec.FromStatus), string(rec.ToStatus),
		rec.Event, rec.Actor, rec.RecordedAt,
	)
	if err != nil {
		r.logger.Error("Failed to record transition", zap.Error(err))
		return fmt.Errorf("failed to record transition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByReportID returns the transitions applied to a report, oldest first
func (r *TransitionRepository) GetByReportID(ctx context.Context, reportID string) ([]*report.TransitionRecord, error) {
	query := `
		SELECT id, report_id, from_status, to_status, event, actor, recorded_at
		FROM report_transitions
		WHERE report_id = ?
		ORDER BY recorded_at ASC, id ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, reportID)
	if err != nil {
		r.logger.Error("Failed to query transitions", zap.String("report_id", reportID), zap.Error(err))
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var records []*report.TransitionRecord
	for rows.Next() {
		var rec report.TransitionRecord
		if err := rows.Scan(&rec.ID, &rec.ReportID, &rec.FromStatus, &rec.ToStatus,
			&rec.Event, &rec.Actor, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
