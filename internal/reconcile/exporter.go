package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/port"
	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
)

const sheetName = "Reports"

// Exporter writes completed and archived reports into an XLSX workbook so the
// commercial team can reconcile incident claims against store settlements.
type Exporter struct {
	reports port.ReportRepository
	logger  *zap.Logger
}

// NewExporter creates a new reconciliation exporter
func NewExporter(reports port.ReportRepository, logger *zap.Logger) *Exporter {
	return &Exporter{reports: reports, logger: logger}
}

// Export writes all completed and archived reports to outputPath.
// Returns the number of exported rows.
func (e *Exporter) Export(ctx context.Context, outputPath string) (int, error) {
	e.logger.Info("Exporting reconciliation workbook", zap.String("output_path", outputPath))

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return 0, fmt.Errorf("failed to rename sheet: %w", err)
	}

	headers := []string{
		"Report ID", "Store", "Zone", "Type", "Status",
		"Incidents", "Created", "Submitted", "Resolved",
	}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return 0, fmt.Errorf("failed to build header cell: %w", err)
		}
		e.setCell(f, cell, h)
	}

	statuses := []report.Status{report.StatusCompleted, report.StatusArchived}
	row := 2
	offset := 0
	const pageSize = 200

	for {
		page, err := e.reports.ListByStatuses(ctx, statuses, pageSize, offset)
		if err != nil {
			return 0, fmt.Errorf("failed to list reports: %w", err)
		}
		for _, r := range page {
			e.writeRow(f, row, r)
			row++
		}
		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}

	if err := f.SaveAs(outputPath); err != nil {
		return 0, fmt.Errorf("failed to save workbook: %w", err)
	}

	count := row - 2
	e.logger.Info("Reconciliation export completed",
		zap.String("output_path", outputPath),
		zap.Int("reports", count))
	return count, nil
}

func (e *Exporter) writeRow(f *excelize.File, row int, r *report.Report) {
	values := []interface{}{
		r.ID,
		r.StoreID,
		r.Zone,
		string(r.Type),
		string(r.Status),
		summarizeIncidents(r.IncidentDetails),
		r.CreatedAt.Format("2006-01-02 15:04"),
		formatTime(r.SubmittedAt),
		formatTime(r.ResolvedAt),
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			e.logger.Warn("Failed to build cell name", zap.Int("row", row), zap.Error(err))
			continue
		}
		e.setCell(f, cell, v)
	}
}

// setCell sets a cell value on the report sheet
func (e *Exporter) setCell(f *excelize.File, cell string, value interface{}) {
	if err := f.SetCellValue(sheetName, cell, value); err != nil {
		e.logger.Warn("Failed to set cell value",
			zap.String("cell", cell),
			zap.Error(err))
	}
}

// summarizeIncidents renders incident line items as "qty x product (reason)"
// joined with semicolons
func summarizeIncidents(items []report.IncidentItem) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		part := fmt.Sprintf("%d x %s", item.Quantity, item.Product)
		if item.Reason != "" {
			part += fmt.Sprintf(" (%s)", item.Reason)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
