package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hvaldezm/delivery-incidents/internal/application/service"
	"github.com/hvaldezm/delivery-incidents/internal/domain/flow"
	"github.com/hvaldezm/delivery-incidents/internal/domain/lifecycle"
	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
	"github.com/hvaldezm/delivery-incidents/internal/reconcile"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	reportService *service.ReportService
	exporter      *reconcile.Exporter
	logger        Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(reportService *service.ReportService, exporter *reconcile.Exporter, logger Logger) *Handlers {
	return &Handlers{
		reportService: reportService,
		exporter:      exporter,
		logger:        logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ReportResponse represents a report in API responses
type ReportResponse struct {
	ID              string                `json:"id"`
	StoreID         string                `json:"store_id"`
	Zone            string                `json:"zone,omitempty"`
	Type            string                `json:"type"`
	Status          string                `json:"status"`
	Evidence        map[string]string     `json:"evidence"`
	IncidentDetails []report.IncidentItem `json:"incident_details,omitempty"`
	CurrentStep     string                `json:"current_step,omitempty"`
	TicketConfirmed bool                  `json:"ticket_confirmed"`
	CreatedAt       string                `json:"created_at"`
	SubmittedAt     *string               `json:"submitted_at,omitempty"`
	ResolvedAt      *string               `json:"resolved_at,omitempty"`
	TimeoutAt       *string               `json:"timeout_at,omitempty"`
	UpdatedAt       string                `json:"updated_at"`
}

// CreateReportRequest represents the body for creating a report
type CreateReportRequest struct {
	StoreID string `json:"store_id" binding:"required"`
	Zone    string `json:"zone"`
	Type    string `json:"type" binding:"required"`
}

// ListReportsRequest represents query parameters for listing reports
type ListReportsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// StepRequest carries a wizard step in a request body
type StepRequest struct {
	Step string `json:"step" binding:"required"`
}

// NavigateResponse carries the resolved wizard step
type NavigateResponse struct {
	Step       string `json:"step"`
	Redirected bool   `json:"redirected,omitempty"`
}

// IncidentsRequest replaces the incident lines on a report
type IncidentsRequest struct {
	Items []IncidentItemRequest `json:"items"`
}

// IncidentItemRequest is one incident line in a request body
type IncidentItemRequest struct {
	Product  string `json:"product" binding:"required"`
	Quantity int    `json:"quantity" binding:"required"`
	Reason   string `json:"reason"`
	PhotoRef string `json:"photo_ref"`
}

// TicketRequest selects which ticket evidence key an operation targets
type TicketRequest struct {
	Key string `json:"key" binding:"required"`
}

// ExportRequest represents the body for a reconciliation export
type ExportRequest struct {
	OutputPath string `json:"output_path" binding:"required"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// CreateReport handles POST /api/reports
func (h *Handlers) CreateReport(c *gin.Context) {
	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid create request", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	r, err := h.reportService.Create(c.Request.Context(), service.CreateReportInput{
		StoreID: req.StoreID,
		Zone:    req.Zone,
		Type:    report.Type(req.Type),
	})
	if err != nil {
		h.fail(c, "failed to create report", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    toReportResponse(r),
	})
}

// ListReports handles GET /api/reports
func (h *Handlers) ListReports(c *gin.Context) {
	var req ListReportsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	reports, err := h.reportService.List(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, "failed to list reports", err)
		return
	}

	responses := make([]ReportResponse, 0, len(reports))
	for _, r := range reports {
		responses = append(responses, toReportResponse(r))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    responses,
	})
}

// GetReport handles GET /api/reports/:id
func (h *Handlers) GetReport(c *gin.Context) {
	r, err := h.reportService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to get report", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toReportResponse(r),
	})
}

// DeleteDraft handles DELETE /api/reports/:id
func (h *Handlers) DeleteDraft(c *gin.Context) {
	if err := h.reportService.DeleteDraft(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "failed to delete draft", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// SubmitReport handles POST /api/reports/:id/submit
func (h *Handlers) SubmitReport(c *gin.Context) {
	r, err := h.reportService.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to submit report", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toReportResponse(r),
	})
}

// ConfirmResolution handles POST /api/reports/:id/resolve
func (h *Handlers) ConfirmResolution(c *gin.Context) {
	r, err := h.reportService.ConfirmResolution(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to confirm resolution", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toReportResponse(r),
	})
}

// CompleteReport handles POST /api/reports/:id/complete
func (h *Handlers) CompleteReport(c *gin.Context) {
	r, err := h.reportService.Complete(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		h.fail(c, "failed to complete report", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toReportResponse(r),
	})
}

// ArchiveReport handles POST /api/reports/:id/archive
func (h *Handlers) ArchiveReport(c *gin.Context) {
	r, err := h.reportService.Archive(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		h.fail(c, "failed to archive report", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toReportResponse(r),
	})
}

// PermittedEvents handles GET /api/reports/:id/events
func (h *Handlers) PermittedEvents(c *gin.Context) {
	events, err := h.reportService.PermittedEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to list permitted events", err)
		return
	}

	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.String())
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    names,
	})
}

// GetHistory handles GET /api/reports/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	records, err := h.reportService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to get history", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    records,
	})
}

// TimedOut handles GET /api/reports/:id/timed-out. It reports whether the
// support window has expired without transitioning anything, so the wizard
// can render the timeout screen before the sweep lands.
func (h *Handlers) TimedOut(c *gin.Context) {
	expired, err := h.reportService.IsTimedOut(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to check timeout", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"timed_out": expired},
	})
}

// NextStep handles GET /api/reports/:id/next-step
func (h *Handlers) NextStep(c *gin.Context) {
	step, err := h.reportService.NextStep(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to resolve next step", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    NavigateResponse{Step: step.String()},
	})
}

// Navigate handles POST /api/reports/:id/navigate
func (h *Handlers) Navigate(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	step, redirected, err := h.reportService.Navigate(c.Request.Context(), c.Param("id"), flow.Step(req.Step))
	if err != nil {
		h.fail(c, "failed to navigate", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    NavigateResponse{Step: step.String(), Redirected: redirected},
	})
}

// UploadEvidence handles POST /api/reports/:id/evidence/:key
func (h *Handlers) UploadEvidence(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "missing image file",
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		h.fail(c, "failed to open upload", err)
		return
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		h.fail(c, "failed to read upload", err)
		return
	}

	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	ref, step, err := h.reportService.UploadEvidence(c.Request.Context(), c.Param("id"), c.Param("key"), content, mimeType)
	if err != nil {
		h.fail(c, "failed to store evidence", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"reference": ref,
			"next_step": step.String(),
		},
	})
}

// SetIncidents handles PUT /api/reports/:id/incidents
func (h *Handlers) SetIncidents(c *gin.Context) {
	var req IncidentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	items := make([]report.IncidentItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, report.IncidentItem{
			Product:  item.Product,
			Quantity: item.Quantity,
			Reason:   item.Reason,
			PhotoRef: item.PhotoRef,
		})
	}

	step, err := h.reportService.AttachIncidents(c.Request.Context(), c.Param("id"), items)
	if err != nil {
		h.fail(c, "failed to set incidents", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    NavigateResponse{Step: step.String()},
	})
}

// ExtractTicket handles POST /api/reports/:id/ticket/extract
func (h *Handlers) ExtractTicket(c *gin.Context) {
	var req TicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	extraction, err := h.reportService.ExtractTicket(c.Request.Context(), c.Param("id"), req.Key)
	if err != nil {
		h.fail(c, "ticket extraction failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    extraction,
	})
}

// ConfirmTicket handles POST /api/reports/:id/ticket/confirm
func (h *Handlers) ConfirmTicket(c *gin.Context) {
	var req TicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	returnTicket := req.Key == report.EvidenceReturnTicket
	if !returnTicket && req.Key != report.EvidenceTicket {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "key is not a ticket evidence key",
		})
		return
	}

	if err := h.reportService.ConfirmTicketExtraction(c.Request.Context(), c.Param("id"), returnTicket); err != nil {
		h.fail(c, "failed to confirm ticket", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// EnterChat handles POST /api/reports/:id/chat/enter
func (h *Handlers) EnterChat(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	if err := h.reportService.EnterChat(c.Request.Context(), c.Param("id"), flow.Step(req.Step)); err != nil {
		h.fail(c, "failed to enter chat", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// LeaveChat handles POST /api/reports/:id/chat/leave
func (h *Handlers) LeaveChat(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	if err := h.reportService.LeaveChat(c.Request.Context(), c.Param("id"), flow.Step(req.Step)); err != nil {
		h.fail(c, "failed to leave chat", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// AcknowledgeReturn handles POST /api/reports/:id/return-ack
func (h *Handlers) AcknowledgeReturn(c *gin.Context) {
	if err := h.reportService.AcknowledgeReturn(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "failed to acknowledge return", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// ExportReconciliation handles POST /api/reconciliation/export
func (h *Handlers) ExportReconciliation(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	count, err := h.exporter.Export(c.Request.Context(), req.OutputPath)
	if err != nil {
		h.fail(c, "export failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"output_path": req.OutputPath,
			"reports":     count,
		},
	})
}

// fail maps service errors onto HTTP statuses
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, "error", err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrReportNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, service.ErrNotDraft):
		status = http.StatusConflict
	case errors.Is(err, flow.ErrUnknownReportType),
		errors.Is(err, service.ErrInvalidEvidenceKey):
		status = http.StatusBadRequest
	}

	c.JSON(status, Response{
		Success: false,
		Error:   msg + ": " + err.Error(),
	})
}

// actorFrom identifies the back-office actor from the request headers
func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return "admin"
}

// toReportResponse converts a domain report to an API response
func toReportResponse(r *report.Report) ReportResponse {
	resp := ReportResponse{
		ID:              r.ID,
		StoreID:         r.StoreID,
		Zone:            r.Zone,
		Type:            string(r.Type),
		Status:          string(r.Status),
		Evidence:        r.Evidence,
		IncidentDetails: r.IncidentDetails,
		CurrentStep:     r.CurrentStepHint,
		TicketConfirmed: r.TicketExtractionConfirmed,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       r.UpdatedAt.Format(time.RFC3339),
	}

	resp.SubmittedAt = formatTimePtr(r.SubmittedAt)
	resp.ResolvedAt = formatTimePtr(r.ResolvedAt)
	resp.TimeoutAt = formatTimePtr(r.TimeoutAt)

	return resp
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
