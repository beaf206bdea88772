package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/port"
	"github.com/hvaldezm/delivery-incidents/internal/application/service"
	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
	"github.com/hvaldezm/delivery-incidents/internal/reconcile"
)

// memRepo is an in-memory ReportRepository backing full-stack handler tests
type memRepo struct {
	mu      sync.Mutex
	reports map[string]*report.Report
}

func newMemRepo() *memRepo {
	return &memRepo{reports: make(map[string]*report.Report)}
}

func cloneReport(r *report.Report) *report.Report {
	c := *r
	c.Evidence = make(map[string]string, len(r.Evidence))
	for k, v := range r.Evidence {
		c.Evidence[k] = v
	}
	if r.IncidentDetails != nil {
		c.IncidentDetails = append([]report.IncidentItem(nil), r.IncidentDetails...)
	}
	c.SubmittedAt = cloneTime(r.SubmittedAt)
	c.ResolvedAt = cloneTime(r.ResolvedAt)
	c.TimeoutAt = cloneTime(r.TimeoutAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (m *memRepo) Create(ctx context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = cloneReport(r)
	return nil
}

func (m *memRepo) GetByID(ctx context.Context, id string) (*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, nil
	}
	return cloneReport(r), nil
}

func (m *memRepo) List(ctx context.Context, limit, offset int) ([]*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*report.Report
	for _, r := range m.reports {
		out = append(out, cloneReport(r))
	}
	return out, nil
}

func (m *memRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*report.Report
	for _, r := range m.reports {
		if r.Status == report.StatusSubmitted && r.TimeoutAt != nil && r.TimeoutAt.Before(now) {
			out = append(out, cloneReport(r))
		}
	}
	return out, nil
}

func (m *memRepo) ListByStatuses(ctx context.Context, statuses []report.Status, limit, offset int) ([]*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*report.Report
	for _, r := range m.reports {
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, cloneReport(r))
				break
			}
		}
	}
	return out, nil
}

func (m *memRepo) UpdateFrom(ctx context.Context, r *report.Report, from report.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.reports[r.ID]
	if !ok || stored.Status != from {
		return port.ErrStaleReport
	}
	stored.Status = r.Status
	stored.ShouldReturnToStep = r.ShouldReturnToStep
	stored.LastStepBeforeChat = r.LastStepBeforeChat
	stored.CurrentStepHint = r.CurrentStepHint
	stored.SubmittedAt = cloneTime(r.SubmittedAt)
	stored.ResolvedAt = cloneTime(r.ResolvedAt)
	stored.TimeoutAt = cloneTime(r.TimeoutAt)
	stored.UpdatedAt = r.UpdatedAt
	return nil
}

func (m *memRepo) SetEvidence(ctx context.Context, id, key, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		r.Evidence[key] = ref
	}
	return nil
}

func (m *memRepo) SetIncidents(ctx context.Context, id string, items []report.IncidentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		r.IncidentDetails = append([]report.IncidentItem(nil), items...)
	}
	return nil
}

func (m *memRepo) SetChatDetour(ctx context.Context, id, lastStepBeforeChat string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		r.LastStepBeforeChat = lastStepBeforeChat
	}
	return nil
}

func (m *memRepo) SetReturnToStep(ctx context.Context, id, step string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		r.ShouldReturnToStep = step
	}
	return nil
}

func (m *memRepo) SetTicketConfirmed(ctx context.Context, id string, returnTicket, confirmed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		if returnTicket {
			r.ReturnTicketExtractionConfirmed = confirmed
		} else {
			r.TicketExtractionConfirmed = confirmed
		}
	}
	return nil
}

func (m *memRepo) SetStepHint(ctx context.Context, id, step string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		r.CurrentStepHint = step
	}
	return nil
}

func (m *memRepo) DeleteDraft(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok || r.Status != report.StatusDraft {
		return port.ErrStaleReport
	}
	delete(m.reports, id)
	return nil
}

type memTransitions struct {
	mu      sync.Mutex
	records []*report.TransitionRecord
}

func (m *memTransitions) Create(ctx context.Context, rec *report.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memTransitions) GetByReportID(ctx context.Context, reportID string) ([]*report.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*report.TransitionRecord
	for _, rec := range m.records {
		if rec.ReportID == reportID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memEvidence struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memEvidence) Save(ctx context.Context, reportID, key string, content []byte, mimeType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	ref := fmt.Sprintf("%s/%s", reportID, key)
	m.files[ref] = content
	return ref, nil
}

func (m *memEvidence) Read(ctx context.Context, reference string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[reference]
	if !ok {
		return nil, "", fmt.Errorf("evidence %s not found", reference)
	}
	return content, "image/jpeg", nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, imageData []byte, mimeType string) (*port.TicketExtraction, error) {
	return &port.TicketExtraction{StoreCode: "T-100", Total: 120.5, Confidence: 0.9}, nil
}

type silentNotifier struct{}

func (silentNotifier) NotifySubmission(ctx context.Context, r *report.Report) error { return nil }
func (silentNotifier) NotifyTimeout(ctx context.Context, r *report.Report) error    { return nil }

type silentLogger struct{}

func (silentLogger) Info(msg string, keysAndValues ...interface{})  {}
func (silentLogger) Error(msg string, keysAndValues ...interface{}) {}

func newTestServer() *Server {
	repo := newMemRepo()
	svc := service.NewReportService(
		repo,
		&memTransitions{},
		passthroughTx{},
		&memEvidence{},
		stubExtractor{},
		silentNotifier{},
		zap.NewNop(),
	)
	exporter := reconcile.NewExporter(repo, zap.NewNop())
	return NewServer(DefaultServerConfig(), svc, exporter, silentLogger{})
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func createReport(t *testing.T, srv *Server, reportType string) ReportResponse {
	t.Helper()

	w, resp := doJSON(t, srv, http.MethodPost, "/api/reports", CreateReportRequest{
		StoreID: "store-1",
		Zone:    "norte",
		Type:    reportType,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, resp.Success)

	var created ReportResponse
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	return created
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer()

	w, resp := doJSON(t, srv, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestCreateReport(t *testing.T) {
	srv := newTestServer()

	created := createReport(t, srv, "entrega")

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "draft", created.Status)
	assert.Equal(t, "4a", created.CurrentStep)

	w, resp := doJSON(t, srv, http.MethodGet, "/api/reports/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestCreateReport_UnknownType(t *testing.T) {
	srv := newTestServer()

	w, resp := doJSON(t, srv, http.MethodPost, "/api/reports", CreateReportRequest{
		StoreID: "store-1",
		Type:    "siniestro",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
}

func TestCreateReport_MissingFields(t *testing.T) {
	srv := newTestServer()

	w, _ := doJSON(t, srv, http.MethodPost, "/api/reports", map[string]string{"zone": "norte"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReport_NotFound(t *testing.T) {
	srv := newTestServer()

	w, resp := doJSON(t, srv, http.MethodGet, "/api/reports/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
}

func TestLifecycleEndpoints(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "tienda_cerrada")
	base := "/api/reports/" + created.ID

	w, resp := doJSON(t, srv, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var submitted ReportResponse
	require.NoError(t, json.Unmarshal(resp.Data, &submitted))
	assert.Equal(t, "submitted", submitted.Status)
	require.NotNil(t, submitted.TimeoutAt)
	require.NotNil(t, submitted.SubmittedAt)

	w, resp = doJSON(t, srv, http.MethodPost, base+"/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resolved ReportResponse
	require.NoError(t, json.Unmarshal(resp.Data, &resolved))
	assert.Equal(t, "resolved_by_driver", resolved.Status)

	w, resp = doJSON(t, srv, http.MethodPost, base+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var completed ReportResponse
	require.NoError(t, json.Unmarshal(resp.Data, &completed))
	assert.Equal(t, "completed", completed.Status)

	w, resp = doJSON(t, srv, http.MethodPost, base+"/archive", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var archived ReportResponse
	require.NoError(t, json.Unmarshal(resp.Data, &archived))
	assert.Equal(t, "archived", archived.Status)

	w, resp = doJSON(t, srv, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []report.TransitionRecord
	require.NoError(t, json.Unmarshal(resp.Data, &history))
	assert.Len(t, history, 4)
}

func TestSubmit_UnconfirmedTicketConflicts(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "entrega")

	w, resp := doJSON(t, srv, http.MethodPost, "/api/reports/"+created.ID+"/submit", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, resp.Success)
}

func TestSubmit_AfterTicketConfirmation(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "entrega")
	base := "/api/reports/" + created.ID

	w, _ := doJSON(t, srv, http.MethodPost, base+"/ticket/confirm", TicketRequest{Key: "ticket"})
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := doJSON(t, srv, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var submitted ReportResponse
	require.NoError(t, json.Unmarshal(resp.Data, &submitted))
	assert.Equal(t, "submitted", submitted.Status)
}

func TestConfirmTicket_RejectsNonTicketKey(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "entrega")

	w, _ := doJSON(t, srv, http.MethodPost, "/api/reports/"+created.ID+"/ticket/confirm", TicketRequest{Key: "facade"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadEvidence(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "entrega")

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("image", "photo.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/reports/"+created.ID+"/evidence/arrival_exhibit", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var data struct {
		Reference string `json:"reference"`
		NextStep  string `json:"next_step"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.NotEmpty(t, data.Reference)
	assert.Equal(t, "incident_check", data.NextStep)
}

func TestUploadEvidence_RejectsUnknownKey(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "entrega")

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("image", "photo.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/reports/"+created.ID+"/evidence/a.b", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	getW, resp := doJSON(t, srv, http.MethodGet, "/api/reports/"+created.ID, nil)
	require.Equal(t, http.StatusOK, getW.Code)
	var after ReportResponse
	require.NoError(t, json.Unmarshal(resp.Data, &after))
	assert.Empty(t, after.Evidence)
}

func TestTimedOut(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "tienda_cerrada")
	base := "/api/reports/" + created.ID

	readTimedOut := func() bool {
		w, resp := doJSON(t, srv, http.MethodGet, base+"/timed-out", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var data struct {
			TimedOut bool `json:"timed_out"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		return data.TimedOut
	}

	assert.False(t, readTimedOut(), "draft has no window yet")

	w, _ := doJSON(t, srv, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, readTimedOut(), "fresh submission is inside the window")

	w, _ = doJSON(t, srv, http.MethodGet, "/api/reports/missing/timed-out", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNavigate_RedirectsOutOfSetStep(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "bascula")

	w, resp := doJSON(t, srv, http.MethodPost, "/api/reports/"+created.ID+"/navigate", StepRequest{Step: "waste_check"})

	require.Equal(t, http.StatusOK, w.Code)
	var nav NavigateResponse
	require.NoError(t, json.Unmarshal(resp.Data, &nav))
	assert.Equal(t, "4c", nav.Step)
	assert.True(t, nav.Redirected)
}

func TestSetIncidents(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "entrega")

	w, resp := doJSON(t, srv, http.MethodPut, "/api/reports/"+created.ID+"/incidents", IncidentsRequest{
		Items: []IncidentItemRequest{{Product: "leche", Quantity: 2, Reason: "caducado"}},
	})

	require.Equal(t, http.StatusOK, w.Code)
	var nav NavigateResponse
	require.NoError(t, json.Unmarshal(resp.Data, &nav))
	assert.Equal(t, "4a", nav.Step)
}

func TestPermittedEvents(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "tienda_cerrada")

	w, resp := doJSON(t, srv, http.MethodGet, "/api/reports/"+created.ID+"/events", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var events []string
	require.NoError(t, json.Unmarshal(resp.Data, &events))
	assert.Equal(t, []string{"SUBMIT"}, events)
}

func TestDeleteDraft(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "entrega")

	w, _ := doJSON(t, srv, http.MethodDelete, "/api/reports/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, srv, http.MethodGet, "/api/reports/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteDraft_RejectsSubmitted(t *testing.T) {
	srv := newTestServer()
	created := createReport(t, srv, "tienda_cerrada")
	base := "/api/reports/" + created.ID

	w, _ := doJSON(t, srv, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := doJSON(t, srv, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, resp.Success)
}
