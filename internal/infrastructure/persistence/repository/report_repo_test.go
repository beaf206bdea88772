package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/port"
	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
	"github.com/hvaldezm/delivery-incidents/pkg/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "reports.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrationsDir := filepath.Join("..", "..", "..", "..", "migrations")
	if err := database.NewMigrator(db, zap.NewNop()).Run(migrationsDir); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func draftReport(id string) *report.Report {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &report.Report{
		ID:        id,
		StoreID:   "store-1",
		Zone:      "norte",
		Type:      report.TypeEntrega,
		Status:    report.StatusDraft,
		Evidence:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestReportRepository_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewReportRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	created := draftReport("rep-1")
	created.IncidentDetails = []report.IncidentItem{{Product: "leche", Quantity: 2, Reason: "caducado"}}
	if err := repo.Create(ctx, created); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	got, err := repo.GetByID(ctx, "rep-1")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil for an existing report")
	}
	if got.StoreID != "store-1" || got.Type != report.TypeEntrega || got.Status != report.StatusDraft {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.IncidentDetails) != 1 || got.IncidentDetails[0].Product != "leche" {
		t.Errorf("incident details = %+v, want one leche line", got.IncidentDetails)
	}

	missing, err := repo.GetByID(ctx, "rep-nope")
	if err != nil {
		t.Fatalf("GetByID() for missing report failed: %v", err)
	}
	if missing != nil {
		t.Error("GetByID() for missing report should return nil")
	}
}

// Evidence keys are validated upstream, but the JSON path must still treat
// any key as a single top-level member: a key containing path metacharacters
// must never nest the evidence object and leave the row unreadable.
func TestReportRepository_SetEvidenceKeepsMapFlat(t *testing.T) {
	db := newTestDB(t)
	repo := NewReportRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	if err := repo.Create(ctx, draftReport("rep-1")); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	keys := []string{report.EvidenceArrivalExhibit, "a.b", "c[0]"}
	for _, key := range keys {
		if err := repo.SetEvidence(ctx, "rep-1", key, "ref-"+key); err != nil {
			t.Fatalf("SetEvidence(%q) failed: %v", key, err)
		}

		got, err := repo.GetByID(ctx, "rep-1")
		if err != nil {
			t.Fatalf("GetByID() after SetEvidence(%q) failed: %v", key, err)
		}
		if got.Evidence[key] != "ref-"+key {
			t.Errorf("evidence[%q] = %q, want %q", key, got.Evidence[key], "ref-"+key)
		}
	}

	got, err := repo.GetByID(ctx, "rep-1")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if len(got.Evidence) != len(keys) {
		t.Errorf("evidence map has %d entries, want %d: %v", len(got.Evidence), len(keys), got.Evidence)
	}
}

func TestReportRepository_UpdateFrom(t *testing.T) {
	db := newTestDB(t)
	repo := NewReportRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	r := draftReport("rep-1")
	if err := repo.Create(ctx, r); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	transitionTime := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)
	deadline := transitionTime.Add(20 * time.Minute)
	r.Status = report.StatusSubmitted
	r.SubmittedAt = &transitionTime
	r.TimeoutAt = &deadline
	r.UpdatedAt = transitionTime

	if err := repo.UpdateFrom(ctx, r, report.StatusDraft); err != nil {
		t.Fatalf("UpdateFrom() failed: %v", err)
	}

	got, err := repo.GetByID(ctx, "rep-1")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Status != report.StatusSubmitted {
		t.Errorf("status = %s, want submitted", got.Status)
	}
	if got.TimeoutAt == nil || !got.TimeoutAt.Equal(deadline) {
		t.Errorf("TimeoutAt = %v, want %v", got.TimeoutAt, deadline)
	}
	// The stored timestamp is the transition's clock, not the wall clock at
	// write time.
	if !got.UpdatedAt.Equal(transitionTime) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, transitionTime)
	}
}

func TestReportRepository_UpdateFromStale(t *testing.T) {
	db := newTestDB(t)
	repo := NewReportRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	r := draftReport("rep-1")
	if err := repo.Create(ctx, r); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	r.Status = report.StatusResolvedByDriver
	err := repo.UpdateFrom(ctx, r, report.StatusSubmitted)
	if !errors.Is(err, port.ErrStaleReport) {
		t.Errorf("error = %v, want ErrStaleReport", err)
	}

	got, err := repo.GetByID(ctx, "rep-1")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Status != report.StatusDraft {
		t.Errorf("losing update changed status to %s", got.Status)
	}
}
