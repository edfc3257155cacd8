package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trial-registry/models"
)

// newTestService öffnet eine isolierte In-Memory-Datenbank pro Test.
func newTestService(t *testing.T) *TrialService {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.ClinicalTrial{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return NewTrialService(db, zap.NewNop())
}

func seedTestTrials(t *testing.T, svc *TrialService) {
	t.Helper()
	trials := []*models.ClinicalTrial{
		{
			TrialID:      "T1",
			Title:        "Test Trial 1",
			Status:       "Ongoing",
			StartDate:    time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC),
			Participants: 10,
		},
		{
			TrialID:      "T2",
			Title:        "Test Trial 2",
			Status:       "Completed",
			StartDate:    time.Date(2030, time.February, 1, 0, 0, 0, 0, time.UTC),
			Participants: 20,
		},
	}
	for _, trial := range trials {
		if err := svc.Add(context.Background(), trial); err != nil {
			t.Fatalf("Failed to seed trial %s: %v", trial.TrialID, err)
		}
	}
}

func TestAddGeneratesIDAndDerivesSchedule(t *testing.T) {
	svc := newTestService(t)
	trial := &models.ClinicalTrial{
		TrialID:      "TEST001",
		Title:        "Test Trial",
		Status:       "Ongoing",
		StartDate:    time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC),
		Participants: 10,
	}

	if err := svc.Add(context.Background(), trial); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if trial.ID == "" {
		t.Fatal("Expected an ID to be generated")
	}

	stored, err := svc.GetByID(context.Background(), trial.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.EndDate == nil {
		t.Fatal("Expected derived EndDate to be persisted")
	}
	want := time.Date(2030, time.February, 1, 0, 0, 0, 0, time.UTC)
	if !stored.EndDate.Equal(want) {
		t.Errorf("Expected EndDate %v, got %v", want, *stored.EndDate)
	}
	if stored.Duration != 31 {
		t.Errorf("Expected Duration 31, got %d", stored.Duration)
	}
}

func TestGetByIDUnknown(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetByID(context.Background(), "3f1d3c51-0000-0000-0000-000000000000")
	if !errors.Is(err, models.ErrTrialNotFound) {
		t.Fatalf("Expected ErrTrialNotFound, got %v", err)
	}
}

func TestGetFilteredNoFiltersReturnsAll(t *testing.T) {
	svc := newTestService(t)
	seedTestTrials(t, svc)

	trials, err := svc.GetFiltered(context.Background(), "", "", "")
	if err != nil {
		t.Fatalf("GetFiltered failed: %v", err)
	}
	if len(trials) != 2 {
		t.Fatalf("Expected 2 trials, got %d", len(trials))
	}
}

func TestGetFilteredByStatus(t *testing.T) {
	svc := newTestService(t)
	seedTestTrials(t, svc)

	trials, err := svc.GetFiltered(context.Background(), "Ongoing", "", "")
	if err != nil {
		t.Fatalf("GetFiltered failed: %v", err)
	}
	if len(trials) != 1 {
		t.Fatalf("Expected 1 trial, got %d", len(trials))
	}
	if trials[0].Status != "Ongoing" {
		t.Errorf("Expected status Ongoing, got %s", trials[0].Status)
	}
}

func TestGetFilteredCombinesAllFilters(t *testing.T) {
	svc := newTestService(t)
	seedTestTrials(t, svc)

	trials, err := svc.GetFiltered(context.Background(), "Ongoing", "Test Trial 1", "T1")
	if err != nil {
		t.Fatalf("GetFiltered failed: %v", err)
	}
	if len(trials) != 1 {
		t.Fatalf("Expected exactly 1 trial, got %d", len(trials))
	}
	got := trials[0]
	if got.TrialID != "T1" || got.Title != "Test Trial 1" || got.Status != "Ongoing" {
		t.Errorf("Unexpected trial returned: %+v", got)
	}
}

func TestGetFilteredTitleSubstring(t *testing.T) {
	svc := newTestService(t)
	seedTestTrials(t, svc)

	trials, err := svc.GetFiltered(context.Background(), "", "Trial 2", "")
	if err != nil {
		t.Fatalf("GetFiltered failed: %v", err)
	}
	if len(trials) != 1 || trials[0].TrialID != "T2" {
		t.Fatalf("Expected only T2 for substring 'Trial 2', got %d trials", len(trials))
	}
}

func TestGetFilteredIgnoresWhitespaceFilters(t *testing.T) {
	svc := newTestService(t)
	seedTestTrials(t, svc)

	// Whitespace-only filters count as absent, like empty ones.
	trials, err := svc.GetFiltered(context.Background(), " ", "  ", "\t")
	if err != nil {
		t.Fatalf("GetFiltered failed: %v", err)
	}
	if len(trials) != 2 {
		t.Fatalf("Expected whitespace filters to be ignored (2 trials), got %d", len(trials))
	}
}

func TestGetFilteredTitleMatchesLiterally(t *testing.T) {
	svc := newTestService(t)
	trials := []*models.ClinicalTrial{
		{
			TrialID:      "T1",
			Title:        "Enrollment 100% complete",
			Status:       "Completed",
			StartDate:    time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC),
			Participants: 10,
		},
		{
			TrialID:      "T2",
			Title:        "Enrollment 1000 planned",
			Status:       "Completed",
			StartDate:    time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC),
			Participants: 10,
		},
	}
	for _, trial := range trials {
		if err := svc.Add(context.Background(), trial); err != nil {
			t.Fatalf("Failed to seed trial %s: %v", trial.TrialID, err)
		}
	}

	// "%" and "_" in the filter are literal characters, not LIKE wildcards.
	got, err := svc.GetFiltered(context.Background(), "", "100%", "")
	if err != nil {
		t.Fatalf("GetFiltered failed: %v", err)
	}
	if len(got) != 1 || got[0].TrialID != "T1" {
		t.Fatalf("Expected only T1 for literal '100%%', got %d trials", len(got))
	}

	got, err = svc.GetFiltered(context.Background(), "", "100_", "")
	if err != nil {
		t.Fatalf("GetFiltered failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Expected no match for literal '100_', got %d trials", len(got))
	}
}

func TestGetFilteredNoMatchReturnsEmpty(t *testing.T) {
	svc := newTestService(t)
	seedTestTrials(t, svc)

	trials, err := svc.GetFiltered(context.Background(), "Suspended", "", "")
	if err != nil {
		t.Fatalf("Expected empty result, not an error: %v", err)
	}
	if len(trials) != 0 {
		t.Fatalf("Expected 0 trials, got %d", len(trials))
	}
}

func TestGetAllRefreshesDerivation(t *testing.T) {
	svc := newTestService(t)

	// Row written without going through Add, so no derived fields yet.
	raw := models.ClinicalTrial{
		ID:           "a2a44074-4f5a-4a50-b1a8-cc0ec4b1ba21",
		TrialID:      "RAW1",
		Title:        "Raw Trial",
		Status:       "Ongoing",
		StartDate:    time.Date(2030, time.March, 1, 0, 0, 0, 0, time.UTC),
		Participants: 3,
	}
	if err := svc.DB.Create(&raw).Error; err != nil {
		t.Fatalf("Failed to insert raw row: %v", err)
	}

	trials, err := svc.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(trials) != 1 {
		t.Fatalf("Expected 1 trial, got %d", len(trials))
	}
	if trials[0].EndDate == nil {
		t.Fatal("Expected EndDate to be derived on read")
	}
	if trials[0].Duration != 31 {
		t.Errorf("Expected Duration 31, got %d", trials[0].Duration)
	}
}

func TestReconcileSchedulesRepairsDrift(t *testing.T) {
	svc := newTestService(t)
	trial := &models.ClinicalTrial{
		TrialID:      "T1",
		Title:        "Test Trial 1",
		Status:       "Completed",
		StartDate:    time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC),
		Participants: 10,
	}
	if err := svc.Add(context.Background(), trial); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Out-of-band edit: end date changes, stored duration goes stale.
	newEnd := time.Date(2030, time.March, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.DB.Model(&models.ClinicalTrial{}).
		Where("id = ?", trial.ID).
		Update("end_date", newEnd).Error; err != nil {
		t.Fatalf("Failed to edit end_date: %v", err)
	}

	repaired, err := svc.ReconcileSchedules(context.Background())
	if err != nil {
		t.Fatalf("ReconcileSchedules failed: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("Expected 1 repaired row, got %d", repaired)
	}

	stored, err := svc.GetByID(context.Background(), trial.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Duration != 59 {
		t.Errorf("Expected Duration 59 after repair, got %d", stored.Duration)
	}

	// Second run finds nothing left to repair.
	repaired, err = svc.ReconcileSchedules(context.Background())
	if err != nil {
		t.Fatalf("Second ReconcileSchedules failed: %v", err)
	}
	if repaired != 0 {
		t.Errorf("Expected 0 repaired rows on second run, got %d", repaired)
	}
}
