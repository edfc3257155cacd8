package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trial-registry/models"
)

// TrialService kapselt Persistenz und Abfragen für ClinicalTrial-Datensätze.
type TrialService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewTrialService erstellt eine neue Instanz des TrialService.
func NewTrialService(db *gorm.DB, logger *zap.Logger) *TrialService {
	return &TrialService{DB: db, Logger: logger}
}

// Add derives the schedule fields and stores the trial. The ID is generated
// here if the caller left it empty; it is never taken from client input.
func (s *TrialService) Add(ctx context.Context, trial *models.ClinicalTrial) error {
	if trial.ID == "" {
		trial.ID = uuid.NewString()
	}
	trial.DeriveSchedule()

	if err := s.DB.WithContext(ctx).Create(trial).Error; err != nil {
		s.Logger.Error("Failed to store clinical trial", zap.String("trial_id", trial.TrialID), zap.Error(err))
		return err
	}
	return nil
}

// GetByID liefert ein Trial mit frisch abgeleiteten Feldern oder
// models.ErrTrialNotFound, wenn die ID unbekannt ist.
func (s *TrialService) GetByID(ctx context.Context, id string) (*models.ClinicalTrial, error) {
	var trial models.ClinicalTrial
	if err := s.DB.WithContext(ctx).First(&trial, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrTrialNotFound
		}
		return nil, err
	}
	trial.DeriveSchedule()
	return &trial, nil
}

// GetFiltered returns all trials matching every provided filter. Absent or
// whitespace-only filters are ignored; status and trialId match exactly, title
// matches as a literal substring. The result is derivation-refreshed, never an
// error when empty.
func (s *TrialService) GetFiltered(ctx context.Context, status, title, trialID string) ([]models.ClinicalTrial, error) {
	query := s.DB.WithContext(ctx).Model(&models.ClinicalTrial{})

	if strings.TrimSpace(status) != "" {
		query = query.Where("status = ?", status)
	}
	if strings.TrimSpace(title) != "" {
		query = query.Where(`title LIKE ? ESCAPE '\'`, "%"+escapeLike(title)+"%")
	}
	if strings.TrimSpace(trialID) != "" {
		query = query.Where("trial_id = ?", trialID)
	}

	trials := []models.ClinicalTrial{}
	if err := query.Find(&trials).Error; err != nil {
		return nil, err
	}
	for i := range trials {
		trials[i].DeriveSchedule()
	}
	return trials, nil
}

// GetAll liefert alle gespeicherten Trials, Reihenfolge unbestimmt.
func (s *TrialService) GetAll(ctx context.Context) ([]models.ClinicalTrial, error) {
	trials := []models.ClinicalTrial{}
	if err := s.DB.WithContext(ctx).Find(&trials).Error; err != nil {
		return nil, err
	}
	for i := range trials {
		trials[i].DeriveSchedule()
	}
	return trials, nil
}

// ReconcileSchedules re-derives every stored trial and persists rows whose
// endDate/duration drifted, e.g. after an out-of-band edit of end_date. Reads
// recompute on the fly anyway, so this only writes back what they would have
// served. Returns the number of repaired rows.
func (s *TrialService) ReconcileSchedules(ctx context.Context) (int, error) {
	var trials []models.ClinicalTrial
	if err := s.DB.WithContext(ctx).Find(&trials).Error; err != nil {
		return 0, err
	}

	repaired := 0
	for i := range trials {
		before := trials[i]
		trials[i].DeriveSchedule()
		if trials[i].Duration == before.Duration && equalEndDates(&before, &trials[i]) {
			continue
		}
		updates := map[string]any{
			"end_date": trials[i].EndDate,
			"duration": trials[i].Duration,
		}
		if err := s.DB.WithContext(ctx).Model(&models.ClinicalTrial{}).
			Where("id = ?", trials[i].ID).
			Updates(updates).Error; err != nil {
			s.Logger.Error("Failed to reconcile trial schedule", zap.String("id", trials[i].ID), zap.Error(err))
			return repaired, err
		}
		repaired++
	}
	return repaired, nil
}

// likeEscaper neutralisiert LIKE-Metazeichen, damit der Titel-Filter wörtlich matcht.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func equalEndDates(a, b *models.ClinicalTrial) bool {
	if a.EndDate == nil || b.EndDate == nil {
		return a.EndDate == nil && b.EndDate == nil
	}
	return a.EndDate.Equal(*b.EndDate)
}
