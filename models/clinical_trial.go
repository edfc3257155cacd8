package models

import (
	"time"
)

// StatusOngoing is the only status value that triggers automatic end-date
// derivation; everything else is stored as-is.
const StatusOngoing = "Ongoing"

// ClinicalTrial repräsentiert einen hochgeladenen Studien-Datensatz.
type ClinicalTrial struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	TrialID      string     `json:"trialId" gorm:"column:trial_id;index;not null"`
	Title        string     `json:"title" gorm:"not null"`
	StartDate    time.Time  `json:"startDate" gorm:"not null"`
	EndDate      *time.Time `json:"endDate"`
	Status       string     `json:"status" gorm:"index"`
	Participants int        `json:"participants"`

	// Duration wird immer serverseitig berechnet, nie vom Client übernommen.
	Duration int `json:"duration"`
}

// TableName gibt explizit den Tabellennamen an.
func (ClinicalTrial) TableName() string {
	return "clinical_trials"
}

// DeriveSchedule fills in EndDate and Duration from the other fields.
//
// An ongoing trial without an end date gets one a calendar month after the
// start; an end date that is already present is never touched, regardless of
// status. Duration is the whole-day count between start and end, 0 without an
// end date. The method is idempotent, so read paths can apply it freely.
func (t *ClinicalTrial) DeriveSchedule() {
	if t.Status == StatusOngoing && t.EndDate == nil {
		end := addOneMonth(t.StartDate)
		t.EndDate = &end
	}

	if t.EndDate != nil {
		t.Duration = daysBetween(t.StartDate, *t.EndDate)
	} else {
		t.Duration = 0
	}
}

// addOneMonth advances d by one calendar month, clamping to the last day of
// the target month (2024-01-31 -> 2024-02-29) instead of normalizing past it.
func addOneMonth(d time.Time) time.Time {
	next := d.AddDate(0, 1, 0)
	if next.Day() != d.Day() {
		next = next.AddDate(0, 0, -next.Day())
	}
	return next
}

// daysBetween liefert die Anzahl ganzer Tage zwischen from und to.
// Negative Werte sind erlaubt, wenn to vor from liegt. Über Unix-Sekunden
// gerechnet, weil time.Duration bei Spannen über ~292 Jahren sättigt.
func daysBetween(from, to time.Time) int {
	return int((to.Unix() - from.Unix()) / 86400)
}
