package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"trial-registry/models"
)

// dateLayouts sind die akzeptierten Formate für startDate/endDate.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

// ParseTrialDocument validiert ein hochgeladenes JSON-Dokument und baut daraus
// ein noch nicht abgeleitetes ClinicalTrial.
//
// The checks run in a fixed order: JSON syntax, required-field schema, date
// parsing, then the two business rules (future start date, positive
// participant count). The first violated stage wins and is reported as a
// *models.ValidationError; the entity is only constructed from fields that
// passed, so a client-supplied duration is ignored.
func ParseTrialDocument(data []byte) (*models.ClinicalTrial, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, models.NewValidationError(models.MalformedInput, "Invalid JSON format")
	}

	if errs := checkSchema(doc); len(errs) > 0 {
		return nil, &models.ValidationError{
			Kind:    models.SchemaViolation,
			Message: fmt.Sprintf("Invalid JSON format: %s", strings.Join(errs, ", ")),
			Fields:  errs,
		}
	}

	trial, err := buildTrial(doc)
	if err != nil {
		return nil, err
	}

	// Business rule: start date strictly in the future, checked against the
	// wall clock at validation time.
	if trial.StartDate.Before(time.Now()) {
		return nil, models.NewValidationError(models.InvalidStartDate, "Start date must be in the future")
	}
	if trial.Participants <= 0 {
		return nil, models.NewValidationError(models.InvalidParticipantCount, "Number of participants must be greater than 0")
	}

	return trial, nil
}

// checkSchema prüft Pflichtfelder und Typen Feld für Feld.
func checkSchema(doc map[string]any) []string {
	var errs []string

	for _, field := range []string{"trialId", "title", "startDate", "status"} {
		v, ok := doc[field]
		if !ok {
			errs = append(errs, fmt.Sprintf("required property '%s' is missing", field))
			continue
		}
		if _, ok := v.(string); !ok {
			errs = append(errs, fmt.Sprintf("property '%s' must be a string", field))
		}
	}

	v, ok := doc["participants"]
	if !ok {
		errs = append(errs, "required property 'participants' is missing")
	} else if !isInteger(v) {
		errs = append(errs, "property 'participants' must be an integer")
	}

	return errs
}

// isInteger akzeptiert nur ganzzahlige JSON-Zahlen (10, nicht 10.5).
func isInteger(v any) bool {
	num, ok := v.(json.Number)
	if !ok {
		return false
	}
	_, err := num.Int64()
	return err == nil
}

// buildTrial übersetzt das geprüfte Dokument in die Entity.
func buildTrial(doc map[string]any) (*models.ClinicalTrial, error) {
	start, err := parseDate(doc["startDate"].(string))
	if err != nil {
		return nil, models.NewValidationError(models.MalformedInput, "Invalid JSON format")
	}

	trial := &models.ClinicalTrial{
		TrialID:   doc["trialId"].(string),
		Title:     doc["title"].(string),
		StartDate: start,
		Status:    doc["status"].(string),
	}

	n, _ := doc["participants"].(json.Number).Int64()
	trial.Participants = int(n)

	// endDate is optional; a present but unparseable value is rejected like
	// any other malformed input.
	if raw, ok := doc["endDate"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return nil, models.NewValidationError(models.MalformedInput, "Invalid JSON format")
		}
		end, err := parseDate(s)
		if err != nil {
			return nil, models.NewValidationError(models.MalformedInput, "Invalid JSON format")
		}
		trial.EndDate = &end
	}

	return trial, nil
}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
