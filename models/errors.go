package models

import "errors"

// ErrTrialNotFound signalisiert, dass kein Trial mit der angefragten ID existiert.
var ErrTrialNotFound = errors.New("clinical trial not found")

// ValidationKind unterscheidet die Ablehnungsgründe beim Upload.
type ValidationKind int

const (
	// MalformedInput: the document is not parseable JSON (or carries a date
	// string no supported layout accepts).
	MalformedInput ValidationKind = iota
	// SchemaViolation: required fields are missing or wrongly typed.
	SchemaViolation
	// InvalidStartDate: start date lies in the past.
	InvalidStartDate
	// InvalidParticipantCount: participants is zero or negative.
	InvalidParticipantCount
)

// ValidationError trägt den Ablehnungsgrund plus eine Client-taugliche Meldung.
type ValidationError struct {
	Kind    ValidationKind
	Message string
	// Fields lists the individual field errors for SchemaViolation.
	Fields []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError erstellt einen ValidationError ohne Feld-Details.
func NewValidationError(kind ValidationKind, msg string) *ValidationError {
	return &ValidationError{Kind: kind, Message: msg}
}
