package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidID indicates an invalid identifier format
var ErrInvalidID = fmt.Errorf("%w: invalid identifier format", ErrInvalidInput)

// Record tables used as RecordID prefixes.
const (
	TableProgram  = "programa"
	TablePhase    = "fase"
	TableUnit     = "unidad"
	TableTemplate = "plantilla_ejercicio"
	TableInstance = "exercise_instance"
	TableContent  = "exercise_content"
	TableProgress = "exercise_progress"
	TableStudent  = "estudiante"
	TableCohort   = "cohorte"
)

// -----------------------------------------------------------------------------
// RecordID - "table:key" identity shared with the document store
// -----------------------------------------------------------------------------

// RecordID identifies a record as "table:key", e.g. "exercise_instance:abc".
type RecordID string

// NewRecordID creates a random uuid-backed identifier in the given table.
func NewRecordID(table string) RecordID {
	return RecordID(table + ":" + uuid.NewString())
}

// ParseRecordID validates and returns a RecordID.
func ParseRecordID(s string) (RecordID, error) {
	s = strings.TrimSpace(s)
	table, key, ok := strings.Cut(s, ":")
	if !ok || table == "" || key == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return RecordID(s), nil
}

// Table returns the table prefix ("" when the id has no prefix).
func (id RecordID) Table() string {
	table, _, ok := strings.Cut(string(id), ":")
	if !ok {
		return ""
	}
	return table
}

// Key returns the part after the table prefix.
func (id RecordID) Key() string {
	_, key, ok := strings.Cut(string(id), ":")
	if !ok {
		return string(id)
	}
	return key
}

// String returns the string representation
func (id RecordID) String() string {
	return string(id)
}

// IsZero returns true if the id is empty
func (id RecordID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

// -----------------------------------------------------------------------------
// ProgressKey - natural key of a progress record
// -----------------------------------------------------------------------------

// ProgressKey is the natural composite key of an ExerciseProgress record.
type ProgressKey struct {
	StudentID  RecordID `json:"student_id"`
	InstanceID RecordID `json:"instance_id"`
	CohortID   RecordID `json:"cohort_id"`
}

// Validate checks that all key parts are present.
func (k ProgressKey) Validate() error {
	switch {
	case k.StudentID.IsZero():
		return fmt.Errorf("%w: student id is required", ErrInvalidInput)
	case k.InstanceID.IsZero():
		return fmt.Errorf("%w: instance id is required", ErrInvalidInput)
	case k.CohortID.IsZero():
		return fmt.Errorf("%w: cohort id is required", ErrInvalidInput)
	}
	return nil
}

// String returns the string representation
func (k ProgressKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.StudentID, k.InstanceID, k.CohortID)
}
