package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ProgressStatus is one student's submission progress for one instance
type ProgressStatus string

const (
	StatusNotStarted        ProgressStatus = "not_started"
	StatusInProgress        ProgressStatus = "in_progress"
	StatusPendingReview     ProgressStatus = "pending_review"
	StatusRequiresIteration ProgressStatus = "requires_iteration"
	StatusGraded            ProgressStatus = "graded"
)

// String returns the string representation
func (s ProgressStatus) String() string {
	return string(s)
}

// Locked reports whether student-facing edits must be refused.
func (s ProgressStatus) Locked() bool {
	return s == StatusPendingReview || s == StatusGraded
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s ProgressStatus) CanTransitionTo(next ProgressStatus) bool {
	switch s {
	case StatusNotStarted:
		return next == StatusInProgress || next == StatusPendingReview
	case StatusInProgress:
		return next == StatusInProgress || next == StatusPendingReview
	case StatusRequiresIteration:
		return next == StatusRequiresIteration || next == StatusInProgress || next == StatusPendingReview
	case StatusPendingReview:
		return next == StatusPendingReview || next == StatusGraded || next == StatusRequiresIteration
	case StatusGraded:
		return next == StatusGraded
	}
	return false
}

// LegacyLabel is the free-text status written alongside the strict enum.
func (s ProgressStatus) LegacyLabel() string {
	switch s {
	case StatusInProgress:
		return "en_progreso"
	case StatusPendingReview:
		return "enviado"
	case StatusRequiresIteration:
		return "requiere_iteracion"
	case StatusGraded:
		return "calificado"
	default:
		return "no_iniciado"
	}
}

var strictStatuses = map[string]ProgressStatus{
	"not_started":          StatusNotStarted,
	"in_progress":          StatusInProgress,
	"pending_review":       StatusPendingReview,
	"requires_iteration":   StatusRequiresIteration,
	"graded":               StatusGraded,
	"submitted_for_review": StatusPendingReview,
	"approved":             StatusGraded,
}

var legacyStatuses = map[string]ProgressStatus{
	"no_iniciado":        StatusNotStarted,
	"pendiente":          StatusNotStarted,
	"iniciado":           StatusInProgress,
	"en_progreso":        StatusInProgress,
	"en_curso":           StatusInProgress,
	"borrador":           StatusInProgress,
	"enviado":            StatusPendingReview,
	"entregado":          StatusPendingReview,
	"en_revision":        StatusPendingReview,
	"pendiente_revision": StatusPendingReview,
	"requiere_iteracion": StatusRequiresIteration,
	"devuelto":           StatusRequiresIteration,
	"calificado":         StatusGraded,
	"aprobado":           StatusGraded,
	"completado":         StatusGraded,
}

var legacyFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n",
	" ", "_", "-", "_",
)

// NormalizeProgressStatus maps the persisted status fields to a canonical
// ProgressStatus. The strict enum field wins whenever it maps; otherwise the
// legacy free-text field is consulted; otherwise the status is not_started.
func NormalizeProgressStatus(strict, legacy string) ProgressStatus {
	if s, ok := strictStatuses[strings.ToLower(strings.TrimSpace(strict))]; ok {
		return s
	}
	key := legacyFolder.Replace(strings.ToLower(strings.TrimSpace(legacy)))
	if s, ok := legacyStatuses[key]; ok {
		return s
	}
	if s, ok := strictStatuses[key]; ok {
		return s
	}
	return StatusNotStarted
}

// Feedback is the normalized judge output stored on a progress record.
type Feedback struct {
	Summary         string         `json:"summary"`
	Strengths       []string       `json:"strengths"`
	Improvements    []string       `json:"improvements"`
	RubricAlignment int            `json:"rubric_alignment"`
	Raw             map[string]any `json:"raw"`

	// Instructor annotations, set by review.
	InstructorComment string `json:"instructor_comment,omitempty"`
}

// Signals are the shadow-monitor results folded into a progress record.
type Signals struct {
	MetCriteria      map[string]int `json:"met_criteria,omitempty"` // criterion id -> quality 3..5
	LastQualityScore int            `json:"last_quality_score,omitempty"`
	LastQualityValid bool           `json:"last_quality_valid,omitempty"`
	InsightCount     int            `json:"insight_count,omitempty"`
	Insights         []string       `json:"insights,omitempty"`
	TurnCount        int            `json:"turn_count,omitempty"`
}

// MetCriteriaIDs returns the ids of criteria already met.
func (s Signals) MetCriteriaIDs() []string {
	ids := make([]string, 0, len(s.MetCriteria))
	for id := range s.MetCriteria {
		ids = append(ids, id)
	}
	return ids
}

// ExerciseProgress is one (student, instance, cohort) submission record
type ExerciseProgress struct {
	ID               RecordID
	Key              ProgressKey
	Status           ProgressStatus
	Completion       int // percent 0..100
	SavedWork        json.RawMessage
	TimeSpentMinutes int
	Attempts         int
	AIScore          *int
	InstructorScore  *int
	FinalScore       *int
	Feedback         *Feedback
	Signals          Signals
	StartedAt        *time.Time
	SubmittedAt      *time.Time
	GradedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewExerciseProgress creates a not-started record for key.
func NewExerciseProgress(key ProgressKey, now time.Time) *ExerciseProgress {
	return &ExerciseProgress{
		ID:        NewRecordID(TableProgress),
		Key:       key,
		Status:    StatusNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsLocked reports whether student edits must be refused.
func (p *ExerciseProgress) IsLocked() bool {
	return p.Status.Locked()
}

// HasSavedWork reports whether a non-empty work payload was saved.
func (p *ExerciseProgress) HasSavedWork() bool {
	return !IsEmptyPayload(p.SavedWork)
}

// IsEmptyPayload reports whether raw is absent, null, or an empty JSON value.
func IsEmptyPayload(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}

// ClampScore bounds a score to [0,100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}
