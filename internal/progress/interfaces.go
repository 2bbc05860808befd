package progress

import (
	"context"
	"encoding/json"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/judge"
)

// Store persists progress records. Implementations normalize the stored
// status fields through domain.NormalizeProgressStatus on every read.
type Store interface {
	// GetByKey returns domain.ErrProgressNotFound when no record exists.
	GetByKey(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error)
	GetByID(ctx context.Context, id domain.RecordID) (*domain.ExerciseProgress, error)

	// Create inserts p unless a record for p.Key exists, and returns the
	// stored record either way.
	Create(ctx context.Context, p *domain.ExerciseProgress) (*domain.ExerciseProgress, error)

	// Save upserts the whole record by ID.
	Save(ctx context.Context, p *domain.ExerciseProgress) error

	// ListPending returns a cohort's pending_review records, oldest
	// submission first.
	ListPending(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error)
}

// Catalog is the read side of the exercise catalog needed for grading.
type Catalog interface {
	GetInstance(ctx context.Context, id domain.RecordID) (*domain.ExerciseInstance, error)
	GetTemplate(ctx context.Context, id domain.RecordID) (*domain.ExerciseTemplate, error)
	GetContent(ctx context.Context, id domain.RecordID) (*domain.ExerciseContent, error)
}

// Grader scores a submission and always returns a verdict.
type Grader interface {
	Grade(ctx context.Context, sub judge.Submission) *judge.Verdict
}

// ProgressService is the submission workflow used by the daemon and MCP tools.
type ProgressService interface {
	Start(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error)
	Save(ctx context.Context, key domain.ProgressKey, req SaveRequest) (*domain.ExerciseProgress, error)
	Submit(ctx context.Context, key domain.ProgressKey, req SubmitRequest) (*domain.ExerciseProgress, error)
	Complete(ctx context.Context, key domain.ProgressKey, minutes *int) (*domain.ExerciseProgress, error)
	ReviewAndGrade(ctx context.Context, submissionID domain.RecordID, req ReviewRequest) (*domain.ExerciseProgress, error)
	RequestIteration(ctx context.Context, submissionID domain.RecordID, comment string) (*domain.ExerciseProgress, error)
	RecordSignals(ctx context.Context, key domain.ProgressKey, upd SignalUpdate) (*domain.ExerciseProgress, bool, error)
	Get(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error)
	GetByID(ctx context.Context, id domain.RecordID) (*domain.ExerciseProgress, error)
	ListPending(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error)
}

// Ensure Service implements ProgressService
var _ ProgressService = (*Service)(nil)

// SaveRequest carries a partial save. Nil fields are left unchanged.
type SaveRequest struct {
	Work    json.RawMessage
	Percent *int
	Minutes *int
}

// SubmitRequest carries a final submission. An empty Work falls back to
// the previously saved work.
type SubmitRequest struct {
	Work    json.RawMessage
	Minutes *int
}

// ReviewRequest is an instructor's grading decision.
type ReviewRequest struct {
	Score   int
	Comment string
	Publish bool
}

// SignalUpdate carries shadow evaluation results for one turn. Nil and
// empty fields leave the stored signals unchanged.
type SignalUpdate struct {
	MetCriteria  map[string]int
	QualityScore *int
	QualityValid *bool
	Insights     []string
	InsightCount *int
	Turn         bool // count one tutoring turn
}
