package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/felixgeelhaar/aula/internal/domain"
)

// ProgressStore persists student progress records in PostgreSQL. Every
// write sets both the strict status column and the legacy estado label.
type ProgressStore struct {
	db *DB
}

// NewProgressStore creates a new PostgreSQL progress store
func NewProgressStore(db *DB) *ProgressStore {
	return &ProgressStore{db: db}
}

const progressColumns = `id, student_id, instance_id, cohort_id, status, estado,
	completion, saved_work, time_spent_minutes, attempts,
	ai_score, instructor_score, final_score, feedback, signals,
	started_at, submitted_at, graded_at, created_at, updated_at`

const progressValues = `$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
	$11, $12, $13, $14, $15, $16, $17, $18, $19, $20`

// Create inserts p unless a record for its key exists, then returns the
// stored record.
func (s *ProgressStore) Create(ctx context.Context, p *domain.ExerciseProgress) (*domain.ExerciseProgress, error) {
	args, err := progressArgs(p)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO exercise_progress (`+progressColumns+`)
		VALUES (`+progressValues+`)
		ON CONFLICT (student_id, instance_id, cohort_id) DO NOTHING`, args...)
	if err != nil {
		if isStatusRejected(err) {
			return nil, fmt.Errorf("%w: status %q", domain.ErrStatusRejected, p.Status)
		}
		return nil, fmt.Errorf("insert progress: %w", err)
	}
	return s.GetByKey(ctx, p.Key)
}

// Save upserts the whole record by ID
func (s *ProgressStore) Save(ctx context.Context, p *domain.ExerciseProgress) error {
	args, err := progressArgs(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO exercise_progress (`+progressColumns+`)
		VALUES (`+progressValues+`)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, estado = EXCLUDED.estado,
			completion = EXCLUDED.completion, saved_work = EXCLUDED.saved_work,
			time_spent_minutes = EXCLUDED.time_spent_minutes, attempts = EXCLUDED.attempts,
			ai_score = EXCLUDED.ai_score, instructor_score = EXCLUDED.instructor_score,
			final_score = EXCLUDED.final_score, feedback = EXCLUDED.feedback, signals = EXCLUDED.signals,
			started_at = EXCLUDED.started_at, submitted_at = EXCLUDED.submitted_at,
			graded_at = EXCLUDED.graded_at, updated_at = EXCLUDED.updated_at`, args...)
	if err != nil {
		if isStatusRejected(err) {
			return fmt.Errorf("%w: status %q", domain.ErrStatusRejected, p.Status)
		}
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// GetByKey retrieves the record for a (student, instance, cohort) key
func (s *ProgressStore) GetByKey(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
	row := s.db.QueryRow(ctx, `SELECT `+progressColumns+` FROM exercise_progress
		WHERE student_id = $1 AND instance_id = $2 AND cohort_id = $3`,
		key.StudentID, key.InstanceID, key.CohortID)
	p, err := scanProgress(row)
	if err != nil {
		return nil, notFound(err, domain.ErrProgressNotFound, domain.RecordID(key.String()))
	}
	return p, nil
}

// GetByID retrieves a record by submission ID
func (s *ProgressStore) GetByID(ctx context.Context, id domain.RecordID) (*domain.ExerciseProgress, error) {
	row := s.db.QueryRow(ctx, `SELECT `+progressColumns+` FROM exercise_progress WHERE id = $1`, id)
	p, err := scanProgress(row)
	if err != nil {
		return nil, notFound(err, domain.ErrProgressNotFound, id)
	}
	return p, nil
}

// ListPending returns a cohort's records awaiting review, oldest
// submission first. Legacy rows with only an estado label are included.
func (s *ProgressStore) ListPending(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error) {
	rows, err := s.db.Query(ctx, `SELECT `+progressColumns+` FROM exercise_progress
		WHERE cohort_id = $1 AND (status = 'pending_review' OR status IS NULL)
		ORDER BY submitted_at NULLS FIRST, created_at`, cohortID)
	if err != nil {
		return nil, fmt.Errorf("list pending progress: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExerciseProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		if p.Status == domain.StatusPendingReview {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

func progressArgs(p *domain.ExerciseProgress) ([]any, error) {
	var feedback []byte
	if p.Feedback != nil {
		b, err := json.Marshal(p.Feedback)
		if err != nil {
			return nil, fmt.Errorf("marshal feedback: %w", err)
		}
		feedback = b
	}
	signals, err := json.Marshal(p.Signals)
	if err != nil {
		return nil, fmt.Errorf("marshal signals: %w", err)
	}
	var work []byte
	if len(p.SavedWork) > 0 {
		work = p.SavedWork
	}

	return []any{
		p.ID, p.Key.StudentID, p.Key.InstanceID, p.Key.CohortID,
		string(p.Status), p.Status.LegacyLabel(),
		p.Completion, work, p.TimeSpentMinutes, p.Attempts,
		p.AIScore, p.InstructorScore, p.FinalScore,
		feedback, signals,
		p.StartedAt, p.SubmittedAt, p.GradedAt,
		p.CreatedAt, p.UpdatedAt,
	}, nil
}

func scanProgress(row pgx.Row) (*domain.ExerciseProgress, error) {
	p := &domain.ExerciseProgress{}
	var status, estado *string
	var work, feedback, signals []byte
	var startedAt, submittedAt, gradedAt *time.Time

	err := row.Scan(
		&p.ID, &p.Key.StudentID, &p.Key.InstanceID, &p.Key.CohortID, &status, &estado,
		&p.Completion, &work, &p.TimeSpentMinutes, &p.Attempts,
		&p.AIScore, &p.InstructorScore, &p.FinalScore, &feedback, &signals,
		&startedAt, &submittedAt, &gradedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.NormalizeProgressStatus(deref(status), deref(estado))
	if len(work) > 0 {
		p.SavedWork = json.RawMessage(work)
	}
	if len(feedback) > 0 {
		p.Feedback = &domain.Feedback{}
		if err := json.Unmarshal(feedback, p.Feedback); err != nil {
			return nil, fmt.Errorf("unmarshal feedback: %w", err)
		}
	}
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &p.Signals); err != nil {
			return nil, fmt.Errorf("unmarshal signals: %w", err)
		}
	}
	p.StartedAt, p.SubmittedAt, p.GradedAt = startedAt, submittedAt, gradedAt
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
