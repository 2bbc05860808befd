package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/aula/internal/domain"
)

// ProgressStore persists student progress records in SQLite. Every write
// sets both the strict status column and the legacy estado label.
type ProgressStore struct {
	db *DB
}

// NewProgressStore creates a new SQLite-backed progress store.
func NewProgressStore(db *DB) *ProgressStore {
	return &ProgressStore{db: db}
}

const progressColumns = `id, student_id, instance_id, cohort_id, status, estado,
	completion, saved_work, time_spent_minutes, attempts,
	ai_score, instructor_score, final_score, feedback, signals,
	started_at, submitted_at, graded_at, created_at, updated_at`

// Create inserts p unless a record for its key exists, then returns the
// stored record.
func (s *ProgressStore) Create(ctx context.Context, p *domain.ExerciseProgress) (*domain.ExerciseProgress, error) {
	args, err := progressArgs(p)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exercise_progress (`+progressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(student_id, instance_id, cohort_id) DO NOTHING`, args...)
	if err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: status %q", domain.ErrStatusRejected, p.Status)
		}
		return nil, fmt.Errorf("insert progress: %w", err)
	}
	return s.GetByKey(ctx, p.Key)
}

// Save upserts the whole record by ID.
func (s *ProgressStore) Save(ctx context.Context, p *domain.ExerciseProgress) error {
	args, err := progressArgs(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exercise_progress (`+progressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, estado=excluded.estado,
			completion=excluded.completion, saved_work=excluded.saved_work,
			time_spent_minutes=excluded.time_spent_minutes, attempts=excluded.attempts,
			ai_score=excluded.ai_score, instructor_score=excluded.instructor_score,
			final_score=excluded.final_score, feedback=excluded.feedback, signals=excluded.signals,
			started_at=excluded.started_at, submitted_at=excluded.submitted_at,
			graded_at=excluded.graded_at, updated_at=excluded.updated_at`, args...)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: status %q", domain.ErrStatusRejected, p.Status)
		}
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// GetByKey retrieves the record for a (student, instance, cohort) key.
func (s *ProgressStore) GetByKey(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+progressColumns+` FROM exercise_progress
		WHERE student_id = ? AND instance_id = ? AND cohort_id = ?`,
		key.StudentID, key.InstanceID, key.CohortID)
	p, err := scanProgress(row)
	if err != nil {
		return nil, notFound(err, domain.ErrProgressNotFound, domain.RecordID(key.String()))
	}
	return p, nil
}

// GetByID retrieves a record by submission ID.
func (s *ProgressStore) GetByID(ctx context.Context, id domain.RecordID) (*domain.ExerciseProgress, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+progressColumns+` FROM exercise_progress WHERE id = ?`, id)
	p, err := scanProgress(row)
	if err != nil {
		return nil, notFound(err, domain.ErrProgressNotFound, id)
	}
	return p, nil
}

// ListPending returns a cohort's records awaiting review, oldest
// submission first. Legacy rows with only an estado label are included.
func (s *ProgressStore) ListPending(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+progressColumns+` FROM exercise_progress
		WHERE cohort_id = ? AND (status = 'pending_review' OR status IS NULL)
		ORDER BY submitted_at, created_at`, cohortID)
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
	var feedback sql.NullString
	if p.Feedback != nil {
		b, err := json.Marshal(p.Feedback)
		if err != nil {
			return nil, fmt.Errorf("marshal feedback: %w", err)
		}
		feedback = sql.NullString{String: string(b), Valid: true}
	}
	signals, err := json.Marshal(p.Signals)
	if err != nil {
		return nil, fmt.Errorf("marshal signals: %w", err)
	}
	var work sql.NullString
	if len(p.SavedWork) > 0 {
		work = sql.NullString{String: string(p.SavedWork), Valid: true}
	}

	return []any{
		p.ID, p.Key.StudentID, p.Key.InstanceID, p.Key.CohortID,
		string(p.Status), p.Status.LegacyLabel(),
		p.Completion, work, p.TimeSpentMinutes, p.Attempts,
		nullInt(p.AIScore), nullInt(p.InstructorScore), nullInt(p.FinalScore),
		feedback, string(signals),
		nullTime(p.StartedAt), nullTime(p.SubmittedAt), nullTime(p.GradedAt),
		p.CreatedAt, p.UpdatedAt,
	}, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (*domain.ExerciseProgress, error) {
	var p domain.ExerciseProgress
	var status, estado, work, feedback sql.NullString
	var signals string
	var aiScore, instructorScore, finalScore sql.NullInt64
	var startedAt, submittedAt, gradedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.Key.StudentID, &p.Key.InstanceID, &p.Key.CohortID, &status, &estado,
		&p.Completion, &work, &p.TimeSpentMinutes, &p.Attempts,
		&aiScore, &instructorScore, &finalScore, &feedback, &signals,
		&startedAt, &submittedAt, &gradedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.NormalizeProgressStatus(status.String, estado.String)
	if work.Valid {
		p.SavedWork = json.RawMessage(work.String)
	}
	if feedback.Valid {
		p.Feedback = &domain.Feedback{}
		if err := json.Unmarshal([]byte(feedback.String), p.Feedback); err != nil {
			return nil, fmt.Errorf("unmarshal feedback: %w", err)
		}
	}
	if signals != "" {
		if err := json.Unmarshal([]byte(signals), &p.Signals); err != nil {
			return nil, fmt.Errorf("unmarshal signals: %w", err)
		}
	}
	p.AIScore = intPtr(aiScore)
	p.InstructorScore = intPtr(instructorScore)
	p.FinalScore = intPtr(finalScore)
	p.StartedAt = timePtr(startedAt)
	p.SubmittedAt = timePtr(submittedAt)
	p.GradedAt = timePtr(gradedAt)
	return &p, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return domain.IntPtr(int(v.Int64))
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return domain.TimePtr(v.Time)
}

// nullTime converts a *time.Time to sql.NullTime for nullable columns.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
