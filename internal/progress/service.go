// Package progress drives a student's submission record from start
// through AI scoring to instructor grading.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/judge"
	"github.com/felixgeelhaar/aula/internal/metrics"
)

// Service handles submission workflow operations
type Service struct {
	store       Store
	catalog     Catalog
	grader      Grader
	events      *domain.EventDispatcher
	maxCriteria int
	now         func() time.Time
}

// NewService creates a new progress service. events may be nil.
func NewService(store Store, catalog Catalog, grader Grader, events *domain.EventDispatcher, maxCriteria int) *Service {
	if maxCriteria <= 0 {
		maxCriteria = judge.DefaultConfig().MaxCriteria
	}
	return &Service{
		store:       store,
		catalog:     catalog,
		grader:      grader,
		events:      events,
		maxCriteria: maxCriteria,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start returns the record for key, creating it when absent. The instance
// must be published. Repeated starts return the existing record untouched.
func (s *Service) Start(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.store.GetByKey(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	inst, err := s.catalog.GetInstance(ctx, key.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", key.InstanceID, err)
	}
	if !inst.IsPublished() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotPublished, key.InstanceID)
	}

	now := s.now()
	p := domain.NewExerciseProgress(key, now)
	p.Status = domain.StatusInProgress
	p.StartedAt = domain.TimePtr(now)

	stored, err := s.store.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create progress: %w", err)
	}
	if stored.ID == p.ID {
		metrics.RecordTransition(string(domain.StatusInProgress))
		slog.Info("exercise started", "submission_id", p.ID, "student_id", key.StudentID, "instance_id", key.InstanceID)
	}
	return stored, nil
}

// Save stores partial work. Locked records are refused; an absent record
// is started first.
func (s *Service) Save(ctx context.Context, key domain.ProgressKey, req SaveRequest) (*domain.ExerciseProgress, error) {
	p, err := s.Start(ctx, key)
	if err != nil {
		return nil, err
	}
	if p.IsLocked() {
		return nil, domain.ErrSubmissionLocked
	}

	if !domain.IsEmptyPayload(req.Work) {
		p.SavedWork = req.Work
	}
	if req.Percent != nil {
		p.Completion = domain.ClampScore(*req.Percent)
	}
	if req.Minutes != nil && *req.Minutes >= 0 {
		p.TimeSpentMinutes = *req.Minutes
	}
	if p.Status == domain.StatusNotStarted {
		p.Status = domain.StatusInProgress
		p.StartedAt = domain.TimePtr(s.now())
		metrics.RecordTransition(string(domain.StatusInProgress))
	}
	p.UpdatedAt = s.now()

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	return p, nil
}

// Submit grades the final work and moves the record to pending_review.
// Judge failures are absorbed into a neutral fallback verdict.
func (s *Service) Submit(ctx context.Context, key domain.ProgressKey, req SubmitRequest) (*domain.ExerciseProgress, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	p, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if p.IsLocked() {
		return nil, domain.ErrSubmissionLocked
	}

	work := req.Work
	if domain.IsEmptyPayload(work) {
		work = p.SavedWork
	}
	if domain.IsEmptyPayload(work) {
		return nil, domain.ErrMissingSubmission
	}

	sub, err := s.submission(ctx, key.InstanceID)
	if err != nil {
		return nil, err
	}
	sub.Payload = work
	verdict := s.grader.Grade(ctx, sub)

	// The judge call is slow; refuse if another submit locked the record meanwhile.
	if current, err := s.store.GetByID(ctx, p.ID); err == nil && current.IsLocked() {
		return nil, domain.ErrSubmissionLocked
	}

	now := s.now()
	fb := verdict.Feedback
	p.SavedWork = work
	p.AIScore = domain.IntPtr(verdict.Score)
	p.FinalScore = domain.IntPtr(verdict.Score)
	p.Feedback = &fb
	p.Status = domain.StatusPendingReview
	p.Completion = 100
	p.Attempts++
	p.SubmittedAt = domain.TimePtr(now)
	p.GradedAt = domain.TimePtr(now)
	if req.Minutes != nil && *req.Minutes >= 0 {
		p.TimeSpentMinutes = *req.Minutes
	}
	p.UpdatedAt = now

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save submission: %w", err)
	}

	metrics.RecordTransition(string(domain.StatusPendingReview))
	if s.events != nil {
		s.events.Publish(domain.NewSubmissionReceivedEvent(p, verdict.Score, verdict.Fallback))
	}
	slog.Info("submission received",
		"submission_id", p.ID,
		"student_id", key.StudentID,
		"instance_id", key.InstanceID,
		"ai_score", verdict.Score,
		"fallback", verdict.Fallback,
		"attempt", p.Attempts)

	return p, nil
}

// submission gathers what the judge needs about the exercise. Missing
// content only costs context; a missing instance is an error.
func (s *Service) submission(ctx context.Context, instanceID domain.RecordID) (judge.Submission, error) {
	var sub judge.Submission

	inst, err := s.catalog.GetInstance(ctx, instanceID)
	if err != nil {
		return sub, fmt.Errorf("load instance %s: %w", instanceID, err)
	}

	if tmpl, err := s.catalog.GetTemplate(ctx, inst.TemplateID); err == nil {
		sub.ExerciseName = tmpl.Name
	} else {
		slog.Debug("grading without template", "instance_id", instanceID, "error", err)
	}

	if inst.HasContent() {
		if c, err := s.catalog.GetContent(ctx, inst.CurrentContentID); err == nil {
			sub.Criteria = judge.ExtractCriteria(c.Payload, s.maxCriteria)
			sub.Narrative = judge.ExtractNarrative(c.Payload)
		} else {
			slog.Debug("grading without content", "instance_id", instanceID, "error", err)
		}
	}
	return sub, nil
}

// Complete finalizes the record without AI scoring. A locked record is
// returned unchanged; an absent record is started first.
func (s *Service) Complete(ctx context.Context, key domain.ProgressKey, minutes *int) (*domain.ExerciseProgress, error) {
	p, err := s.Start(ctx, key)
	if err != nil {
		return nil, err
	}
	if p.IsLocked() {
		return p, nil
	}

	now := s.now()
	p.Completion = 100
	p.Status = domain.StatusPendingReview
	p.Attempts++
	p.SubmittedAt = domain.TimePtr(now)
	if minutes != nil && *minutes >= 0 {
		p.TimeSpentMinutes = *minutes
	}
	p.UpdatedAt = now

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	metrics.RecordTransition(string(domain.StatusPendingReview))
	return p, nil
}

// ReviewAndGrade records an instructor score. With Publish the score
// becomes final, the record is graded and GradePublished is emitted;
// without it the score is stored as a draft grade only.
func (s *Service) ReviewAndGrade(ctx context.Context, submissionID domain.RecordID, req ReviewRequest) (*domain.ExerciseProgress, error) {
	if req.Score < 0 || req.Score > 100 {
		return nil, fmt.Errorf("%w: score %d outside [0,100]", domain.ErrInvalidInput, req.Score)
	}

	p, err := s.store.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load submission %s: %w", submissionID, err)
	}
	if p.Status != domain.StatusPendingReview && p.Status != domain.StatusGraded {
		return nil, fmt.Errorf("%w: cannot grade a %s submission", domain.ErrIllegalTransition, p.Status)
	}

	now := s.now()
	p.InstructorScore = domain.IntPtr(req.Score)
	if req.Comment != "" {
		p.Feedback = withComment(p.Feedback, req.Comment)
	}
	if req.Publish {
		p.FinalScore = domain.IntPtr(req.Score)
		p.Status = domain.StatusGraded
		p.GradedAt = domain.TimePtr(now)
	}
	p.UpdatedAt = now

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save grade: %w", err)
	}

	if req.Publish {
		metrics.RecordTransition(string(domain.StatusGraded))
		metrics.RecordGradePublished()
		if s.events != nil {
			s.events.Publish(domain.NewGradePublishedEvent(p, req.Score))
		}
	}
	return p, nil
}

// RequestIteration sends a pending submission back to the student.
func (s *Service) RequestIteration(ctx context.Context, submissionID domain.RecordID, comment string) (*domain.ExerciseProgress, error) {
	p, err := s.store.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load submission %s: %w", submissionID, err)
	}
	if p.Status != domain.StatusPendingReview {
		return nil, fmt.Errorf("%w: cannot return a %s submission", domain.ErrIllegalTransition, p.Status)
	}

	p.Status = domain.StatusRequiresIteration
	if comment != "" {
		p.Feedback = withComment(p.Feedback, comment)
	}
	p.UpdatedAt = s.now()

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	metrics.RecordTransition(string(domain.StatusRequiresIteration))
	slog.Info("iteration requested", "submission_id", p.ID, "student_id", p.Key.StudentID)
	return p, nil
}

// RecordSignals merges shadow evaluation results into the record. Locked
// records are left untouched and reported with merged=false.
func (s *Service) RecordSignals(ctx context.Context, key domain.ProgressKey, upd SignalUpdate) (*domain.ExerciseProgress, bool, error) {
	p, err := s.Start(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if p.IsLocked() {
		return p, false, nil
	}

	sig := &p.Signals
	for id, q := range upd.MetCriteria {
		if sig.MetCriteria == nil {
			sig.MetCriteria = make(map[string]int)
		}
		if q > sig.MetCriteria[id] {
			sig.MetCriteria[id] = q
		}
	}
	if upd.QualityScore != nil {
		sig.LastQualityScore = *upd.QualityScore
	}
	if upd.QualityValid != nil {
		sig.LastQualityValid = *upd.QualityValid
	}
	sig.Insights = append(sig.Insights, upd.Insights...)
	if upd.InsightCount != nil && *upd.InsightCount >= sig.InsightCount {
		sig.InsightCount = *upd.InsightCount
	}
	if upd.Turn {
		sig.TurnCount++
	}
	if p.Status == domain.StatusNotStarted {
		p.Status = domain.StatusInProgress
	}
	p.UpdatedAt = s.now()

	if err := s.store.Save(ctx, p); err != nil {
		return nil, false, fmt.Errorf("save signals: %w", err)
	}
	return p, true, nil
}

// Get returns the record for key.
func (s *Service) Get(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.store.GetByKey(ctx, key)
}

// GetByID returns the record with the given submission id.
func (s *Service) GetByID(ctx context.Context, id domain.RecordID) (*domain.ExerciseProgress, error) {
	return s.store.GetByID(ctx, id)
}

// ListPending returns a cohort's submissions awaiting review.
func (s *Service) ListPending(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error) {
	if cohortID.IsZero() {
		return nil, fmt.Errorf("%w: cohort id required", domain.ErrInvalidInput)
	}
	return s.store.ListPending(ctx, cohortID)
}

func withComment(fb *domain.Feedback, comment string) *domain.Feedback {
	if fb == nil {
		fb = &domain.Feedback{Strengths: []string{}, Improvements: []string{}, Raw: map[string]any{}}
	}
	fb.InstructorComment = comment
	return fb
}
