package daemon

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/felixgeelhaar/aula/internal/config"
	"github.com/felixgeelhaar/aula/internal/content"
	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/progress"
	"github.com/felixgeelhaar/aula/internal/tutor"
)

var errNotImplemented = errors.New("mock: not implemented")

// mockContentService implements content.ContentService for testing
type mockContentService struct {
	generateFn  func(ctx context.Context, id domain.RecordID, force bool) (*content.Result, error)
	publishFn   func(ctx context.Context, id domain.RecordID) (*content.Result, error)
	unpublishFn func(ctx context.Context, id domain.RecordID) (*content.Result, error)
	editDraftFn func(ctx context.Context, id domain.RecordID, payload json.RawMessage) (*content.Result, error)
	getFn       func(ctx context.Context, id domain.RecordID) (*content.Result, error)
}

func (m *mockContentService) Generate(ctx context.Context, id domain.RecordID, force bool) (*content.Result, error) {
	if m.generateFn != nil {
		return m.generateFn(ctx, id, force)
	}
	return nil, errNotImplemented
}

func (m *mockContentService) Publish(ctx context.Context, id domain.RecordID) (*content.Result, error) {
	if m.publishFn != nil {
		return m.publishFn(ctx, id)
	}
	return nil, errNotImplemented
}

func (m *mockContentService) Unpublish(ctx context.Context, id domain.RecordID) (*content.Result, error) {
	if m.unpublishFn != nil {
		return m.unpublishFn(ctx, id)
	}
	return nil, errNotImplemented
}

func (m *mockContentService) EditDraft(ctx context.Context, id domain.RecordID, payload json.RawMessage) (*content.Result, error) {
	if m.editDraftFn != nil {
		return m.editDraftFn(ctx, id, payload)
	}
	return nil, errNotImplemented
}

func (m *mockContentService) Get(ctx context.Context, id domain.RecordID) (*content.Result, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, errNotImplemented
}

var _ content.ContentService = (*mockContentService)(nil)

// mockProgressService implements progress.ProgressService for testing
type mockProgressService struct {
	startFn       func(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error)
	saveFn        func(ctx context.Context, key domain.ProgressKey, req progress.SaveRequest) (*domain.ExerciseProgress, error)
	submitFn      func(ctx context.Context, key domain.ProgressKey, req progress.SubmitRequest) (*domain.ExerciseProgress, error)
	completeFn    func(ctx context.Context, key domain.ProgressKey, minutes *int) (*domain.ExerciseProgress, error)
	gradeFn       func(ctx context.Context, id domain.RecordID, req progress.ReviewRequest) (*domain.ExerciseProgress, error)
	iterateFn     func(ctx context.Context, id domain.RecordID, comment string) (*domain.ExerciseProgress, error)
	getFn         func(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error)
	getByIDFn     func(ctx context.Context, id domain.RecordID) (*domain.ExerciseProgress, error)
	listPendingFn func(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error)
}

func (m *mockProgressService) Start(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
	if m.startFn != nil {
		return m.startFn(ctx, key)
	}
	return nil, errNotImplemented
}

func (m *mockProgressService) Save(ctx context.Context, key domain.ProgressKey, req progress.SaveRequest) (*domain.ExerciseProgress, error) {
	if m.saveFn != nil {
		return m.saveFn(ctx, key, req)
	}
	return nil, errNotImplemented
}

func (m *mockProgressService) Submit(ctx context.Context, key domain.ProgressKey, req progress.SubmitRequest) (*domain.ExerciseProgress, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, key, req)
	}
	return nil, errNotImplemented
}

func (m *mockProgressService) Complete(ctx context.Context, key domain.ProgressKey, minutes *int) (*domain.ExerciseProgress, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, key, minutes)
	}
	return nil, errNotImplemented
}

func (m *mockProgressService) ReviewAndGrade(ctx context.Context, id domain.RecordID, req progress.ReviewRequest) (*domain.ExerciseProgress, error) {
	if m.gradeFn != nil {
		return m.gradeFn(ctx, id, req)
	}
	return nil, errNotImplemented
}

func (m *mockProgressService) RequestIteration(ctx context.Context, id domain.RecordID, comment string) (*domain.ExerciseProgress, error) {
	if m.iterateFn != nil {
		return m.iterateFn(ctx, id, comment)
	}
	return nil, errNotImplemented
}

func (m *mockProgressService) RecordSignals(ctx context.Context, key domain.ProgressKey, upd progress.SignalUpdate) (*domain.ExerciseProgress, bool, error) {
	return nil, false, errNotImplemented
}

func (m *mockProgressService) Get(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, errNotImplemented
}

func (m *mockProgressService) GetByID(ctx context.Context, id domain.RecordID) (*domain.ExerciseProgress, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, errNotImplemented
}

func (m *mockProgressService) ListPending(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, cohortID)
	}
	return nil, errNotImplemented
}

var _ progress.ProgressService = (*mockProgressService)(nil)

// mockTutorService implements TutorService for testing
type mockTutorService struct {
	turnFn func(ctx context.Context, req tutor.TurnRequest) (*tutor.TurnResult, error)
}

func (m *mockTutorService) Turn(ctx context.Context, req tutor.TurnRequest) (*tutor.TurnResult, error) {
	if m.turnFn != nil {
		return m.turnFn(ctx, req)
	}
	return nil, errNotImplemented
}

var _ TutorService = (*mockTutorService)(nil)

// serverWithMocks bundles a server with its mock services
type serverWithMocks struct {
	server   *Server
	content  *mockContentService
	progress *mockProgressService
	tutor    *mockTutorService
}

func newServerWithMocks() *serverWithMocks {
	m := &serverWithMocks{
		content:  &mockContentService{},
		progress: &mockProgressService{},
		tutor:    &mockTutorService{},
	}
	m.server = NewServer(config.Default(), Services{
		Content:   m.content,
		Progress:  m.progress,
		Tutor:     m.tutor,
		Providers: func() []string { return []string{"claude"} },
	})
	return m
}

var testKey = domain.ProgressKey{
	StudentID:  "estudiante:s1",
	InstanceID: "exercise_instance:abc",
	CohortID:   "cohorte:c1",
}

func pendingRecord() *domain.ExerciseProgress {
	return &domain.ExerciseProgress{
		ID:         "exercise_progress:1",
		Key:        testKey,
		Status:     domain.StatusPendingReview,
		Completion: 100,
		Attempts:   1,
		AIScore:    domain.IntPtr(74),
		FinalScore: domain.IntPtr(74),
		Feedback:   &domain.Feedback{Summary: "Bien", Strengths: []string{}, Improvements: []string{}},
	}
}
