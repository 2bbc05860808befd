package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/aula/internal/content"
	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/progress"
)

// fakeContent implements content.ContentService for testing
type fakeContent struct {
	lastForce bool
	published bool
	err       error
}

func (f *fakeContent) result(id domain.RecordID, status domain.ContentStatus) (*content.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &content.Result{
		Instance: &domain.ExerciseInstance{ID: id, ContentStatus: status, CurrentContentID: "exercise_content:v1"},
		Content: &domain.ExerciseContent{
			ID:      "exercise_content:v1",
			Version: 1,
			Payload: json.RawMessage(`{"narrativa":"caso"}`),
		},
		TokensUsed: 250,
	}, nil
}

func (f *fakeContent) Generate(ctx context.Context, id domain.RecordID, force bool) (*content.Result, error) {
	f.lastForce = force
	return f.result(id, domain.ContentDraft)
}

func (f *fakeContent) Publish(ctx context.Context, id domain.RecordID) (*content.Result, error) {
	f.published = true
	return f.result(id, domain.ContentPublished)
}

func (f *fakeContent) Unpublish(ctx context.Context, id domain.RecordID) (*content.Result, error) {
	return f.result(id, domain.ContentDraft)
}

func (f *fakeContent) EditDraft(ctx context.Context, id domain.RecordID, payload json.RawMessage) (*content.Result, error) {
	return f.result(id, domain.ContentDraft)
}

func (f *fakeContent) Get(ctx context.Context, id domain.RecordID) (*content.Result, error) {
	return f.result(id, domain.ContentDraft)
}

// fakeProgress implements progress.ProgressService over a single record
type fakeProgress struct {
	record      *domain.ExerciseProgress
	lastReview  progress.ReviewRequest
	lastComment string
}

func (f *fakeProgress) Start(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
	return f.record, nil
}

func (f *fakeProgress) Save(ctx context.Context, key domain.ProgressKey, req progress.SaveRequest) (*domain.ExerciseProgress, error) {
	return f.record, nil
}

func (f *fakeProgress) Submit(ctx context.Context, key domain.ProgressKey, req progress.SubmitRequest) (*domain.ExerciseProgress, error) {
	return f.record, nil
}

func (f *fakeProgress) Complete(ctx context.Context, key domain.ProgressKey, minutes *int) (*domain.ExerciseProgress, error) {
	return f.record, nil
}

func (f *fakeProgress) ReviewAndGrade(ctx context.Context, id domain.RecordID, req progress.ReviewRequest) (*domain.ExerciseProgress, error) {
	if id != f.record.ID {
		return nil, domain.NotFoundf(domain.ErrProgressNotFound, id)
	}
	f.lastReview = req
	f.record.InstructorScore = domain.IntPtr(req.Score)
	if req.Publish {
		f.record.FinalScore = domain.IntPtr(req.Score)
		f.record.Status = domain.StatusGraded
	}
	return f.record, nil
}

func (f *fakeProgress) RequestIteration(ctx context.Context, id domain.RecordID, comment string) (*domain.ExerciseProgress, error) {
	f.lastComment = comment
	f.record.Status = domain.StatusRequiresIteration
	return f.record, nil
}

func (f *fakeProgress) RecordSignals(ctx context.Context, key domain.ProgressKey, upd progress.SignalUpdate) (*domain.ExerciseProgress, bool, error) {
	return f.record, false, nil
}

func (f *fakeProgress) Get(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
	return f.record, nil
}

func (f *fakeProgress) GetByID(ctx context.Context, id domain.RecordID) (*domain.ExerciseProgress, error) {
	if id != f.record.ID {
		return nil, domain.NotFoundf(domain.ErrProgressNotFound, id)
	}
	return f.record, nil
}

func (f *fakeProgress) ListPending(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error) {
	if cohortID != f.record.Key.CohortID {
		return nil, nil
	}
	return []*domain.ExerciseProgress{f.record}, nil
}

func setupTestServer(t *testing.T) (*Server, *fakeContent, *fakeProgress) {
	t.Helper()
	submitted := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	fc := &fakeContent{}
	fp := &fakeProgress{record: &domain.ExerciseProgress{
		ID: "exercise_progress:1",
		Key: domain.ProgressKey{
			StudentID:  "estudiante:s1",
			InstanceID: "exercise_instance:abc",
			CohortID:   "cohorte:c1",
		},
		Status:      domain.StatusPendingReview,
		Completion:  100,
		Attempts:    1,
		AIScore:     domain.IntPtr(68),
		FinalScore:  domain.IntPtr(68),
		SubmittedAt: &submitted,
	}}
	return NewServer(Config{Content: fc, Progress: fp}), fc, fp
}

func TestNewServer(t *testing.T) {
	s, _, _ := setupTestServer(t)
	if s.GetMCPServer() == nil {
		t.Fatal("expected non-nil MCP server")
	}
	if NewServer(Config{}) == nil {
		t.Fatal("expected a server even with empty config")
	}
}

func TestHandleGenerate(t *testing.T) {
	s, fc, _ := setupTestServer(t)

	out, err := s.handleGenerate(context.Background(), InstanceInput{InstanceID: "exercise_instance:abc", Force: true})
	if err != nil {
		t.Fatalf("handleGenerate() error = %v", err)
	}
	if !fc.lastForce {
		t.Error("force flag was not passed through")
	}
	if out.ContentStatus != string(domain.ContentDraft) || out.Version != 1 || out.TokensUsed != 250 {
		t.Errorf("output = %+v", out)
	}
	if string(out.Payload) != `{"narrativa":"caso"}` {
		t.Errorf("payload = %s", out.Payload)
	}
}

func TestHandlePublish(t *testing.T) {
	s, fc, _ := setupTestServer(t)

	out, err := s.handlePublish(context.Background(), InstanceInput{InstanceID: "exercise_instance:abc"})
	if err != nil {
		t.Fatalf("handlePublish() error = %v", err)
	}
	if !fc.published || out.ContentStatus != string(domain.ContentPublished) {
		t.Errorf("published = %v, status = %s", fc.published, out.ContentStatus)
	}
}

func TestHandleGenerate_PropagatesErrors(t *testing.T) {
	s, fc, _ := setupTestServer(t)
	fc.err = domain.ErrGenerationInProgress

	_, err := s.handleGenerate(context.Background(), InstanceInput{InstanceID: "exercise_instance:abc"})
	if !errors.Is(err, domain.ErrGenerationInProgress) {
		t.Errorf("error = %v, want ErrGenerationInProgress", err)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		table   string
		wantErr bool
	}{
		{"instance", "exercise_instance:abc", domain.TableInstance, false},
		{"cohort", "cohorte:c1", domain.TableCohort, false},
		{"no separator", "abc", domain.TableInstance, true},
		{"empty", "", domain.TableProgress, true},
		{"wrong table", "cohorte:c1", domain.TableProgress, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseID(tt.raw, tt.table)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestHandlePending(t *testing.T) {
	s, _, _ := setupTestServer(t)

	out, err := s.handlePending(context.Background(), PendingInput{CohortID: "cohorte:c1"})
	if err != nil {
		t.Fatalf("handlePending() error = %v", err)
	}
	if out.Count != 1 || len(out.Submissions) != 1 {
		t.Fatalf("output = %+v", out)
	}
	sub := out.Submissions[0]
	if sub.SubmissionID != "exercise_progress:1" || *sub.AIScore != 68 || sub.SubmittedAt != "2026-03-02 10:30" {
		t.Errorf("submission = %+v", sub)
	}

	empty, err := s.handlePending(context.Background(), PendingInput{CohortID: "cohorte:other"})
	if err != nil {
		t.Fatalf("handlePending() error = %v", err)
	}
	if empty.Count != 0 || empty.Submissions == nil {
		t.Errorf("empty output = %+v, want zero count and a non-nil list", empty)
	}
}

func TestHandleGrade(t *testing.T) {
	s, _, fp := setupTestServer(t)

	out, err := s.handleGrade(context.Background(), GradeInput{
		SubmissionID: "exercise_progress:1",
		Score:        85,
		Comment:      "Buen análisis",
		Publish:      true,
	})
	if err != nil {
		t.Fatalf("handleGrade() error = %v", err)
	}
	want := progress.ReviewRequest{Score: 85, Comment: "Buen análisis", Publish: true}
	if fp.lastReview != want {
		t.Errorf("review = %+v, want %+v", fp.lastReview, want)
	}
	if out.Status != string(domain.StatusGraded) || *out.FinalScore != 85 || *out.AIScore != 68 {
		t.Errorf("output = %+v", out)
	}
}

func TestHandleGrade_UnknownSubmission(t *testing.T) {
	s, _, _ := setupTestServer(t)
	_, err := s.handleGrade(context.Background(), GradeInput{SubmissionID: "exercise_progress:missing", Score: 50})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestHandleProgressAndIterate(t *testing.T) {
	s, _, fp := setupTestServer(t)
	ctx := context.Background()

	out, err := s.handleProgress(ctx, SubmissionInput{SubmissionID: "exercise_progress:1"})
	if err != nil {
		t.Fatalf("handleProgress() error = %v", err)
	}
	if out.Status != string(domain.StatusPendingReview) || out.Attempts != 1 {
		t.Errorf("output = %+v", out)
	}

	out, err = s.handleIterate(ctx, IterateInput{SubmissionID: "exercise_progress:1", Comment: "Amplía el segmento"})
	if err != nil {
		t.Fatalf("handleIterate() error = %v", err)
	}
	if out.Status != string(domain.StatusRequiresIteration) || fp.lastComment != "Amplía el segmento" {
		t.Errorf("status = %s, comment = %q", out.Status, fp.lastComment)
	}
}
