package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/aula/internal/content"
	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/llm"
	"github.com/felixgeelhaar/aula/internal/progress"
	"github.com/felixgeelhaar/aula/internal/shadow"
	"github.com/felixgeelhaar/aula/internal/tutor"
)

func serve(t *testing.T, m *serverWithMocks, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	m.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.NotFoundf(domain.ErrInstanceNotFound, "exercise_instance:x"), http.StatusNotFound},
		{"not published", domain.ErrNotPublished, http.StatusNotFound},
		{"invalid id", domain.ErrInvalidID, http.StatusBadRequest},
		{"invalid input", fmt.Errorf("%w: score out of range", domain.ErrInvalidInput), http.StatusBadRequest},
		{"locked", domain.ErrSubmissionLocked, http.StatusConflict},
		{"generation in progress", domain.ErrGenerationInProgress, http.StatusConflict},
		{"illegal transition", domain.ErrIllegalTransition, http.StatusConflict},
		{"provider failure", fmt.Errorf("%w: timeout", domain.ErrExternalService), http.StatusBadGateway},
		{"malformed output", fmt.Errorf("%w: no JSON object", domain.ErrMalformedResponse), http.StatusBadGateway},
		{"body too large", &http.MaxBytesError{Limit: maxBodyBytes}, http.StatusRequestEntityTooLarge},
		{"status rejected", domain.ErrStatusRejected, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func draftResult(id domain.RecordID) *content.Result {
	now := time.Now().UTC()
	return &content.Result{
		Instance: &domain.ExerciseInstance{
			ID:               id,
			TemplateID:       "plantilla_ejercicio:t1",
			UnitID:           "unidad:u1",
			ContentStatus:    domain.ContentDraft,
			CurrentContentID: "exercise_content:v1",
		},
		Content: &domain.ExerciseContent{
			ID:         "exercise_content:v1",
			InstanceID: id,
			Payload:    json.RawMessage(`{"narrativa":"caso"}`),
			Version:    1,
			State:      domain.ContentStateDraft,
			TokensUsed: 300,
			UpdatedAt:  now,
		},
		TokensUsed: 300,
	}
}

func TestHandleGenerate(t *testing.T) {
	m := newServerWithMocks()
	var gotForce bool
	m.content.generateFn = func(ctx context.Context, id domain.RecordID, force bool) (*content.Result, error) {
		gotForce = force
		return draftResult(id), nil
	}

	rec := serve(t, m, http.MethodPost, "/v1/instances/exercise_instance:abc/generate", `{"force": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !gotForce {
		t.Error("force flag was not passed through")
	}
	resp := decode[instanceResponse](t, rec)
	if resp.ContentStatus != domain.ContentDraft || resp.Content == nil || resp.Content.Version != 1 {
		t.Errorf("response = %+v", resp)
	}
	if string(resp.Content.Payload) != `{"narrativa":"caso"}` {
		t.Errorf("payload = %s", resp.Content.Payload)
	}
}

func TestHandleGenerate_EmptyBody(t *testing.T) {
	m := newServerWithMocks()
	m.content.generateFn = func(ctx context.Context, id domain.RecordID, force bool) (*content.Result, error) {
		if force {
			t.Error("force should default to false")
		}
		res := draftResult(id)
		res.Cached = true
		return res, nil
	}
	rec := serve(t, m, http.MethodPost, "/v1/instances/exercise_instance:abc/generate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decode[instanceResponse](t, rec); !resp.Cached {
		t.Error("cached flag missing")
	}
}

func TestContentHandlers_Errors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		err    error
		want   int
	}{
		{"malformed id", http.MethodGet, "/v1/instances/abc", "", nil, http.StatusBadRequest},
		{"wrong table", http.MethodGet, "/v1/instances/programa:p1", "", nil, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/instances/exercise_instance:abc/generate", `{"forced": true}`, nil, http.StatusBadRequest},
		{"missing instance", http.MethodGet, "/v1/instances/exercise_instance:x", "", domain.ErrInstanceNotFound, http.StatusNotFound},
		{"generating", http.MethodPost, "/v1/instances/exercise_instance:abc/generate", "", domain.ErrGenerationInProgress, http.StatusConflict},
		{"provider down", http.MethodPost, "/v1/instances/exercise_instance:abc/generate", "", domain.ErrExternalService, http.StatusBadGateway},
		{"publish without content", http.MethodPost, "/v1/instances/exercise_instance:abc/publish", "", domain.ErrContentMissing, http.StatusConflict},
		{"unpublish draft", http.MethodPost, "/v1/instances/exercise_instance:abc/unpublish", "", domain.ErrIllegalTransition, http.StatusConflict},
		{"edit published", http.MethodPut, "/v1/instances/exercise_instance:abc/draft", `{"payload": {"a": 1}}`, domain.ErrContentImmutable, http.StatusConflict},
		{"draft without body", http.MethodPut, "/v1/instances/exercise_instance:abc/draft", "", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newServerWithMocks()
			fail := func(ctx context.Context, id domain.RecordID) (*content.Result, error) {
				if tt.err == nil {
					t.Fatal("service should not be called")
				}
				return nil, tt.err
			}
			m.content.getFn = fail
			m.content.publishFn = fail
			m.content.unpublishFn = fail
			m.content.generateFn = func(ctx context.Context, id domain.RecordID, force bool) (*content.Result, error) {
				return fail(ctx, id)
			}
			m.content.editDraftFn = func(ctx context.Context, id domain.RecordID, payload json.RawMessage) (*content.Result, error) {
				return fail(ctx, id)
			}

			rec := serve(t, m, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			body := decode[errorBody](t, rec)
			if body.Status != tt.want || body.Error == "" {
				t.Errorf("error body = %+v", body)
			}
		})
	}
}

func TestHandleEditDraft(t *testing.T) {
	m := newServerWithMocks()
	var got json.RawMessage
	m.content.editDraftFn = func(ctx context.Context, id domain.RecordID, payload json.RawMessage) (*content.Result, error) {
		got = payload
		return draftResult(id), nil
	}
	rec := serve(t, m, http.MethodPut, "/v1/instances/exercise_instance:abc/draft", `{"payload": {"narrativa": "editada"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if string(got) != `{"narrativa": "editada"}` {
		t.Errorf("payload = %s", got)
	}
}

func TestHandleSubmit(t *testing.T) {
	m := newServerWithMocks()
	var gotKey domain.ProgressKey
	var gotReq progress.SubmitRequest
	m.progress.submitFn = func(ctx context.Context, key domain.ProgressKey, req progress.SubmitRequest) (*domain.ExerciseProgress, error) {
		gotKey, gotReq = key, req
		return pendingRecord(), nil
	}

	body := `{"student_id":"estudiante:s1","instance_id":"exercise_instance:abc","cohort_id":"cohorte:c1","work":{"respuesta":"final"},"minutes":12}`
	rec := serve(t, m, http.MethodPost, "/v1/progress/submit", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if gotKey != testKey {
		t.Errorf("key = %+v", gotKey)
	}
	if string(gotReq.Work) != `{"respuesta":"final"}` || gotReq.Minutes == nil || *gotReq.Minutes != 12 {
		t.Errorf("request = %+v", gotReq)
	}

	resp := decode[progressResponse](t, rec)
	if resp.Status != domain.StatusPendingReview || !resp.Locked {
		t.Errorf("status/locked = %s/%v", resp.Status, resp.Locked)
	}
	if resp.AIScore == nil || *resp.AIScore != 74 || resp.Feedback == nil {
		t.Errorf("score/feedback = %v/%v", resp.AIScore, resp.Feedback)
	}
}

func TestHandleSave(t *testing.T) {
	m := newServerWithMocks()
	m.progress.saveFn = func(ctx context.Context, key domain.ProgressKey, req progress.SaveRequest) (*domain.ExerciseProgress, error) {
		if req.Percent == nil || *req.Percent != 40 {
			t.Errorf("percent = %v", req.Percent)
		}
		return &domain.ExerciseProgress{ID: "exercise_progress:1", Key: key, Status: domain.StatusInProgress, Completion: 40}, nil
	}
	body := `{"student_id":"estudiante:s1","instance_id":"exercise_instance:abc","cohort_id":"cohorte:c1","work":{"a":1},"percent":40}`
	rec := serve(t, m, http.MethodPost, "/v1/progress/save", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decode[progressResponse](t, rec); resp.Locked || resp.Completion != 40 {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleStartAndComplete(t *testing.T) {
	m := newServerWithMocks()
	m.progress.startFn = func(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
		return &domain.ExerciseProgress{ID: "exercise_progress:1", Key: key, Status: domain.StatusInProgress}, nil
	}
	m.progress.completeFn = func(ctx context.Context, key domain.ProgressKey, minutes *int) (*domain.ExerciseProgress, error) {
		if minutes != nil {
			t.Errorf("minutes = %d, want nil", *minutes)
		}
		return &domain.ExerciseProgress{ID: "exercise_progress:1", Key: key, Status: domain.StatusPendingReview, Completion: 100}, nil
	}

	key := `{"student_id":"estudiante:s1","instance_id":"exercise_instance:abc","cohort_id":"cohorte:c1"}`
	if rec := serve(t, m, http.MethodPost, "/v1/progress/start", key); rec.Code != http.StatusOK {
		t.Fatalf("start status = %d", rec.Code)
	}
	rec := serve(t, m, http.MethodPost, "/v1/progress/complete", key)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d", rec.Code)
	}
	if resp := decode[progressResponse](t, rec); resp.Status != domain.StatusPendingReview || resp.Completion != 100 {
		t.Errorf("status = %s", resp.Status)
	}
}

func TestHandleSubmit_Locked(t *testing.T) {
	m := newServerWithMocks()
	m.progress.submitFn = func(ctx context.Context, key domain.ProgressKey, req progress.SubmitRequest) (*domain.ExerciseProgress, error) {
		return nil, domain.ErrSubmissionLocked
	}
	body := `{"student_id":"estudiante:s1","instance_id":"exercise_instance:abc","cohort_id":"cohorte:c1","work":{}}`
	rec := serve(t, m, http.MethodPost, "/v1/progress/submit", body)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandleGetProgress_QueryKey(t *testing.T) {
	m := newServerWithMocks()
	m.progress.getFn = func(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
		if key != testKey {
			t.Errorf("key = %+v", key)
		}
		return pendingRecord(), nil
	}
	rec := serve(t, m, http.MethodGet, "/v1/progress?student_id=estudiante:s1&instance_id=exercise_instance:abc&cohort_id=cohorte:c1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestHandleListPending(t *testing.T) {
	m := newServerWithMocks()
	m.progress.listPendingFn = func(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error) {
		if cohortID != "cohorte:c1" {
			t.Errorf("cohort = %s", cohortID)
		}
		return []*domain.ExerciseProgress{pendingRecord()}, nil
	}
	rec := serve(t, m, http.MethodGet, "/v1/cohorts/cohorte:c1/pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[struct {
		CohortID    string             `json:"cohort_id"`
		Submissions []progressResponse `json:"submissions"`
	}](t, rec)
	if resp.CohortID != "cohorte:c1" || len(resp.Submissions) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleListPending_Empty(t *testing.T) {
	m := newServerWithMocks()
	m.progress.listPendingFn = func(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error) {
		return nil, nil
	}
	rec := serve(t, m, http.MethodGet, "/v1/cohorts/cohorte:c1/pending", "")
	if !strings.Contains(rec.Body.String(), `"submissions":[]`) {
		t.Errorf("body = %s, want an empty array", rec.Body.String())
	}
}

func TestHandleGrade(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		want    int
		wantReq progress.ReviewRequest
	}{
		{
			name:    "publish",
			body:    `{"score": 88, "comment": "Muy bien", "publish": true}`,
			want:    http.StatusOK,
			wantReq: progress.ReviewRequest{Score: 88, Comment: "Muy bien", Publish: true},
		},
		{
			name:    "review only",
			body:    `{"score": 0}`,
			want:    http.StatusOK,
			wantReq: progress.ReviewRequest{Score: 0},
		},
		{name: "missing score", body: `{"comment": "x"}`, want: http.StatusBadRequest},
		{name: "out of range", body: `{"score": 101}`, err: fmt.Errorf("%w: score", domain.ErrInvalidInput), want: http.StatusBadRequest},
		{name: "not pending", body: `{"score": 50}`, err: domain.ErrIllegalTransition, want: http.StatusConflict},
		{name: "unknown submission", body: `{"score": 50}`, err: domain.ErrProgressNotFound, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newServerWithMocks()
			called := false
			m.progress.gradeFn = func(ctx context.Context, id domain.RecordID, req progress.ReviewRequest) (*domain.ExerciseProgress, error) {
				called = true
				if tt.err != nil {
					return nil, tt.err
				}
				if req != tt.wantReq {
					t.Errorf("request = %+v, want %+v", req, tt.wantReq)
				}
				p := pendingRecord()
				p.InstructorScore = domain.IntPtr(req.Score)
				if req.Publish {
					p.FinalScore = domain.IntPtr(req.Score)
					p.Status = domain.StatusGraded
				}
				return p, nil
			}

			rec := serve(t, m, http.MethodPost, "/v1/submissions/exercise_progress:1/grade", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.name == "missing score" && called {
				t.Error("service should not be called without a score")
			}
		})
	}
}

func TestHandleRequestIteration(t *testing.T) {
	m := newServerWithMocks()
	var gotComment string
	m.progress.iterateFn = func(ctx context.Context, id domain.RecordID, comment string) (*domain.ExerciseProgress, error) {
		gotComment = comment
		p := pendingRecord()
		p.Status = domain.StatusInProgress
		return p, nil
	}

	rec := serve(t, m, http.MethodPost, "/v1/submissions/exercise_progress:1/iterate", `{"comment":"Revisa el segmento"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if gotComment != "Revisa el segmento" {
		t.Errorf("comment = %q", gotComment)
	}
	if resp := decode[progressResponse](t, rec); resp.Locked {
		t.Error("iterated record should be editable")
	}

	if rec := serve(t, m, http.MethodPost, "/v1/submissions/exercise_progress:1/iterate", ""); rec.Code != http.StatusOK {
		t.Errorf("empty body status = %d, want 200", rec.Code)
	}
}

func TestHandleGetSubmission_WrongTable(t *testing.T) {
	m := newServerWithMocks()
	rec := serve(t, m, http.MethodGet, "/v1/submissions/exercise_instance:abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleTurn(t *testing.T) {
	m := newServerWithMocks()
	var got tutor.TurnRequest
	m.tutor.turnFn = func(ctx context.Context, req tutor.TurnRequest) (*tutor.TurnResult, error) {
		got = req
		p := &domain.ExerciseProgress{ID: "exercise_progress:1", Key: req.Key, Status: domain.StatusInProgress}
		p.Signals.TurnCount = 3
		return &tutor.TurnResult{
			Reply:      "¿Quién es tu cliente?",
			TokensUsed: 120,
			Signals:    []shadow.Signal{shadow.CriteriaResult{Met: []shadow.MetCriterion{{ID: "c1", Quality: 4}}}},
			Progress:   p,
			Merged:     true,
		}, nil
	}

	body := `{
		"student_id":"estudiante:s1","instance_id":"exercise_instance:abc","cohort_id":"cohorte:c1",
		"history":[{"role":"system","content":"eres un tutor"},{"role":"user","content":"hola"},{"role":"tutor","content":"hola, empecemos"}],
		"message":"mi cliente son panaderías",
		"step_title":"Segmento"
	}`
	rec := serve(t, m, http.MethodPost, "/v1/tutor/turn", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if got.Key != testKey || got.Message != "mi cliente son panaderías" || got.StepTitle != "Segmento" {
		t.Errorf("request = %+v", got)
	}
	if len(got.History) != 2 || got.History[0].Role != llm.RoleUser || got.History[1].Role != llm.RoleAssistant {
		t.Errorf("history = %+v, want the system entry dropped", got.History)
	} else if got.History[0].Content != "hola" {
		t.Errorf("first student turn = %q, want hola", got.History[0].Content)
	}

	resp := decode[struct {
		Reply   string `json:"reply"`
		Merged  bool   `json:"merged"`
		Signals []struct {
			Kind   string          `json:"kind"`
			Result json.RawMessage `json:"result"`
		} `json:"signals"`
		Progress progressResponse `json:"progress"`
	}](t, rec)
	if resp.Reply == "" || !resp.Merged {
		t.Errorf("reply/merged = %q/%v", resp.Reply, resp.Merged)
	}
	if len(resp.Signals) != 1 || resp.Signals[0].Kind != shadow.KindCriteria {
		t.Fatalf("signals = %+v", resp.Signals)
	}
	if !strings.Contains(string(resp.Signals[0].Result), `"id":"c1"`) {
		t.Errorf("signal result = %s", resp.Signals[0].Result)
	}
	if resp.Progress.Signals.TurnCount != 3 {
		t.Errorf("turn count = %d", resp.Progress.Signals.TurnCount)
	}
}

func TestRoleOf(t *testing.T) {
	tests := []struct {
		in     string
		want   llm.Role
		wantOK bool
	}{
		{"assistant", llm.RoleAssistant, true},
		{"tutor", llm.RoleAssistant, true},
		{"user", llm.RoleUser, true},
		{"Student", llm.RoleUser, true},
		{"", llm.RoleUser, true},
		{"system", "", false},
		{"tool", "", false},
	}
	for _, tt := range tests {
		got, ok := roleOf(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("roleOf(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
