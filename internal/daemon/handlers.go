package daemon

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/aula/internal/content"
	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/llm"
	"github.com/felixgeelhaar/aula/internal/progress"
	"github.com/felixgeelhaar/aula/internal/shadow"
	"github.com/felixgeelhaar/aula/internal/tutor"
)

// Content handlers

type generateRequest struct {
	Force bool `json:"force"`
}

type draftRequest struct {
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, domain.TableInstance)
	if err != nil {
		writeError(w, err)
		return
	}
	s.contentResult(w, http.StatusOK)(s.content.Get(r.Context(), id))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, domain.TableInstance)
	if err != nil {
		writeError(w, err)
		return
	}
	var req generateRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	s.contentResult(w, http.StatusOK)(s.content.Generate(r.Context(), id, req.Force))
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, domain.TableInstance)
	if err != nil {
		writeError(w, err)
		return
	}
	s.contentResult(w, http.StatusOK)(s.content.Publish(r.Context(), id))
}

func (s *Server) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, domain.TableInstance)
	if err != nil {
		writeError(w, err)
		return
	}
	s.contentResult(w, http.StatusOK)(s.content.Unpublish(r.Context(), id))
}

func (s *Server) handleEditDraft(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, domain.TableInstance)
	if err != nil {
		writeError(w, err)
		return
	}
	var req draftRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	s.contentResult(w, http.StatusOK)(s.content.EditDraft(r.Context(), id, req.Payload))
}

// contentResult writes either the result or the error of a content call
func (s *Server) contentResult(w http.ResponseWriter, status int) func(*content.Result, error) {
	return func(res *content.Result, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, status, newInstanceResponse(res))
	}
}

// Progress handlers

type saveRequest struct {
	domain.ProgressKey
	Work    json.RawMessage `json:"work"`
	Percent *int            `json:"percent"`
	Minutes *int            `json:"minutes"`
}

type submitRequest struct {
	domain.ProgressKey
	Work    json.RawMessage `json:"work"`
	Minutes *int            `json:"minutes"`
}

type gradeRequest struct {
	Score   *int   `json:"score"`
	Comment string `json:"comment"`
	Publish bool   `json:"publish"`
}

type iterateRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := domain.ProgressKey{
		StudentID:  domain.RecordID(q.Get("student_id")),
		InstanceID: domain.RecordID(q.Get("instance_id")),
		CohortID:   domain.RecordID(q.Get("cohort_id")),
	}
	s.progressResult(w)(s.progress.Get(r.Context(), key))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var key domain.ProgressKey
	if err := decodeJSON(r, &key, false); err != nil {
		writeError(w, err)
		return
	}
	s.progressResult(w)(s.progress.Start(r.Context(), key))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	s.progressResult(w)(s.progress.Save(r.Context(), req.ProgressKey, progress.SaveRequest{
		Work:    req.Work,
		Percent: req.Percent,
		Minutes: req.Minutes,
	}))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	s.progressResult(w)(s.progress.Submit(r.Context(), req.ProgressKey, progress.SubmitRequest{
		Work:    req.Work,
		Minutes: req.Minutes,
	}))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	s.progressResult(w)(s.progress.Complete(r.Context(), req.ProgressKey, req.Minutes))
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	cohortID, err := pathID(r, domain.TableCohort)
	if err != nil {
		writeError(w, err)
		return
	}
	pending, err := s.progress.ListPending(r.Context(), cohortID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]progressResponse, 0, len(pending))
	for _, p := range pending {
		out = append(out, newProgressResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cohort_id":   cohortID,
		"submissions": out,
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, domain.TableProgress)
	if err != nil {
		writeError(w, err)
		return
	}
	s.progressResult(w)(s.progress.GetByID(r.Context(), id))
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, domain.TableProgress)
	if err != nil {
		writeError(w, err)
		return
	}
	var req gradeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if req.Score == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid input", Status: http.StatusBadRequest, Details: "score is required"})
		return
	}
	s.progressResult(w)(s.progress.ReviewAndGrade(r.Context(), id, progress.ReviewRequest{
		Score:   *req.Score,
		Comment: req.Comment,
		Publish: req.Publish,
	}))
}

func (s *Server) handleRequestIteration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, domain.TableProgress)
	if err != nil {
		writeError(w, err)
		return
	}
	var req iterateRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	s.progressResult(w)(s.progress.RequestIteration(r.Context(), id, req.Comment))
}

// progressResult writes either the record or the error of a progress call
func (s *Server) progressResult(w http.ResponseWriter) func(*domain.ExerciseProgress, error) {
	return func(p *domain.ExerciseProgress, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newProgressResponse(p))
	}
}

// Tutoring

type turnRequest struct {
	domain.ProgressKey
	History   []historyTurn `json:"history"`
	Message   string        `json:"message"`
	StepTitle string        `json:"step_title"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	history := make([]shadow.Turn, 0, len(req.History))
	for _, h := range req.History {
		role, ok := roleOf(h.Role)
		if !ok {
			continue
		}
		history = append(history, shadow.Turn{Role: role, Content: h.Content})
	}

	res, err := s.tutor.Turn(r.Context(), tutor.TurnRequest{
		Key:       req.ProgressKey,
		History:   history,
		Message:   req.Message,
		StepTitle: req.StepTitle,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	signals := make([]signalResponse, 0, len(res.Signals))
	for _, sig := range res.Signals {
		signals = append(signals, signalResponse{Kind: sig.Kind(), Result: sig})
	}
	writeJSON(w, http.StatusOK, turnResponse{
		Reply:      res.Reply,
		TokensUsed: res.TokensUsed,
		Signals:    signals,
		Merged:     res.Merged,
		Progress:   newProgressResponse(res.Progress),
	})
}

// roleOf maps a history role to the student or the tutor. Other roles,
// system included, are not conversation turns and are dropped.
func roleOf(role string) (llm.Role, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case string(llm.RoleUser), "student", "":
		return llm.RoleUser, true
	case string(llm.RoleAssistant), "tutor":
		return llm.RoleAssistant, true
	default:
		return "", false
	}
}
