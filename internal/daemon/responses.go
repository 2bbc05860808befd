package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/aula/internal/content"
	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/shadow"
)

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps a service error onto its HTTP status
func writeError(w http.ResponseWriter, err error) {
	status, message := classify(err)
	writeJSON(w, status, errorBody{Error: message, Status: status, Details: err.Error()})
}

func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid state"
	case errors.Is(err, domain.ErrExternalService), errors.Is(err, domain.ErrMalformedResponse):
		return http.StatusBadGateway, "upstream model failure"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// decodeJSON reads the request body into v. An empty body is accepted
// when optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return fmt.Errorf("%w: decode body: %v", domain.ErrInvalidInput, err)
}

// pathID parses the {id} path value as a RecordID of the given table
func pathID(r *http.Request, table string) (domain.RecordID, error) {
	id, err := domain.ParseRecordID(r.PathValue("id"))
	if err != nil {
		return "", err
	}
	if id.Table() != table {
		return "", fmt.Errorf("%w: expected a %s id, got %s", domain.ErrInvalidInput, table, id)
	}
	return id, nil
}

type instanceResponse struct {
	ID               domain.RecordID      `json:"id"`
	TemplateID       domain.RecordID      `json:"template_id"`
	UnitID           domain.RecordID      `json:"unit_id"`
	Order            int                  `json:"order"`
	Mandatory        bool                 `json:"mandatory"`
	ContentStatus    domain.ContentStatus `json:"content_status"`
	CurrentContentID domain.RecordID      `json:"current_content_id,omitempty"`
	Content          *contentResponse     `json:"content,omitempty"`
	TokensUsed       int                  `json:"tokens_used,omitempty"`
	Cached           bool                 `json:"cached,omitempty"`
}

type contentResponse struct {
	ID            domain.RecordID     `json:"id"`
	Version       int                 `json:"version"`
	State         domain.ContentState `json:"state"`
	Payload       json.RawMessage     `json:"payload"`
	GenerationRef string              `json:"generation_ref,omitempty"`
	TokensUsed    int                 `json:"tokens_used"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func newInstanceResponse(res *content.Result) instanceResponse {
	inst := res.Instance
	out := instanceResponse{
		ID:               inst.ID,
		TemplateID:       inst.TemplateID,
		UnitID:           inst.UnitID,
		Order:            inst.Order,
		Mandatory:        inst.Mandatory,
		ContentStatus:    inst.ContentStatus,
		CurrentContentID: inst.CurrentContentID,
		TokensUsed:       res.TokensUsed,
		Cached:           res.Cached,
	}
	if c := res.Content; c != nil {
		out.Content = &contentResponse{
			ID:            c.ID,
			Version:       c.Version,
			State:         c.State,
			Payload:       c.Payload,
			GenerationRef: c.GenerationRef,
			TokensUsed:    c.TokensUsed,
			UpdatedAt:     c.UpdatedAt,
		}
	}
	return out
}

type progressResponse struct {
	ID               domain.RecordID       `json:"id"`
	StudentID        domain.RecordID       `json:"student_id"`
	InstanceID       domain.RecordID       `json:"instance_id"`
	CohortID         domain.RecordID       `json:"cohort_id"`
	Status           domain.ProgressStatus `json:"status"`
	Locked           bool                  `json:"locked"`
	Completion       int                   `json:"completion"`
	SavedWork        json.RawMessage       `json:"saved_work,omitempty"`
	TimeSpentMinutes int                   `json:"time_spent_minutes"`
	Attempts         int                   `json:"attempts"`
	AIScore          *int                  `json:"ai_score,omitempty"`
	InstructorScore  *int                  `json:"instructor_score,omitempty"`
	FinalScore       *int                  `json:"final_score,omitempty"`
	Feedback         *domain.Feedback      `json:"feedback,omitempty"`
	Signals          domain.Signals        `json:"signals"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	SubmittedAt      *time.Time            `json:"submitted_at,omitempty"`
	GradedAt         *time.Time            `json:"graded_at,omitempty"`
}

func newProgressResponse(p *domain.ExerciseProgress) progressResponse {
	return progressResponse{
		ID:               p.ID,
		StudentID:        p.Key.StudentID,
		InstanceID:       p.Key.InstanceID,
		CohortID:         p.Key.CohortID,
		Status:           p.Status,
		Locked:           p.Status.Locked(),
		Completion:       p.Completion,
		SavedWork:        p.SavedWork,
		TimeSpentMinutes: p.TimeSpentMinutes,
		Attempts:         p.Attempts,
		AIScore:          p.AIScore,
		InstructorScore:  p.InstructorScore,
		FinalScore:       p.FinalScore,
		Feedback:         p.Feedback,
		Signals:          p.Signals,
		StartedAt:        p.StartedAt,
		SubmittedAt:      p.SubmittedAt,
		GradedAt:         p.GradedAt,
	}
}

type signalResponse struct {
	Kind   string        `json:"kind"`
	Result shadow.Signal `json:"result"`
}

type turnResponse struct {
	Reply      string           `json:"reply"`
	TokensUsed int              `json:"tokens_used"`
	Signals    []signalResponse `json:"signals"`
	Merged     bool             `json:"merged"`
	Progress   progressResponse `json:"progress"`
}
