// Package mcp exposes the instructor workflows as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/aula/internal/content"
	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/progress"
)

// Server wraps the MCP server with the content and review workflows
type Server struct {
	mcpServer *server.Server
	content   content.ContentService
	progress  progress.ProgressService
}

// Config contains configuration for the MCP server
type Config struct {
	Version  string
	Content  content.ContentService
	Progress progress.ProgressService
}

// NewServer creates a new MCP server for aula
func NewServer(cfg Config) *Server {
	s := &Server{
		content:  cfg.Content,
		progress: cfg.Progress,
	}
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "aula",
		Version: version,
	}, server.WithInstructions(`
Aula manages generated exercise content and the review of student submissions.

Available tools:
- aula_generate: Generate (or fetch) draft content for an exercise instance
- aula_publish: Publish an instance's draft content to students
- aula_pending: List a cohort's submissions awaiting review
- aula_progress: Show one submission with its AI score and feedback
- aula_grade: Record the instructor score, optionally publishing the grade
- aula_iterate: Send a submission back to the student for another iteration

Identifiers use the table:key form, e.g. exercise_instance:abc,
cohorte:c1, exercise_progress:42.
`))

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("aula_generate").
		Description("Generate draft content for an exercise instance. Returns existing content unless force is set.").
		Handler(s.handleGenerate)

	s.mcpServer.Tool("aula_publish").
		Description("Publish the current draft content of an exercise instance.").
		Handler(s.handlePublish)

	s.mcpServer.Tool("aula_pending").
		Description("List submissions awaiting instructor review in a cohort, oldest first.").
		Handler(s.handlePending)

	s.mcpServer.Tool("aula_progress").
		Description("Get a submission with its status, scores and feedback.").
		Handler(s.handleProgress)

	s.mcpServer.Tool("aula_grade").
		Description("Record the instructor score (0-100) for a pending submission. With publish, the grade becomes final.").
		Handler(s.handleGrade)

	s.mcpServer.Tool("aula_iterate").
		Description("Return a pending submission to the student with a comment.").
		Handler(s.handleIterate)
}

// Input/Output types for tools

type InstanceInput struct {
	InstanceID string `json:"instance_id" jsonschema:"description=Exercise instance ID (exercise_instance:...)"`
	Force      bool   `json:"force,omitempty" jsonschema:"description=Regenerate even when content exists"`
}

type InstanceOutput struct {
	InstanceID    string          `json:"instance_id"`
	ContentStatus string          `json:"content_status"`
	ContentID     string          `json:"content_id,omitempty"`
	Version       int             `json:"version,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	TokensUsed    int             `json:"tokens_used"`
	Cached        bool            `json:"cached"`
}

type PendingInput struct {
	CohortID string `json:"cohort_id" jsonschema:"description=Cohort ID (cohorte:...)"`
}

type PendingOutput struct {
	CohortID    string              `json:"cohort_id"`
	Count       int                 `json:"count"`
	Submissions []SubmissionSummary `json:"submissions"`
}

type SubmissionSummary struct {
	SubmissionID string `json:"submission_id"`
	StudentID    string `json:"student_id"`
	InstanceID   string `json:"instance_id"`
	AIScore      *int   `json:"ai_score,omitempty"`
	SubmittedAt  string `json:"submitted_at,omitempty"`
}

type SubmissionInput struct {
	SubmissionID string `json:"submission_id" jsonschema:"description=Submission ID (exercise_progress:...)"`
}

type GradeInput struct {
	SubmissionID string `json:"submission_id" jsonschema:"description=Submission ID (exercise_progress:...)"`
	Score        int    `json:"score" jsonschema:"description=Instructor score from 0 to 100"`
	Comment      string `json:"comment,omitempty" jsonschema:"description=Comment appended to the feedback"`
	Publish      bool   `json:"publish,omitempty" jsonschema:"description=Publish the grade to the student"`
}

type IterateInput struct {
	SubmissionID string `json:"submission_id" jsonschema:"description=Submission ID (exercise_progress:...)"`
	Comment      string `json:"comment,omitempty" jsonschema:"description=What the student should revise"`
}

type SubmissionOutput struct {
	SubmissionID    string           `json:"submission_id"`
	StudentID       string           `json:"student_id"`
	InstanceID      string           `json:"instance_id"`
	Status          string           `json:"status"`
	Completion      int              `json:"completion"`
	Attempts        int              `json:"attempts"`
	AIScore         *int             `json:"ai_score,omitempty"`
	InstructorScore *int             `json:"instructor_score,omitempty"`
	FinalScore      *int             `json:"final_score,omitempty"`
	Feedback        *domain.Feedback `json:"feedback,omitempty"`
}

// Tool handlers

func (s *Server) handleGenerate(ctx context.Context, input InstanceInput) (InstanceOutput, error) {
	id, err := parseID(input.InstanceID, domain.TableInstance)
	if err != nil {
		return InstanceOutput{}, err
	}
	res, err := s.content.Generate(ctx, id, input.Force)
	if err != nil {
		return InstanceOutput{}, fmt.Errorf("generate content: %w", err)
	}
	return instanceOutput(res), nil
}

func (s *Server) handlePublish(ctx context.Context, input InstanceInput) (InstanceOutput, error) {
	id, err := parseID(input.InstanceID, domain.TableInstance)
	if err != nil {
		return InstanceOutput{}, err
	}
	res, err := s.content.Publish(ctx, id)
	if err != nil {
		return InstanceOutput{}, fmt.Errorf("publish content: %w", err)
	}
	return instanceOutput(res), nil
}

func (s *Server) handlePending(ctx context.Context, input PendingInput) (PendingOutput, error) {
	id, err := parseID(input.CohortID, domain.TableCohort)
	if err != nil {
		return PendingOutput{}, err
	}
	pending, err := s.progress.ListPending(ctx, id)
	if err != nil {
		return PendingOutput{}, fmt.Errorf("list pending: %w", err)
	}

	out := PendingOutput{CohortID: string(id), Count: len(pending), Submissions: make([]SubmissionSummary, 0, len(pending))}
	for _, p := range pending {
		sum := SubmissionSummary{
			SubmissionID: string(p.ID),
			StudentID:    string(p.Key.StudentID),
			InstanceID:   string(p.Key.InstanceID),
			AIScore:      p.AIScore,
		}
		if p.SubmittedAt != nil {
			sum.SubmittedAt = p.SubmittedAt.Format("2006-01-02 15:04")
		}
		out.Submissions = append(out.Submissions, sum)
	}
	return out, nil
}

func (s *Server) handleProgress(ctx context.Context, input SubmissionInput) (SubmissionOutput, error) {
	id, err := parseID(input.SubmissionID, domain.TableProgress)
	if err != nil {
		return SubmissionOutput{}, err
	}
	p, err := s.progress.GetByID(ctx, id)
	if err != nil {
		return SubmissionOutput{}, fmt.Errorf("get submission: %w", err)
	}
	return submissionOutput(p), nil
}

func (s *Server) handleGrade(ctx context.Context, input GradeInput) (SubmissionOutput, error) {
	id, err := parseID(input.SubmissionID, domain.TableProgress)
	if err != nil {
		return SubmissionOutput{}, err
	}
	p, err := s.progress.ReviewAndGrade(ctx, id, progress.ReviewRequest{
		Score:   input.Score,
		Comment: input.Comment,
		Publish: input.Publish,
	})
	if err != nil {
		return SubmissionOutput{}, fmt.Errorf("grade submission: %w", err)
	}
	return submissionOutput(p), nil
}

func (s *Server) handleIterate(ctx context.Context, input IterateInput) (SubmissionOutput, error) {
	id, err := parseID(input.SubmissionID, domain.TableProgress)
	if err != nil {
		return SubmissionOutput{}, err
	}
	p, err := s.progress.RequestIteration(ctx, id, input.Comment)
	if err != nil {
		return SubmissionOutput{}, fmt.Errorf("request iteration: %w", err)
	}
	return submissionOutput(p), nil
}

func parseID(raw, table string) (domain.RecordID, error) {
	id, err := domain.ParseRecordID(raw)
	if err != nil {
		return "", err
	}
	if id.Table() != table {
		return "", fmt.Errorf("%w: expected a %s id, got %s", domain.ErrInvalidInput, table, id)
	}
	return id, nil
}

func instanceOutput(res *content.Result) InstanceOutput {
	out := InstanceOutput{
		InstanceID:    string(res.Instance.ID),
		ContentStatus: string(res.Instance.ContentStatus),
		TokensUsed:    res.TokensUsed,
		Cached:        res.Cached,
	}
	if c := res.Content; c != nil {
		out.ContentID = string(c.ID)
		out.Version = c.Version
		out.Payload = c.Payload
	}
	return out
}

func submissionOutput(p *domain.ExerciseProgress) SubmissionOutput {
	return SubmissionOutput{
		SubmissionID:    string(p.ID),
		StudentID:       string(p.Key.StudentID),
		InstanceID:      string(p.Key.InstanceID),
		Status:          string(p.Status),
		Completion:      p.Completion,
		Attempts:        p.Attempts,
		AIScore:         p.AIScore,
		InstructorScore: p.InstructorScore,
		FinalScore:      p.FinalScore,
		Feedback:        p.Feedback,
	}
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
