// Package tutor runs one tutoring turn: the tutor's reply and the
// exercise's shadow evaluations, with the evaluation results folded into
// the student's progress record.
package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/judge"
	"github.com/felixgeelhaar/aula/internal/llm"
	"github.com/felixgeelhaar/aula/internal/progress"
	"github.com/felixgeelhaar/aula/internal/shadow"
)

// ProgressRecorder is the part of the submission workflow a turn touches.
type ProgressRecorder interface {
	Start(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error)
	RecordSignals(ctx context.Context, key domain.ProgressKey, upd progress.SignalUpdate) (*domain.ExerciseProgress, bool, error)
}

// Config tunes the primary tutoring completion
type Config struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxCriteria int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxTokens:   1024,
		Temperature: 0.6,
		Timeout:     60 * time.Second,
		MaxCriteria: 5,
	}
}

// TurnRequest is one student message in an exercise conversation.
type TurnRequest struct {
	Key       domain.ProgressKey
	History   []shadow.Turn // earlier turns, oldest first
	Message   string
	StepTitle string
}

// TurnResult is the tutor's reply plus the evaluator results in fixed
// order: criteria, quality, insights.
type TurnResult struct {
	Reply      string
	TokensUsed int
	Signals    []shadow.Signal
	Progress   *domain.ExerciseProgress
	Merged     bool // false when the record was locked
}

// Service runs tutoring turns
type Service struct {
	progress ProgressRecorder
	catalog  progress.Catalog
	tutor    llm.Provider
	monitor  *shadow.Monitor
	cfg      Config
}

// NewService creates a tutoring service.
func NewService(recorder ProgressRecorder, catalog progress.Catalog, tutor llm.Provider, monitor *shadow.Monitor, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxCriteria <= 0 {
		cfg.MaxCriteria = def.MaxCriteria
	}
	return &Service{
		progress: recorder,
		catalog:  catalog,
		tutor:    tutor,
		monitor:  monitor,
		cfg:      cfg,
	}
}

// exercise is what a turn needs to know about the instance.
type exercise struct {
	name      string
	narrative string
	criteria  []shadow.Criterion
	shadow    domain.ShadowConfig
}

// Turn answers the student's message. Evaluators never fail the turn;
// a failed tutor completion does.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}

	p, err := s.progress.Start(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	ex, err := s.loadExercise(ctx, req.Key.InstanceID)
	if err != nil {
		return nil, err
	}

	turns := append(append([]shadow.Turn{}, req.History...), shadow.Turn{Role: llm.RoleUser, Content: req.Message})

	primary := func(ctx context.Context) (*llm.Response, error) {
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
		return s.tutor.Generate(ctx, &llm.Request{
			System:      tutorSystemPrompt(ex.name, ex.narrative),
			Messages:    toMessages(turns),
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: s.cfg.Temperature,
		})
	}

	res, err := s.monitor.Run(ctx, primary, s.evaluations(p, ex, turns, req))
	if err != nil {
		return nil, fmt.Errorf("%w: tutor reply: %v", domain.ErrExternalService, err)
	}

	updated, merged, err := s.progress.RecordSignals(ctx, req.Key, signalUpdate(res))
	if err != nil {
		return nil, err
	}
	if !merged {
		slog.Debug("signals not merged into locked record", "submission_id", p.ID)
	}

	return &TurnResult{
		Reply:      res.Reply.Content,
		TokensUsed: res.Reply.Usage.Total(),
		Signals:    res.Signals(),
		Progress:   updated,
		Merged:     merged,
	}, nil
}

func (s *Service) loadExercise(ctx context.Context, instanceID domain.RecordID) (*exercise, error) {
	inst, err := s.catalog.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	tmpl, err := s.catalog.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", inst.TemplateID, err)
	}

	ex := &exercise{name: tmpl.Name, shadow: tmpl.Shadow}
	if inst.HasContent() {
		c, err := s.catalog.GetContent(ctx, inst.CurrentContentID)
		if err != nil {
			return nil, fmt.Errorf("load content %s: %w", inst.CurrentContentID, err)
		}
		ex.narrative = judge.ExtractNarrative(c.Payload)
		for i, crit := range judge.ExtractCriteriaDetail(c.Payload, s.cfg.MaxCriteria) {
			ex.criteria = append(ex.criteria, shadow.Criterion{
				ID:          fmt.Sprintf("c%d", i+1),
				Description: crit.Text,
				Rubric:      crit.Rubric,
			})
		}
	}
	return ex, nil
}

// evaluations selects this turn's evaluators from the template's shadow
// configuration. The turn index counts the current turn.
func (s *Service) evaluations(p *domain.ExerciseProgress, ex *exercise, turns []shadow.Turn, req TurnRequest) shadow.Evaluations {
	var ev shadow.Evaluations
	cfg := ex.shadow

	if cfg.CriteriaEnabled {
		ev.Criteria = &shadow.CriteriaInput{
			TurnIndex:   p.Signals.TurnCount + 1,
			Frequency:   cfg.Frequency(),
			RecentTurns: turns,
			Criteria:    ex.criteria,
			AlreadyMet:  p.Signals.MetCriteriaIDs(),
		}
	}
	if cfg.QualityEnabled {
		descs := make([]string, 0, len(ex.criteria))
		for _, c := range ex.criteria {
			descs = append(descs, c.Description)
		}
		ev.Quality = &shadow.QualityInput{
			Response:  req.Message,
			StepTitle: req.StepTitle,
			Criteria:  descs,
			Threshold: cfg.Threshold(),
		}
	}
	if cfg.InsightsEnabled {
		ev.Insights = &shadow.InsightInput{
			RecentTurns:  turns,
			RunningCount: p.Signals.InsightCount,
		}
	}
	return ev
}

// signalUpdate keeps only evaluator results that actually came back.
func signalUpdate(res *shadow.Result) progress.SignalUpdate {
	upd := progress.SignalUpdate{Turn: true}

	if c := res.Criteria; c != nil && len(c.Met) > 0 {
		upd.MetCriteria = make(map[string]int, len(c.Met))
		for _, m := range c.Met {
			upd.MetCriteria[m.ID] = m.Quality
		}
	}
	if q := res.Quality; q != nil && !q.Failed {
		upd.QualityScore = domain.IntPtr(q.Score)
		valid := q.IsValid
		upd.QualityValid = &valid
	}
	if in := res.Insights; in != nil && !in.Failed {
		upd.Insights = in.Insights
		upd.InsightCount = domain.IntPtr(in.Count)
	}
	return upd
}

func toMessages(turns []shadow.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}
