// Package judge scores student submissions with a completion provider and
// normalizes whatever comes back into a complete feedback record.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/llm"
	"github.com/felixgeelhaar/aula/internal/metrics"
)

// Config tunes judge calls
type Config struct {
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
	MaxCriteria   int
	FallbackScore int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     1024,
		Temperature:   0.2,
		Timeout:       60 * time.Second,
		MaxCriteria:   5,
		FallbackScore: 50,
	}
}

// Submission is what gets graded
type Submission struct {
	ExerciseName string
	Criteria     []string // empty means use DefaultCriteria
	Narrative    string
	Payload      json.RawMessage
}

// Verdict is a normalized judge result
type Verdict struct {
	Score      int
	Feedback   domain.Feedback
	TokensUsed int
	Ref        string // completion id
	Fallback   bool
}

// Judge scores submissions
type Judge struct {
	provider llm.Provider
	cfg      Config
}

// New creates a judge backed by provider.
func New(provider llm.Provider, cfg Config) *Judge {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxCriteria <= 0 {
		cfg.MaxCriteria = def.MaxCriteria
	}
	// Zero is a valid fallback score; only a negative one means unset.
	if cfg.FallbackScore < 0 {
		cfg.FallbackScore = def.FallbackScore
	}
	return &Judge{provider: provider, cfg: cfg}
}

// Score asks the provider to grade sub. A failed call wraps
// domain.ErrExternalService; output that is not a JSON object with a
// numeric score wraps domain.ErrMalformedResponse.
func (j *Judge) Score(ctx context.Context, sub Submission) (*Verdict, error) {
	criteria := sub.Criteria
	if len(criteria) == 0 {
		criteria = DefaultCriteria
	}
	if len(criteria) > j.cfg.MaxCriteria {
		criteria = criteria[:j.cfg.MaxCriteria]
	}

	if j.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := j.provider.Generate(ctx, &llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{llm.UserMessage(buildPrompt(sub, criteria))},
		MaxTokens:   j.cfg.MaxTokens,
		Temperature: j.cfg.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		metrics.RecordJudge(metrics.OutcomeFailed, time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: judge call: %v", domain.ErrExternalService, err)
	}
	metrics.RecordTokens("grading", resp.Usage.Total())

	var raw map[string]any
	if err := llm.DecodeObject(resp.Content, &raw); err != nil {
		metrics.RecordJudge(metrics.OutcomeFailed, time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	score, ok := llm.Int(raw["score"])
	if !ok {
		metrics.RecordJudge(metrics.OutcomeFailed, time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: missing numeric score", domain.ErrMalformedResponse)
	}
	score = domain.ClampScore(score)

	metrics.RecordJudge(metrics.OutcomeOK, time.Since(start).Seconds())
	return &Verdict{
		Score:      score,
		Feedback:   safeNormalize(raw, score, resp.Content),
		TokensUsed: resp.Usage.Total(),
		Ref:        resp.ID,
	}, nil
}

// Grade scores sub and never fails: any judge error degrades to the
// neutral fallback verdict.
func (j *Judge) Grade(ctx context.Context, sub Submission) *Verdict {
	v, err := j.Score(ctx, sub)
	if err != nil {
		slog.Warn("judge fallback", "exercise", sub.ExerciseName, "error", err)
		metrics.RecordJudgeFallback()
		return j.Fallback(err)
	}
	return v
}

// Fallback returns the neutral verdict used when grading cannot complete.
func (j *Judge) Fallback(reason error) *Verdict {
	fb := NormalizeFeedback(nil, j.cfg.FallbackScore)
	fb.Raw = map[string]any{"fallback": true}
	if reason != nil {
		fb.Raw["reason"] = reason.Error()
	}
	return &Verdict{
		Score:    j.cfg.FallbackScore,
		Feedback: fb,
		Fallback: true,
	}
}
