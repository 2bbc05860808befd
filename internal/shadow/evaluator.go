package shadow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/aula/internal/llm"
	"github.com/felixgeelhaar/aula/internal/metrics"
)

// Evaluator runs the three side-channel assessments. Every method returns a
// usable result; judge failures turn into that evaluator's empty result.
type Evaluator struct {
	provider llm.Provider
	cfg      Config
}

// NewEvaluator creates an evaluator backed by provider.
func NewEvaluator(provider llm.Provider, cfg Config) *Evaluator {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxRecentTurns <= 0 {
		cfg.MaxRecentTurns = def.MaxRecentTurns
	}
	return &Evaluator{provider: provider, cfg: cfg}
}

// complete runs one JSON completion and decodes it into out.
func (e *Evaluator) complete(ctx context.Context, system, prompt string, out any) error {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	resp, err := e.provider.Generate(ctx, &llm.Request{
		System:      system,
		Messages:    []llm.Message{llm.UserMessage(prompt)},
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}
	metrics.RecordTokens("shadow", resp.Usage.Total())

	if err := llm.DecodeObject(resp.Content, out); err != nil {
		return err
	}
	return nil
}

// EvaluateCriteria reports which unmet criteria the recent turns now show
// evidence for. It only calls the judge on every Frequency-th turn and
// only while some criterion is still unmet.
func (e *Evaluator) EvaluateCriteria(ctx context.Context, in CriteriaInput) CriteriaResult {
	unmet := unmetCriteria(in.Criteria, in.AlreadyMet)
	if !shouldEvaluateCriteria(in.TurnIndex, in.Frequency) || len(unmet) == 0 {
		metrics.RecordShadow(KindCriteria, metrics.OutcomeSkipped)
		return CriteriaResult{Skipped: true, Met: []MetCriterion{}}
	}

	var raw struct {
		MetCriteria []map[string]any `json:"met_criteria"`
	}
	prompt := criteriaPrompt(e.recent(in.RecentTurns), unmet, in.AlreadyMet)
	if err := e.complete(ctx, criteriaSystemPrompt, prompt, &raw); err != nil {
		slog.Debug("criteria evaluation failed", "error", err)
		metrics.RecordShadow(KindCriteria, metrics.OutcomeFailed)
		return CriteriaResult{Failed: true, Met: []MetCriterion{}}
	}

	allowed := make(map[string]bool, len(unmet))
	for _, c := range unmet {
		allowed[c.ID] = true
	}

	met := []MetCriterion{}
	for _, item := range raw.MetCriteria {
		id := llm.Text(item["id"])
		if !allowed[id] {
			continue
		}
		q, ok := llm.Int(item["quality"])
		if !ok {
			q = minQuality
		}
		q = clampQuality(q)
		if q < metQuality {
			continue
		}
		allowed[id] = false // first mention wins
		met = append(met, MetCriterion{ID: id, Quality: q, Evidence: llm.Text(item["evidence"])})
	}

	metrics.RecordShadow(KindCriteria, metrics.OutcomeOK)
	return CriteriaResult{Met: met}
}

// ValidateQuality judges one student response. A response only passes when
// the judge says it is valid and its score reaches the threshold.
func (e *Evaluator) ValidateQuality(ctx context.Context, in QualityInput) QualityResult {
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	var raw map[string]any
	if err := e.complete(ctx, qualitySystemPrompt, qualityPrompt(in), &raw); err != nil {
		slog.Debug("quality validation failed", "error", err)
		metrics.RecordShadow(KindQuality, metrics.OutcomeFailed)
		return emptyQuality()
	}

	score, ok := llm.Int(raw["quality_score"])
	if !ok {
		score = minQuality
	}
	score = clampQuality(score)

	metrics.RecordShadow(KindQuality, metrics.OutcomeOK)
	return QualityResult{
		IsValid:  llm.Bool(raw["is_valid"]) && score >= threshold,
		Score:    score,
		Missing:  llm.TextList(raw["missing_aspects"]),
		Feedback: llm.Text(raw["feedback"]),
	}
}

func emptyQuality() QualityResult {
	return QualityResult{Failed: true, Score: minQuality, Missing: []string{}}
}

// ExtractInsights looks for new insights in the student's own turns. On
// failure the running count is echoed back unchanged.
func (e *Evaluator) ExtractInsights(ctx context.Context, in InsightInput) InsightResult {
	var studentTurns []Turn
	for _, t := range in.RecentTurns {
		if t.Role == llm.RoleUser {
			studentTurns = append(studentTurns, t)
		}
	}
	if len(studentTurns) == 0 {
		metrics.RecordShadow(KindInsights, metrics.OutcomeSkipped)
		return InsightResult{Insights: []string{}, Count: in.RunningCount}
	}

	var raw map[string]any
	prompt := insightPrompt(e.recent(studentTurns), in.RunningCount)
	if err := e.complete(ctx, insightSystemPrompt, prompt, &raw); err != nil {
		slog.Debug("insight extraction failed", "error", err)
		metrics.RecordShadow(KindInsights, metrics.OutcomeFailed)
		return InsightResult{Failed: true, Insights: []string{}, Count: in.RunningCount}
	}

	insights := llm.TextList(raw["new_insights"])
	metrics.RecordShadow(KindInsights, metrics.OutcomeOK)
	return InsightResult{Insights: insights, Count: in.RunningCount + len(insights)}
}

func (e *Evaluator) recent(turns []Turn) []Turn {
	if len(turns) > e.cfg.MaxRecentTurns {
		return turns[len(turns)-e.cfg.MaxRecentTurns:]
	}
	return turns
}

func shouldEvaluateCriteria(turnIndex, frequency int) bool {
	if frequency <= 0 {
		frequency = defaultFrequency
	}
	return turnIndex > 0 && turnIndex%frequency == 0
}

func unmetCriteria(all []Criterion, alreadyMet []string) []Criterion {
	met := make(map[string]bool, len(alreadyMet))
	for _, id := range alreadyMet {
		met[id] = true
	}
	var out []Criterion
	for _, c := range all {
		if !met[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func clampQuality(q int) int {
	if q < minQuality {
		return minQuality
	}
	if q > maxQuality {
		return maxQuality
	}
	return q
}
