package judge

import (
	"log/slog"
	"strings"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/llm"
)

// DefaultSummary is used when the judge produced no usable summary text.
const DefaultSummary = "Your submission was received and reviewed. Detailed feedback will follow from your instructor."

// summaryKeys are consulted in order for the feedback summary.
var summaryKeys = []string{"summary", "ai_analysis", "suggestion"}

// NormalizeFeedback turns a loosely shaped judge response into a complete
// Feedback value. It never fails: absent keys take defaults and the raw
// response is kept under Raw.
func NormalizeFeedback(raw map[string]any, fallbackScore int) domain.Feedback {
	fb := domain.Feedback{
		Summary:         DefaultSummary,
		Strengths:       []string{},
		Improvements:    []string{},
		RubricAlignment: domain.ClampScore(fallbackScore),
		Raw:             map[string]any{},
	}
	if raw == nil {
		return fb
	}
	fb.Raw = raw

	for _, key := range summaryKeys {
		if s := strings.TrimSpace(llm.Text(raw[key])); s != "" {
			fb.Summary = s
			break
		}
	}

	fb.Strengths = llm.TextList(raw["strengths"])
	fb.Improvements = llm.TextList(raw["improvements"])

	for _, key := range []string{"rubricAlignment", "rubric_alignment"} {
		if v, ok := llm.Int(raw[key]); ok {
			fb.RubricAlignment = domain.ClampScore(v)
			break
		}
	}

	return fb
}

// safeNormalize wraps NormalizeFeedback so that an unexpected panic while
// walking the response degrades to a minimal object instead of crashing
// the grading path.
func safeNormalize(raw map[string]any, fallbackScore int, responseText string) (fb domain.Feedback) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("feedback normalization failed", "panic", r)
			fb = minimalFeedback(fallbackScore, responseText)
		}
	}()
	return NormalizeFeedback(raw, fallbackScore)
}

func minimalFeedback(score int, responseText string) domain.Feedback {
	return domain.Feedback{
		Summary:         DefaultSummary,
		Strengths:       []string{},
		Improvements:    []string{},
		RubricAlignment: domain.ClampScore(score),
		Raw:             map[string]any{"response": responseText},
	}
}
