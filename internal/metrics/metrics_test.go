package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestHandler_ExposesRecordedSeries(t *testing.T) {
	RecordGradePublished()
	RecordShadow("criteria", OutcomeSkipped)
	RecordJudgeFallback()
	RecordGeneration(OutcomeJoined)
	RecordTransition("graded")
	RecordTokens("grading", 12)

	out := scrape(t)
	for _, want := range []string{
		"aula_progress_grades_published_total",
		`aula_shadow_evaluations_total{evaluator="criteria",outcome="skipped"}`,
		`aula_judge_calls_total{outcome="fallback"}`,
		`aula_content_generations_total{outcome="joined"}`,
		`aula_progress_transitions_total{to="graded"}`,
		`aula_llm_tokens_total{purpose="grading"}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestRecordTokens_IgnoresNonPositive(t *testing.T) {
	RecordTokens("never-positive", 0)
	RecordTokens("never-positive", -3)

	if strings.Contains(scrape(t), `purpose="never-positive"`) {
		t.Error("non-positive token counts should not create a series")
	}
}
