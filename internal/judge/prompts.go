package judge

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You are an experienced instructor grading a student's exercise submission.
Grade only against the listed criteria. Be fair, specific and encouraging.

Respond with a JSON object:
{
  "score": <integer 0-100>,
  "summary": "<two or three sentences addressed to the student>",
  "strengths": ["<strength>", ...],
  "improvements": ["<concrete improvement>", ...],
  "rubricAlignment": <integer 0-100, how well the work matches the criteria>
}`

// buildPrompt renders the grading request for one submission.
func buildPrompt(sub Submission, criteria []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Exercise\n%s\n\n", orDefault(sub.ExerciseName, "Untitled exercise"))

	if sub.Narrative != "" {
		fmt.Fprintf(&b, "## Scenario\n%s\n\n", sub.Narrative)
	}

	b.WriteString("## Evaluation criteria\n")
	for i, c := range criteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}

	b.WriteString("\n## Student submission\n")
	b.WriteString(renderPayload(sub.Payload))
	b.WriteString("\n")

	return b.String()
}

// renderPayload pretty-prints a JSON payload; invalid JSON is passed through.
func renderPayload(payload json.RawMessage) string {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	if s, ok := v.(string); ok {
		return s
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(payload)
	}
	return string(out)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
