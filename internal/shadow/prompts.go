package shadow

import (
	"fmt"
	"strings"
)

const criteriaSystemPrompt = `You observe a tutoring conversation and decide which learning criteria the student has now demonstrated.
Count a criterion only when the student's own words show authentic behavioral evidence of it. Never count keyword mentions.
Rate each newly met criterion from 1 (weak) to 5 (exemplary).

Respond with a JSON object:
{"met_criteria": [{"id": "<criterion id>", "quality": <1-5>, "evidence": "<short quote or paraphrase>"}]}`

const qualitySystemPrompt = `You check whether a student's answer to one exercise step is good enough to move on.

Respond with a JSON object:
{"is_valid": <true|false>, "quality_score": <1-5>, "missing_aspects": ["<aspect>", ...], "feedback": "<one sentence>"}`

const insightSystemPrompt = `You read a student's messages and list genuinely new insights they expressed: realizations, connections or reframings in their own words.
Do not repeat insights already counted and do not invent any.

Respond with a JSON object:
{"new_insights": ["<insight>", ...]}`

func writeTurns(b *strings.Builder, turns []Turn) {
	for _, t := range turns {
		fmt.Fprintf(b, "[%s] %s\n", t.Role, strings.TrimSpace(t.Content))
	}
}

func criteriaPrompt(turns []Turn, unmet []Criterion, alreadyMet []string) string {
	var b strings.Builder

	b.WriteString("## Recent conversation\n")
	writeTurns(&b, turns)

	b.WriteString("\n## Criteria not yet met\n")
	for _, c := range unmet {
		fmt.Fprintf(&b, "- %s: %s\n", c.ID, c.Description)
		if c.Rubric != "" {
			fmt.Fprintf(&b, "  rubric: %s\n", c.Rubric)
		}
	}

	if len(alreadyMet) > 0 {
		fmt.Fprintf(&b, "\n## Already met (ignore)\n%s\n", strings.Join(alreadyMet, ", "))
	}
	return b.String()
}

func qualityPrompt(in QualityInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Step\n%s\n\n", in.StepTitle)
	b.WriteString("## Evaluation criteria (in order)\n")
	for i, c := range in.Criteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	fmt.Fprintf(&b, "\n## Student response\n%s\n", strings.TrimSpace(in.Response))
	return b.String()
}

func insightPrompt(studentTurns []Turn, runningCount int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Insights counted so far: %d\n\n## Student messages\n", runningCount)
	for _, t := range studentTurns {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(t.Content))
	}
	return b.String()
}
