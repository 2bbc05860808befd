package content

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/aula/internal/domain"
)

const generationSystemPrompt = `You design exercises for an online learning program.
Write in the language of the program material. Produce exactly one exercise as a JSON object with at least:
{
  "titulo": "<title>",
  "narrativa": "<scenario the student works in>",
  "instrucciones": "<what the student must do>",
  "criterios_evaluacion": ["<criterion>", ...]
}`

// defaultPromptTemplate is used when a template carries no prompt of its own.
const defaultPromptTemplate = `Create a {{kind}} exercise named "{{exercise}}".
Program: {{program}}
Phase: {{phase}}
Unit: {{unit}}
Unit objectives:
{{objectives}}`

// ancestry is the full context a generation prompt is interpolated with.
type ancestry struct {
	template *domain.ExerciseTemplate
	unit     *domain.Unit
	phase    *domain.Phase
	program  *domain.Program
}

// buildPrompt interpolates the template prompt with the ancestor chain.
func buildPrompt(a ancestry) string {
	tmpl := a.template.PromptTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = defaultPromptTemplate
	}

	var objectives strings.Builder
	for _, o := range a.unit.Objectives {
		fmt.Fprintf(&objectives, "- %s\n", o)
	}

	r := strings.NewReplacer(
		"{{exercise}}", a.template.Name,
		"{{kind}}", a.template.Kind,
		"{{program}}", a.program.Name,
		"{{program_description}}", a.program.Description,
		"{{phase}}", a.phase.Name,
		"{{phase_description}}", a.phase.Description,
		"{{unit}}", a.unit.Name,
		"{{unit_description}}", a.unit.Description,
		"{{objectives}}", strings.TrimRight(objectives.String(), "\n"),
	)
	return r.Replace(tmpl)
}
