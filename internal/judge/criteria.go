package judge

import (
	"encoding/json"
	"strings"

	"github.com/felixgeelhaar/aula/internal/llm"
)

// DefaultCriteria are used when the exercise content declares none.
var DefaultCriteria = []string{
	"Clarity: ideas are expressed clearly and are easy to follow",
	"Depth: the response goes beyond surface-level observations",
	"Argumentation: claims are supported with reasons or evidence",
}

// Keys that generated exercise payloads use for their evaluation criteria.
var criteriaKeys = []string{
	"criterios_evaluacion",
	"criterios",
	"evaluation_criteria",
	"criteria",
	"rubrica",
	"rubric",
}

var narrativeKeys = []string{
	"narrativa",
	"narrative",
	"contexto",
	"context",
	"instrucciones",
	"instructions",
}

// Criterion is one evaluation criterion of an exercise payload.
type Criterion struct {
	Text   string
	Rubric string // optional scoring guidance
}

var rubricKeys = []string{"rubrica", "rubric", "niveles", "levels"}

// ExtractCriteria reads up to max evaluation criteria from an exercise
// payload. Criteria may be plain strings or objects with a description.
// When nothing usable is found the three default criteria are returned.
func ExtractCriteria(payload json.RawMessage, max int) []string {
	detail := ExtractCriteriaDetail(payload, max)
	out := make([]string, len(detail))
	for i, c := range detail {
		out[i] = c.Text
	}
	return out
}

// ExtractCriteriaDetail is ExtractCriteria keeping each criterion's rubric.
func ExtractCriteriaDetail(payload json.RawMessage, max int) []Criterion {
	var doc map[string]any
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &doc)
	}

	var found []Criterion
	for _, key := range criteriaKeys {
		if v, ok := doc[key]; ok {
			found = criteriaList(v)
			if len(found) > 0 {
				break
			}
		}
	}
	if len(found) == 0 {
		for _, d := range DefaultCriteria {
			found = append(found, Criterion{Text: d})
		}
	}
	if max > 0 && len(found) > max {
		found = found[:max]
	}
	return found
}

func criteriaList(v any) []Criterion {
	var out []Criterion
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if c := criterionOf(item); c.Text != "" {
				out = append(out, c)
			}
		}
	case map[string]any:
		// {"criteria": {"items": [...]}} or a single criterion object
		if items, ok := t["items"]; ok {
			return criteriaList(items)
		}
		if c := criterionOf(t); c.Text != "" {
			out = append(out, c)
		}
	case string:
		for _, line := range strings.Split(t, "\n") {
			if s := strings.TrimSpace(strings.TrimLeft(line, "-*• ")); s != "" {
				out = append(out, Criterion{Text: s})
			}
		}
	}
	return out
}

func criterionOf(v any) Criterion {
	obj, ok := v.(map[string]any)
	if !ok {
		return Criterion{Text: strings.TrimSpace(llm.Text(v))}
	}
	c := Criterion{Rubric: rubricText(obj)}
	name := firstString(obj, "nombre", "name", "titulo", "title")
	desc := firstString(obj, "descripcion", "description", "text")
	switch {
	case name != "" && desc != "":
		c.Text = name + ": " + desc
	case name != "":
		c.Text = name
	case desc != "":
		c.Text = desc
	default:
		c.Text = strings.TrimSpace(llm.Text(v))
	}
	return c
}

// rubricText accepts a rubric as text or as a list of levels.
func rubricText(obj map[string]any) string {
	for _, k := range rubricKeys {
		switch r := obj[k].(type) {
		case nil:
		case string:
			if s := strings.TrimSpace(r); s != "" {
				return s
			}
		default:
			if levels := llm.TextList(r); len(levels) > 0 {
				return strings.Join(levels, "; ")
			}
		}
	}
	return ""
}

// ExtractNarrative returns the scenario text of an exercise payload, if any.
func ExtractNarrative(payload json.RawMessage) string {
	var doc map[string]any
	if len(payload) == 0 || json.Unmarshal(payload, &doc) != nil {
		return ""
	}
	for _, key := range narrativeKeys {
		if s := strings.TrimSpace(llm.Text(doc[key])); s != "" {
			return s
		}
	}
	return ""
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
