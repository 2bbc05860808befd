package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNoJSONObject is returned when a completion carries no JSON object.
var ErrNoJSONObject = errors.New("no JSON object in completion")

// DecodeObject parses the first JSON object in a completion into v.
// Markdown code fences and surrounding prose are tolerated.
func DecodeObject(content string, v any) error {
	raw, err := ExtractObject(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode completion: %w", err)
	}
	return nil
}

// ExtractObject returns the outermost {...} span of a completion.
func ExtractObject(content string) (string, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSONObject
	}
	return s[start : end+1], nil
}

// Completions are loosely typed; the helpers below coerce decoded values.

// Text renders a decoded JSON value as text. Objects prefer a text-like
// field and otherwise fall back to their JSON encoding.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		for _, k := range []string{"text", "description", "descripcion", "summary", "name"} {
			if s, ok := t[k].(string); ok && s != "" {
				return s
			}
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// TextList coerces a decoded value to a list of non-blank strings.
// A scalar becomes a one-element list.
func TextList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case nil:
	case []any:
		for _, item := range t {
			if s := strings.TrimSpace(Text(item)); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := strings.TrimSpace(Text(t)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// maxMagnitude bounds numeric coercion so float-to-int conversion stays defined.
const maxMagnitude = 1e9

// Int accepts JSON numbers and numeric strings, rounding to the nearest integer.
func Int(v any) (int, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		return t, true
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	f = math.Max(-maxMagnitude, math.Min(maxMagnitude, f))
	return int(math.Round(f)), true
}

// Bool accepts JSON booleans and boolean strings.
func Bool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}
