package validate

import (
	"encoding/json"
	"errors"
	"strings"
)

// cleanJSON strips markdown code fences and any prose around the first
// top-level JSON object. Oracles wrap output in ```json fences or lead
// with a sentence often enough that parsing the raw text directly would
// fail most attempts.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// syntax is layer 1: the output must parse as a single JSON object. On
// failure the issue carries the byte offset when the decoder reports one.
func (v *Validator) syntax(raw string, res *Result) ([]byte, bool) {
	res.recordLayer(LayerSyntax)

	cleaned := cleanJSON(raw)
	if cleaned == "" {
		res.addError(LayerSyntax, "", "output is empty, expected a JSON object")
		return nil, false
	}

	doc := []byte(cleaned)
	var probe any
	if err := json.Unmarshal(doc, &probe); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			res.addError(LayerSyntax, "", "output is not valid JSON at byte offset %d: %v", syn.Offset, err)
		} else {
			res.addError(LayerSyntax, "", "output is not valid JSON: %v", err)
		}
		return nil, false
	}

	if _, ok := probe.(map[string]any); !ok {
		res.addError(LayerSyntax, "", "output must be a single JSON object, got %s", jsonKind(probe))
		return nil, false
	}

	return doc, true
}

func jsonKind(v any) string {
	switch v.(type) {
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	default:
		return "an unexpected value"
	}
}
