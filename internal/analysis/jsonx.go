package analysis

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject pulls the first complete JSON object out of LLM output.
// Local models wrap JSON in markdown fences or prose more often than not,
// so a plain Unmarshal of the whole response is tried first and a
// string-aware brace scan second.
func ExtractJSONObject(text string, out interface{}) bool {
	text = strings.TrimSpace(text)

	// Strip a leading markdown fence.
	if strings.HasPrefix(text, "```") {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	if json.Unmarshal([]byte(text), out) == nil {
		return true
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return false
	}

	depth := 0
	inStr := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		switch {
		case c == '\\':
			escape = true
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return json.Unmarshal([]byte(text[start:i+1]), out) == nil
			}
		}
	}
	return false
}
