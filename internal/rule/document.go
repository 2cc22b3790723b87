package rule

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseObject parses raw JSON into a generic document whose object keys are
// lower-cased at every level. LLM output does not guarantee key casing, so
// every read in the validator and decoder goes through this one-time
// normalization instead of per-field scans.
func ParseObject(raw string) (map[string]any, error) {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parsing rule JSON: %w", err)
	}

	obj, ok := lowerKeys(parsed).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rule JSON is not an object")
	}
	return obj, nil
}

// lowerKeys recursively lower-cases object keys. On duplicate keys differing
// only in case, the last one wins; model output that does that is already
// ambiguous.
func lowerKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, value := range t {
			out[strings.ToLower(key)] = lowerKeys(value)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = lowerKeys(item)
		}
		return out
	default:
		return v
	}
}
