package rule

import "strings"

// ValidationResult is the outcome of a validation pass: the deterministic
// verdict plus human-readable issues. The structural validator never produces
// issues itself; those come from the LLM schema critic.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Issues  []string `json:"issues"`
}

// IsStructurallyValid checks rule JSON against the required shape: an object
// with non-blank string "action" and "target", and a "conditions" array with
// at least one element where every element is an object carrying non-blank
// string "field", "operator", and "value". Keys are matched
// case-insensitively. Any parse failure or shape mismatch returns false; the
// input is never mutated.
func IsStructurallyValid(raw string) bool {
	doc, err := ParseObject(raw)
	if err != nil {
		return false
	}

	if strings.TrimSpace(stringField(doc, "action")) == "" {
		return false
	}
	if strings.TrimSpace(stringField(doc, "target")) == "" {
		return false
	}

	items, ok := doc["conditions"].([]any)
	if !ok || len(items) == 0 {
		return false
	}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return false
		}
		for _, key := range []string{"field", "operator", "value"} {
			if strings.TrimSpace(stringField(obj, key)) == "" {
				return false
			}
		}
	}

	return true
}

// Valid is the same structural predicate applied to an in-memory Rule. Used
// by the pipeline after backfill, where the data no longer lives as JSON.
func Valid(r Rule) bool {
	if strings.TrimSpace(r.Action) == "" || strings.TrimSpace(r.Target) == "" {
		return false
	}
	if len(r.Conditions) == 0 {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Complete() {
			return false
		}
	}
	return true
}
