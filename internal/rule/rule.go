// Package rule defines Helmsman's canonical Rule entity and its structural
// validation.
//
// Rules are value types: they are produced by the extraction pipeline,
// validated, and handed straight back to the caller. Nothing here persists
// them or gives them identity beyond their content.
package rule

import (
	"strconv"
	"strings"
)

// Logic values for combining a rule's conditions.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// DefaultPriority is used when the provider omits priority or returns
// something unparsable.
const DefaultPriority = 1

// Condition is one field/operator/value triple inside a rule. All three must
// be non-blank for the condition to count as structurally complete.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Complete reports whether all three sub-fields are non-blank.
func (c Condition) Complete() bool {
	return strings.TrimSpace(c.Field) != "" &&
		strings.TrimSpace(c.Operator) != "" &&
		strings.TrimSpace(c.Value) != ""
}

// Rule is the validated output entity of the extraction pipeline. JSON output
// uses these camelCase keys; reads are case-insensitive (see Decode).
type Rule struct {
	Action     string      `json:"action"`
	Target     string      `json:"target"`
	Conditions []Condition `json:"conditions"`
	TimeRange  *string     `json:"timeRange"`
	Priority   int         `json:"priority"`
	Logic      string      `json:"logic"`
}

// HasCoreFields reports whether the rule carries a non-blank action, a
// non-blank target, and at least one complete condition. This is the
// predicate the pipeline uses to decide whether extraction produced anything
// usable; falling short triggers the fallback retry and, after backfill, a
// hard failure.
func (r Rule) HasCoreFields() bool {
	if strings.TrimSpace(r.Action) == "" || strings.TrimSpace(r.Target) == "" {
		return false
	}
	for _, c := range r.Conditions {
		if c.Complete() {
			return true
		}
	}
	return false
}

// NormalizeLogic maps provider-supplied logic text onto {AND, OR}. Anything
// other than OR, including blank, normalizes to AND. Lenient on purpose: a
// hallucinated "ALL"/"BOTH" should not sink an otherwise valid rule.
func NormalizeLogic(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), LogicOr) {
		return LogicOr
	}
	return LogicAnd
}

// Decode parses rule JSON with case-insensitive keys into a Rule, applying
// defaults (priority 1, logic AND, blank timeRange → nil). Condition entries
// missing any sub-field are dropped; the strict validator rejects them and
// they carry no information the backfill stage could not do better with.
func Decode(raw string) (Rule, error) {
	doc, err := ParseObject(raw)
	if err != nil {
		return Rule{}, err
	}
	return FromDocument(doc), nil
}

// FromDocument builds a Rule from an already lower-cased document.
func FromDocument(doc map[string]any) Rule {
	r := Rule{
		Action:   stringField(doc, "action"),
		Target:   stringField(doc, "target"),
		Priority: intField(doc, "priority", DefaultPriority),
		Logic:    NormalizeLogic(stringField(doc, "logic")),
	}

	if tr := stringField(doc, "timerange"); strings.TrimSpace(tr) != "" {
		trimmed := strings.TrimSpace(tr)
		r.TimeRange = &trimmed
	}

	if items, ok := doc["conditions"].([]any); ok {
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			c := Condition{
				Field:    strings.TrimSpace(stringField(obj, "field")),
				Operator: strings.TrimSpace(stringField(obj, "operator")),
				Value:    strings.TrimSpace(stringField(obj, "value")),
			}
			if c.Complete() {
				r.Conditions = append(r.Conditions, c)
			}
		}
	}

	return r
}

func stringField(doc map[string]any, key string) string {
	v, ok := doc[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

func intField(doc map[string]any, key string, fallback int) int {
	v, ok := doc[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return fallback
}
