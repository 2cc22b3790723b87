// Package backfill provides deterministic, non-LLM inference that fills
// missing Rule fields from the original source text.
//
// This is the pipeline's last line of defense: when the model fails to
// produce an action, target, or usable condition even after the fallback
// retry, keyword and regex heuristics over the raw sentence take over. Every
// inference has a guaranteed non-empty default, so backfill always yields a
// rule with all core fields populated.
package backfill

import (
	"regexp"
	"strings"

	"github.com/quarterdeck/helmsman/internal/rule"
)

// actionGroup maps a set of trigger keywords to a canonical action. Groups
// are tested in order; the first group with any keyword present in the
// lower-cased text wins.
type actionGroup struct {
	keywords []string
	action   string
}

// actionGroups in priority order. "off" is first so "time off" phrasing beats
// the generic grant group below it.
var actionGroups = []actionGroup{
	{[]string{"off"}, "grant_time_off"},
	{[]string{"notify", "alert", "inform", "email", "message"}, "notify"},
	{[]string{"deny", "reject", "block", "prevent", "forbid"}, "deny"},
	{[]string{"schedule", "assign", "book", "arrange", "plan", "reserve"}, "schedule"},
	{[]string{"call", "contact"}, "contact"},
	{[]string{"approve", "allow", "grant", "get", "give", "offer"}, "grant"},
}

// defaultAction is used when no keyword group matches.
const defaultAction = "apply_policy"

// targetEntry maps a source-text keyword to a canonical target. First
// substring match wins.
type targetEntry struct {
	keyword string
	target  string
}

var targetTable = []targetEntry{
	{"deckhand", "deckhand"},
	{"casual pool", "casual_pool"},
	{"crew member", "crew_member"},
	{"crew", "crew"},
	{"employees", "employees"},
	{"employee", "employee"},
	{"captain", "captain"},
	{"engineer", "engineer"},
	{"steward", "steward"},
	{"chef", "chef"},
	{"manager", "manager"},
	{"contractor", "contractor"},
	{"staff", "staff"},
	{"worker", "worker"},
}

// defaultTarget is used when no table entry matches.
const defaultTarget = "subject"

var weekdays = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// hoursOverRE matches hour-count threshold phrasing like "over 12 hours",
// "more than 40 hours", "exceeds 8 hrs".
var hoursOverRE = regexp.MustCompile(`(?i)\b(?:over|more than|greater than|above|exceeds)\s+(\d+(?:\.\d+)?)\s*(?:hours?|hrs?)\b`)

// Fill returns a copy of r with any empty/default field inferred from
// sourceText. Present values are never overwritten; a rule that already has
// all core fields passes through unchanged. The result always has a
// non-empty action, a non-empty target, and at least one complete condition.
func Fill(r rule.Rule, sourceText string) rule.Rule {
	out := r

	if strings.TrimSpace(out.Action) == "" {
		out.Action = InferAction(sourceText)
	}
	if strings.TrimSpace(out.Target) == "" {
		out.Target = InferTarget(sourceText)
	}
	if !hasCompleteCondition(out.Conditions) {
		out.Conditions = InferConditions(sourceText)
	}
	if out.Logic == "" {
		out.Logic = rule.LogicAnd
	}
	if out.Priority == 0 {
		out.Priority = rule.DefaultPriority
	}

	return out
}

// InferAction picks a canonical action from keyword groups over the
// lower-cased source text. Falls back to apply_policy.
func InferAction(sourceText string) string {
	lower := strings.ToLower(sourceText)
	for _, group := range actionGroups {
		for _, keyword := range group.keywords {
			if strings.Contains(lower, keyword) {
				return group.action
			}
		}
	}
	return defaultAction
}

// InferTarget scans the target keyword table in order and returns the first
// match's canonical target. Falls back to subject.
func InferTarget(sourceText string) string {
	lower := strings.ToLower(sourceText)
	for _, entry := range targetTable {
		if strings.Contains(lower, entry.keyword) {
			return entry.target
		}
	}
	return defaultTarget
}

// InferConditions builds conditions from weekday names and hour-threshold
// phrasing in the source text. When nothing matches, it synthesizes a
// catch-all context condition so the rule always has at least one complete
// condition.
func InferConditions(sourceText string) []rule.Condition {
	lower := strings.ToLower(sourceText)
	var conditions []rule.Condition

	for _, day := range weekdays {
		if strings.Contains(lower, day) {
			conditions = append(conditions, rule.Condition{
				Field:    "day_of_week",
				Operator: "equals",
				Value:    strings.ToUpper(day[:1]) + day[1:],
			})
		}
	}

	for _, match := range hoursOverRE.FindAllStringSubmatch(sourceText, -1) {
		conditions = append(conditions, rule.Condition{
			Field:    "hours_worked",
			Operator: "greater_than",
			Value:    match[1],
		})
	}

	if len(conditions) == 0 {
		conditions = append(conditions, rule.Condition{
			Field:    "context",
			Operator: "contains",
			Value:    strings.TrimSpace(sourceText),
		})
	}

	return conditions
}

func hasCompleteCondition(conditions []rule.Condition) bool {
	for _, c := range conditions {
		if c.Complete() {
			return true
		}
	}
	return false
}
