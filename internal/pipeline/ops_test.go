package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/quarterdeck/helmsman/internal/prompt"
)

func TestRefineRule(t *testing.T) {
	refined := `{
		"action": "contact",
		"target": "deckhand",
		"conditions": [
			{"field": "hours_worked", "operator": "greater_than", "value": "10"}
		],
		"priority": 3,
		"logic": "AND"
	}`
	inv := &fakeInvoker{responses: map[string][]string{
		prompt.TemplateRepair: {deckhandRuleJSON},
		prompt.TemplateRefine: {refined},
	}}
	p := New(inv)

	r, err := p.RefineRule(context.Background(), deckhandRuleJSON, "lower the threshold to 10 hours")
	if err != nil {
		t.Fatalf("RefineRule: %v", err)
	}
	if r.Conditions[0].Value != "10" {
		t.Errorf("got value %q, want 10", r.Conditions[0].Value)
	}
	if r.Priority != 3 {
		t.Errorf("got priority %d, want 3", r.Priority)
	}

	refines := inv.callsFor(prompt.TemplateRefine)
	if len(refines) != 1 {
		t.Fatalf("got %d refine calls, want 1", len(refines))
	}
	if got := refines[0].inputs["feedback"]; got != "lower the threshold to 10 hours" {
		t.Errorf("feedback not passed through: %q", got)
	}
}

func TestRefineRuleInvalidOutput(t *testing.T) {
	inv := &fakeInvoker{responses: map[string][]string{
		prompt.TemplateRepair: {deckhandRuleJSON},
		prompt.TemplateRefine: {`{"action": "contact", "target": "", "conditions": []}`},
	}}
	p := New(inv)

	_, err := p.RefineRule(context.Background(), deckhandRuleJSON, "drop the target")
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want pipeline Error", err)
	}
	if perr.Reason != "rule JSON failed validation" {
		t.Errorf("got reason %q", perr.Reason)
	}
}

func TestRefineRuleWithoutFeedback(t *testing.T) {
	// The rule JSON alone is a complete refine call; blank feedback asks
	// for a general cleanup pass instead of failing.
	inv := &fakeInvoker{responses: map[string][]string{
		prompt.TemplateRepair: {deckhandRuleJSON},
		prompt.TemplateRefine: {deckhandRuleJSON},
	}}
	p := New(inv)

	r, err := p.RefineRule(context.Background(), deckhandRuleJSON, "")
	if err != nil {
		t.Fatalf("RefineRule: %v", err)
	}
	if r.Action != "contact" {
		t.Errorf("got action %q, want contact", r.Action)
	}

	refines := inv.callsFor(prompt.TemplateRefine)
	if len(refines) != 1 {
		t.Fatalf("got %d refine calls, want 1", len(refines))
	}
	if got := refines[0].inputs["feedback"]; got != defaultRefineFeedback {
		t.Errorf("blank feedback not defaulted: %q", got)
	}
}

func TestRefineRuleEmptyRuleJSON(t *testing.T) {
	p := New(&fakeInvoker{})

	if _, err := p.RefineRule(context.Background(), "", "feedback"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty rule JSON: got %v, want ErrInvalidArgument", err)
	}
}

func TestExplainRule(t *testing.T) {
	inv := &fakeInvoker{responses: map[string][]string{
		prompt.TemplateRuleExplainer: {"Contact the captain when a deckhand works over 12 hours."},
	}}
	p := New(inv)

	got, err := p.ExplainRule(context.Background(), deckhandRuleJSON)
	if err != nil {
		t.Fatalf("ExplainRule: %v", err)
	}
	if got == "" {
		t.Fatal("explanation is empty")
	}
}

func TestExplainRuleBlankOutput(t *testing.T) {
	inv := &fakeInvoker{responses: map[string][]string{
		prompt.TemplateRuleExplainer: {"   \n  "},
	}}
	p := New(inv)

	_, err := p.ExplainRule(context.Background(), deckhandRuleJSON)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want pipeline Error", err)
	}
}

func TestClusterRules(t *testing.T) {
	inv := &fakeInvoker{responses: map[string][]string{
		prompt.TemplateRuleClusterer: {"```json\n{\"clusters\": [{\"theme\": \"working hours\", \"rules\": [0]}]}\n```"},
	}}
	p := New(inv)

	got, err := p.ClusterRules(context.Background(), "["+deckhandRuleJSON+"]")
	if err != nil {
		t.Fatalf("ClusterRules: %v", err)
	}
	if got[0] != '{' {
		t.Errorf("fences not stripped: %q", got)
	}
}

func TestExtractRules(t *testing.T) {
	second := `{
		"action": "notify",
		"target": "crew",
		"conditions": [
			{"field": "day_of_week", "operator": "equals", "value": "Sunday"}
		]
	}`
	inv := &fakeInvoker{responses: map[string][]string{
		prompt.TemplateMultiRuleExtractor: {`{"rules": [` + deckhandRuleJSON + `,` + second + `]}`},
		prompt.TemplateRepair:             {deckhandRuleJSON, second},
	}}
	p := New(inv)

	rules, err := p.ExtractRules(context.Background(), "Two policies about hours and Sundays.")
	if err != nil {
		t.Fatalf("ExtractRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].Action != "contact" || rules[1].Action != "notify" {
		t.Errorf("unexpected actions: %q, %q", rules[0].Action, rules[1].Action)
	}
}

func TestExtractRulesFailFast(t *testing.T) {
	// Element 2 of 3 is structurally invalid: the whole batch fails and no
	// partial results are returned. Repair for element 3 never runs.
	bad := `{"action": "notify", "target": "", "conditions": []}`
	inv := &fakeInvoker{responses: map[string][]string{
		prompt.TemplateMultiRuleExtractor: {`{"rules": [` + deckhandRuleJSON + `,` + bad + `,` + deckhandRuleJSON + `]}`},
		prompt.TemplateRepair:             {deckhandRuleJSON, bad, deckhandRuleJSON},
	}}
	p := New(inv)

	rules, err := p.ExtractRules(context.Background(), "Three policies.")
	if rules != nil {
		t.Errorf("failed batch must not return partial results, got %d rules", len(rules))
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want pipeline Error", err)
	}
	if perr.Reason != "rule JSON failed validation" {
		t.Errorf("got reason %q", perr.Reason)
	}
	if repairs := inv.callsFor(prompt.TemplateRepair); len(repairs) != 2 {
		t.Errorf("got %d repair calls, want 2 (fail fast)", len(repairs))
	}
}

func TestExtractRulesNoRules(t *testing.T) {
	inv := &fakeInvoker{responses: map[string][]string{
		prompt.TemplateMultiRuleExtractor: {`{"rules": []}`},
	}}
	p := New(inv)

	_, err := p.ExtractRules(context.Background(), "Nothing actionable here.")
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want pipeline Error", err)
	}
	if perr.Reason != "no rules extracted" {
		t.Errorf("got reason %q", perr.Reason)
	}
}

func TestExtractRulesUnparseableEnvelope(t *testing.T) {
	inv := &fakeInvoker{responses: map[string][]string{
		prompt.TemplateMultiRuleExtractor: {"Here are the rules I found: ..."},
	}}
	p := New(inv)

	_, err := p.ExtractRules(context.Background(), "Some policies.")
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want pipeline Error", err)
	}
}
