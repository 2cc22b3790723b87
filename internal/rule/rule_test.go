package rule

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeDefaults(t *testing.T) {
	r, err := Decode(`{"action":"notify","target":"crew_member","conditions":[{"field":"day_of_week","operator":"equals","value":"Sunday"}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Action != "notify" {
		t.Errorf("action: got %q", r.Action)
	}
	if r.Target != "crew_member" {
		t.Errorf("target: got %q", r.Target)
	}
	if r.Priority != 1 {
		t.Errorf("priority should default to 1, got %d", r.Priority)
	}
	if r.Logic != LogicAnd {
		t.Errorf("logic should default to AND, got %q", r.Logic)
	}
	if r.TimeRange != nil {
		t.Errorf("timeRange should be nil when absent, got %v", *r.TimeRange)
	}
	if len(r.Conditions) != 1 || r.Conditions[0].Field != "day_of_week" {
		t.Errorf("conditions not decoded: %+v", r.Conditions)
	}
}

func TestDecodeCaseInsensitiveKeys(t *testing.T) {
	upper, err := Decode(`{"ACTION":"deny","Target":"employees","CONDITIONS":[{"Field":"hours_worked","OPERATOR":"greater_than","Value":"12"}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lower, err := Decode(`{"action":"deny","target":"employees","conditions":[{"field":"hours_worked","operator":"greater_than","value":"12"}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upper.Action != lower.Action || upper.Target != lower.Target {
		t.Errorf("case-insensitive decode mismatch: %+v vs %+v", upper, lower)
	}
	if len(upper.Conditions) != 1 || upper.Conditions[0] != lower.Conditions[0] {
		t.Errorf("condition decode mismatch: %+v vs %+v", upper.Conditions, lower.Conditions)
	}
}

func TestDecodePriority(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"number", `{"priority": 3}`, 3},
		{"numeric string", `{"priority": "5"}`, 5},
		{"absent", `{}`, 1},
		{"garbage string", `{"priority": "high"}`, 1},
		{"wrong type", `{"priority": true}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decode(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Priority != tt.want {
				t.Errorf("priority: got %d, want %d", r.Priority, tt.want)
			}
		})
	}
}

func TestDecodeTimeRange(t *testing.T) {
	r, _ := Decode(`{"timeRange":"06:00-18:00"}`)
	if r.TimeRange == nil || *r.TimeRange != "06:00-18:00" {
		t.Errorf("timeRange not decoded: %v", r.TimeRange)
	}

	r, _ = Decode(`{"timeRange":"   "}`)
	if r.TimeRange != nil {
		t.Errorf("blank timeRange should decode to nil, got %q", *r.TimeRange)
	}

	r, _ = Decode(`{"timeRange":null}`)
	if r.TimeRange != nil {
		t.Error("null timeRange should decode to nil")
	}
}

func TestDecodeDropsIncompleteConditions(t *testing.T) {
	r, err := Decode(`{"action":"a","target":"b","conditions":[
		{"field":"hours_worked","operator":"greater_than","value":"12"},
		{"field":"","operator":"equals","value":"x"},
		{"field":"day_of_week","operator":"equals"},
		"not an object"
	]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Conditions) != 1 {
		t.Fatalf("expected 1 surviving condition, got %d", len(r.Conditions))
	}
	if r.Conditions[0].Field != "hours_worked" {
		t.Errorf("wrong condition survived: %+v", r.Conditions[0])
	}
}

func TestDecodeRejectsNonObject(t *testing.T) {
	for _, raw := range []string{`[]`, `"rule"`, `42`, `not json at all`, ``} {
		if _, err := Decode(raw); err == nil {
			t.Errorf("Decode(%q) should fail", raw)
		}
	}
}

func TestNormalizeLogic(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"AND", LogicAnd},
		{"OR", LogicOr},
		{"or", LogicOr},
		{" Or ", LogicOr},
		{"and", LogicAnd},
		{"", LogicAnd},
		{"ALL", LogicAnd},
		{"XOR", LogicAnd},
	}
	for _, tt := range tests {
		if got := NormalizeLogic(tt.input); got != tt.want {
			t.Errorf("NormalizeLogic(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestHasCoreFields(t *testing.T) {
	complete := Rule{
		Action: "notify", Target: "crew_member",
		Conditions: []Condition{{Field: "f", Operator: "o", Value: "v"}},
	}
	if !complete.HasCoreFields() {
		t.Error("complete rule should have core fields")
	}

	tests := []struct {
		name string
		r    Rule
	}{
		{"empty rule", Rule{}},
		{"missing action", Rule{Target: "t", Conditions: complete.Conditions}},
		{"missing target", Rule{Action: "a", Conditions: complete.Conditions}},
		{"no conditions", Rule{Action: "a", Target: "t"}},
		{"only incomplete condition", Rule{Action: "a", Target: "t", Conditions: []Condition{{Field: "f"}}}},
		{"whitespace action", Rule{Action: "  ", Target: "t", Conditions: complete.Conditions}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.r.HasCoreFields() {
				t.Error("expected HasCoreFields to be false")
			}
		})
	}
}

func TestCanonicalSerialization(t *testing.T) {
	r := Rule{
		Action: "grant_time_off", Target: "deckhand",
		Conditions: []Condition{{Field: "hours_worked", Operator: "greater_than", Value: "12"}},
		Priority:   2, Logic: LogicOr,
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(data)

	for _, key := range []string{`"action"`, `"target"`, `"conditions"`, `"timeRange"`, `"priority"`, `"logic"`} {
		if !strings.Contains(out, key) {
			t.Errorf("canonical JSON missing key %s: %s", key, out)
		}
	}
	if !strings.Contains(out, `"timeRange":null`) {
		t.Errorf("absent timeRange should serialize as null: %s", out)
	}
}

func TestIsStructurallyValid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{
			"valid rule",
			`{"action":"notify","target":"crew_member","conditions":[{"field":"day_of_week","operator":"equals","value":"Sunday"}]}`,
			true,
		},
		{
			"mixed-case keys validate identically",
			`{"ACTION":"x","Target":"y","conditions":[{"FIELD":"f","Operator":"o","value":"v"}]}`,
			true,
		},
		{"not json", `{{{`, false},
		{"not an object", `["a"]`, false},
		{"missing action", `{"target":"y","conditions":[{"field":"f","operator":"o","value":"v"}]}`, false},
		{"blank target", `{"action":"x","target":"  ","conditions":[{"field":"f","operator":"o","value":"v"}]}`, false},
		{"conditions missing", `{"action":"x","target":"y"}`, false},
		{"conditions wrong type", `{"action":"x","target":"y","conditions":"none"}`, false},
		{"conditions empty", `{"action":"x","target":"y","conditions":[]}`, false},
		{
			"one incomplete condition fails whole rule",
			`{"action":"x","target":"y","conditions":[{"field":"f","operator":"o","value":"v"},{"field":"f2","operator":"","value":"v2"}]}`,
			false,
		},
		{
			"condition element not an object",
			`{"action":"x","target":"y","conditions":["raw"]}`,
			false,
		},
		{
			"numeric action is not a string",
			`{"action":7,"target":"y","conditions":[{"field":"f","operator":"o","value":"v"}]}`,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStructurallyValid(tt.raw); got != tt.want {
				t.Errorf("IsStructurallyValid = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidRule(t *testing.T) {
	good := Rule{
		Action: "a", Target: "t",
		Conditions: []Condition{{Field: "f", Operator: "o", Value: "v"}},
	}
	if !Valid(good) {
		t.Error("expected valid")
	}

	bad := good
	bad.Conditions = append(bad.Conditions, Condition{Field: "f2"})
	if Valid(bad) {
		t.Error("rule with an incomplete condition should be invalid")
	}

	if Valid(Rule{Action: "a", Target: "t"}) {
		t.Error("rule without conditions should be invalid")
	}
}
