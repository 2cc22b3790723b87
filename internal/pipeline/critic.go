package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quarterdeck/helmsman/internal/prompt"
	"github.com/quarterdeck/helmsman/internal/rule"
)

// ignorableIssues are critic complaints about surface formatting that the
// normalization stage already handles. A verdict whose issues are all
// ignorable is treated as valid.
var ignorableIssues = []string{
	"HTML entities",
	"&quot;",
	"invalid characters",
	"not properly formatted",
}

// Critique asks the provider to judge rule JSON beyond the structural
// schema. An unparseable verdict is itself an invalid verdict, never an
// error: the critic is advisory and must not take the pipeline down.
func (p *Pipeline) Critique(ctx context.Context, ruleJSON string) (rule.ValidationResult, error) {
	if strings.TrimSpace(ruleJSON) == "" {
		return rule.ValidationResult{}, fmt.Errorf("%w: rule JSON is empty", ErrInvalidArgument)
	}

	out, err := p.invoker.Invoke(ctx, prompt.TemplateSchemaValidator, map[string]string{"input": ruleJSON})
	if err != nil {
		return rule.ValidationResult{}, err
	}

	verdict := parseCriticVerdict(out)
	if !verdict.IsValid && allIgnorable(verdict.Issues) {
		return rule.ValidationResult{IsValid: true, Issues: []string{}}, nil
	}
	return verdict, nil
}

// parseCriticVerdict reads the critic's {"valid": bool, "issues": [...]}
// output. Keys are matched exactly; anything else is an unparseable verdict.
func parseCriticVerdict(out string) rule.ValidationResult {
	unparseable := rule.ValidationResult{
		IsValid: false,
		Issues:  []string{"validator returned unparseable output"},
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFences(out)), &fields); err != nil {
		return unparseable
	}

	rawValid, ok := fields["valid"]
	if !ok {
		return unparseable
	}
	var valid bool
	if err := json.Unmarshal(rawValid, &valid); err != nil {
		return unparseable
	}

	issues := []string{}
	if rawIssues, ok := fields["issues"]; ok {
		if err := json.Unmarshal(rawIssues, &issues); err != nil {
			return unparseable
		}
	}

	return rule.ValidationResult{IsValid: valid, Issues: issues}
}

func allIgnorable(issues []string) bool {
	if len(issues) == 0 {
		return false
	}
	for _, issue := range issues {
		if !ignorable(issue) {
			return false
		}
	}
	return true
}

func ignorable(issue string) bool {
	for _, marker := range ignorableIssues {
		if strings.Contains(issue, marker) {
			return true
		}
	}
	return false
}

// ValidateRule combines the structural check with the critic. Structural
// failure short-circuits without a provider call; the critic only runs on
// structurally sound JSON.
func (p *Pipeline) ValidateRule(ctx context.Context, ruleJSON string) (rule.ValidationResult, error) {
	if strings.TrimSpace(ruleJSON) == "" {
		return rule.ValidationResult{}, fmt.Errorf("%w: rule JSON is empty", ErrInvalidArgument)
	}

	if !rule.IsStructurallyValid(ruleJSON) {
		return rule.ValidationResult{
			IsValid: false,
			Issues:  []string{"rule JSON failed validation"},
		}, nil
	}

	return p.Critique(ctx, ruleJSON)
}
