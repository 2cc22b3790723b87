package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quarterdeck/helmsman/internal/prompt"
	"github.com/quarterdeck/helmsman/internal/rule"
)

// defaultRefineFeedback steers refinement when the caller gives no guidance.
const defaultRefineFeedback = "Tighten and canonicalize the rule without changing its meaning."

// RefineRule improves an existing rule, optionally steered by free-form
// feedback; blank feedback asks for a general cleanup pass. The input is
// repaired first so refinement always works from clean JSON, and the
// refined output must pass structural validation; there is no backfill and
// no retry here.
func (p *Pipeline) RefineRule(ctx context.Context, ruleJSON, feedback string) (rule.Rule, error) {
	start := time.Now()
	rec := RunRecord{Operation: "refine", Input: feedback, Model: p.model}

	r, err := p.refineRule(ctx, ruleJSON, feedback, &rec)

	rec.Latency = time.Since(start)
	rec.Valid = err == nil
	if err != nil {
		rec.Err = err.Error()
	}
	p.record(ctx, rec)

	return r, err
}

func (p *Pipeline) refineRule(ctx context.Context, ruleJSON, feedback string, rec *RunRecord) (rule.Rule, error) {
	if strings.TrimSpace(ruleJSON) == "" {
		return rule.Rule{}, fmt.Errorf("%w: rule JSON is empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(feedback) == "" {
		feedback = defaultRefineFeedback
	}

	repaired, err := p.repair(ctx, ruleJSON, rec)
	if err != nil {
		return rule.Rule{}, err
	}

	out, err := p.invoker.Invoke(ctx, prompt.TemplateRefine, map[string]string{
		"input":    repaired,
		"feedback": feedback,
	})
	if err != nil {
		return rule.Rule{}, err
	}

	refined := stripFences(out)
	if !rule.IsStructurallyValid(refined) {
		return rule.Rule{}, &Error{Reason: "rule JSON failed validation"}
	}

	decoded, derr := rule.Decode(refined)
	if derr != nil {
		return rule.Rule{}, &Error{Reason: "rule JSON failed validation"}
	}
	return decoded, nil
}

// ExplainRule renders a rule as plain prose for a human reviewer.
func (p *Pipeline) ExplainRule(ctx context.Context, ruleJSON string) (string, error) {
	if strings.TrimSpace(ruleJSON) == "" {
		return "", fmt.Errorf("%w: rule JSON is empty", ErrInvalidArgument)
	}

	out, err := p.invoker.Invoke(ctx, prompt.TemplateRuleExplainer, map[string]string{"input": ruleJSON})
	if err != nil {
		return "", err
	}

	explanation := strings.TrimSpace(out)
	if explanation == "" {
		return "", &Error{Reason: "explanation is empty"}
	}
	return explanation, nil
}

// ClusterRules groups rules in a JSON array by theme. The grouping is the
// provider's judgment returned verbatim; callers treat it as advisory.
func (p *Pipeline) ClusterRules(ctx context.Context, rulesJSON string) (string, error) {
	if strings.TrimSpace(rulesJSON) == "" {
		return "", fmt.Errorf("%w: rules JSON is empty", ErrInvalidArgument)
	}

	out, err := p.invoker.Invoke(ctx, prompt.TemplateRuleClusterer, map[string]string{"input": rulesJSON})
	if err != nil {
		return "", err
	}

	clustered := stripFences(out)
	if clustered == "" {
		return "", &Error{Reason: "cluster output is empty"}
	}
	return clustered, nil
}

// ExtractRules extracts every rule found in a multi-policy document in a
// single provider round trip. Each extracted element is repaired and
// structurally validated independently; one invalid element fails the whole
// batch with no partial results and no heuristic backfill.
func (p *Pipeline) ExtractRules(ctx context.Context, text string) ([]rule.Rule, error) {
	start := time.Now()
	rec := RunRecord{Operation: "extract_batch", Input: text, Model: p.model}

	rules, err := p.extractRules(ctx, text, &rec)

	rec.Latency = time.Since(start)
	rec.Valid = err == nil
	if err != nil {
		rec.Err = err.Error()
	}
	p.record(ctx, rec)

	return rules, err
}

func (p *Pipeline) extractRules(ctx context.Context, text string, rec *RunRecord) ([]rule.Rule, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrInvalidArgument)
	}

	out, err := p.invoker.Invoke(ctx, prompt.TemplateMultiRuleExtractor, map[string]string{"input": text})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Rules []json.RawMessage `json:"rules"`
	}
	if uerr := json.Unmarshal([]byte(stripFences(out)), &envelope); uerr != nil {
		return nil, &Error{Reason: "rule JSON failed validation", Issues: []string{uerr.Error()}}
	}
	if len(envelope.Rules) == 0 {
		return nil, &Error{Reason: "no rules extracted"}
	}

	rules := make([]rule.Rule, 0, len(envelope.Rules))
	for i, raw := range envelope.Rules {
		repaired, rerr := p.repair(ctx, string(raw), rec)
		if rerr != nil {
			return nil, rerr
		}

		if !rule.IsStructurallyValid(repaired) {
			return nil, &Error{
				Reason: "rule JSON failed validation",
				Issues: []string{fmt.Sprintf("rule %d is structurally invalid", i+1)},
			}
		}

		decoded, derr := rule.Decode(repaired)
		if derr != nil {
			return nil, &Error{
				Reason: "rule JSON failed validation",
				Issues: []string{fmt.Sprintf("rule %d: %v", i+1, derr)},
			}
		}
		rules = append(rules, decoded)
	}

	return rules, nil
}
