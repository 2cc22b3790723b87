// Package prompt holds the named prompt templates Helmsman sends to its
// completion provider, and the Runner that renders and invokes them.
//
// Templates are an in-process registry built once at startup. There is no
// filesystem discovery: overrides come in through config as plain strings.
package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// Template names used by the pipeline. Every provider call goes through one
// of these.
const (
	TemplateIntentExtractor    = "IntentExtractor"
	TemplateSummarize          = "SummarizePrompt"
	TemplateRepair             = "RepairFunction"
	TemplateSchemaValidator    = "SchemaValidator"
	TemplateRefine             = "RefinePrompt"
	TemplateRuleExplainer      = "RuleExplainer"
	TemplateRuleClusterer      = "RuleClusterer"
	TemplateMultiRuleExtractor = "MultiRuleExtractor"
)

// Template is one named prompt. User is the rendered message body; {{name}}
// placeholders are replaced from the invocation inputs. JSON marks templates
// whose responses should request structured output from the provider.
type Template struct {
	Name        string
	System      string
	User        string
	JSON        bool
	MaxTokens   int
	Temperature float64
}

const intentExtractorSystem = `You are a workplace rule extraction system. Convert a natural-language policy sentence into a structured rule.

RULES:
1. Extract ONLY what the text states - never invent conditions
2. "action" is an imperative verb phrase (e.g. notify, deny, grant_time_off, schedule, contact)
3. "target" is who or what the action applies to (e.g. crew_member, employees, deckhand)
4. Every condition has "field", "operator", "value" - all non-empty strings
5. Return ONLY the JSON object, no additional text

JSON SCHEMA:
{
  "action": "imperative verb phrase",
  "target": "subject the action applies to",
  "conditions": [
    {"field": "hours_worked", "operator": "greater_than", "value": "12"}
  ],
  "timeRange": "optional free-form time range or null",
  "priority": 1,
  "logic": "AND"
}`

const summarizeSystem = `You are a summarization assistant. Produce a one-or-two sentence summary of the policy text that preserves every actor, action, number, and time reference. Return plain text only.`

const repairSystem = `You are a JSON repair function. You receive text that is supposed to be a single JSON object but may be malformed: unbalanced braces, trailing commas, unquoted keys, HTML-encoded quotes, or surrounding prose.

Return the corrected JSON object and NOTHING else. Do not add fields. Do not wrap the output in markdown fences. If the input already is valid JSON, return it unchanged.`

const schemaValidatorSystem = `You are a schema validator for workplace rules. Check the supplied rule JSON against this shape:

- "action": non-empty string
- "target": non-empty string
- "conditions": array with at least one element, each having non-empty string "field", "operator", "value"
- "timeRange": optional string or null
- "priority": optional integer
- "logic": optional "AND" or "OR"

Return ONLY a JSON object:
{"valid": true or false, "issues": ["one short sentence per problem"]}`

const refineSystem = `You are a rule refinement assistant. You receive a structured workplace rule as JSON. Tighten vague values, canonicalize field names (snake_case), and remove duplicate conditions, without changing the rule's meaning. Return ONLY the refined JSON object.`

const ruleExplainerSystem = `You are a rule explainer. You receive a structured workplace rule as JSON. Explain in plain language what the rule does, who it applies to, and when it triggers. Two or three sentences, no JSON.`

const ruleClustererSystem = `You are a rule organizer. You receive an array of structured workplace rules as JSON. Group them into named clusters by what they govern (scheduling, overtime, leave, notifications, ...).

Return ONLY a JSON object:
{"clusters": [{"name": "cluster name", "ruleIndexes": [0, 2]}]}`

const multiRuleExtractorSystem = `You are a workplace rule extraction system. The text may describe SEVERAL policies. Extract each one as a separate structured rule.

Follow the same rule shape as single extraction: action, target, conditions (field/operator/value, all non-empty), optional timeRange, priority, logic.

Return ONLY a JSON object:
{"rules": [{...}, {...}]}`

// defaults returns the built-in template set.
func defaults() map[string]Template {
	return map[string]Template{
		TemplateIntentExtractor: {
			Name:        TemplateIntentExtractor,
			System:      intentExtractorSystem,
			User:        "Extract the rule from this text:\n\n---\n{{input}}\n---\n\nReturn JSON matching the schema.",
			JSON:        true,
			MaxTokens:   1024,
			Temperature: 0.1,
		},
		TemplateSummarize: {
			Name:        TemplateSummarize,
			System:      summarizeSystem,
			User:        "Summarize:\n\n{{input}}",
			MaxTokens:   256,
			Temperature: 0.2,
		},
		TemplateRepair: {
			Name:        TemplateRepair,
			System:      repairSystem,
			User:        "Repair this JSON:\n\n{{input}}",
			JSON:        true,
			MaxTokens:   1024,
			Temperature: 0,
		},
		TemplateSchemaValidator: {
			Name:        TemplateSchemaValidator,
			System:      schemaValidatorSystem,
			User:        "Validate this rule JSON:\n\n{{input}}",
			JSON:        true,
			MaxTokens:   512,
			Temperature: 0,
		},
		TemplateRefine: {
			Name:        TemplateRefine,
			System:      refineSystem,
			User:        "Refine this rule JSON:\n\n{{input}}\n\nFeedback:\n{{feedback}}",
			JSON:        true,
			MaxTokens:   1024,
			Temperature: 0.1,
		},
		TemplateRuleExplainer: {
			Name:        TemplateRuleExplainer,
			System:      ruleExplainerSystem,
			User:        "Explain this rule:\n\n{{input}}",
			MaxTokens:   512,
			Temperature: 0.3,
		},
		TemplateRuleClusterer: {
			Name:        TemplateRuleClusterer,
			System:      ruleClustererSystem,
			User:        "Cluster these rules:\n\n{{input}}",
			JSON:        true,
			MaxTokens:   1024,
			Temperature: 0.1,
		},
		TemplateMultiRuleExtractor: {
			Name:        TemplateMultiRuleExtractor,
			System:      multiRuleExtractorSystem,
			User:        "Extract every rule from this text:\n\n---\n{{input}}\n---\n\nReturn JSON matching the schema.",
			JSON:        true,
			MaxTokens:   2048,
			Temperature: 0.1,
		},
	}
}

// Registry maps template names to templates. Built once, then read-only.
type Registry struct {
	templates  map[string]Template
	overridden map[string]bool
}

// NewRegistry builds the registry from built-in defaults plus optional body
// overrides (template name → replacement User body). Unknown override names
// are rejected so a config typo fails loudly instead of silently using the
// default.
func NewRegistry(overrides map[string]string) (*Registry, error) {
	templates := defaults()
	overridden := make(map[string]bool, len(overrides))

	for name, body := range overrides {
		tpl, ok := templates[name]
		if !ok {
			return nil, fmt.Errorf("unknown prompt template %q in overrides", name)
		}
		if strings.TrimSpace(body) == "" {
			return nil, fmt.Errorf("override for prompt template %q is empty", name)
		}
		tpl.User = body
		templates[name] = tpl
		overridden[name] = true
	}

	return &Registry{templates: templates, overridden: overridden}, nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (Template, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("unknown prompt template %q", name)
	}
	return tpl, nil
}

// Names returns all registered template names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Overridden reports whether the named template's body came from config.
func (r *Registry) Overridden(name string) bool {
	return r.overridden[name]
}

// Render substitutes {{key}} placeholders in the template's User body.
func (t Template) Render(inputs map[string]string) string {
	body := t.User
	for key, value := range inputs {
		body = strings.ReplaceAll(body, "{{"+key+"}}", value)
	}
	return body
}
