package prompt

import (
	"context"
	"fmt"

	"github.com/quarterdeck/helmsman/internal/llm"
)

// Invoker is the capability the pipeline depends on: a named template plus a
// flat string-keyed input mapping, returning generated text or a failure.
// Tests inject a scripted fake; production uses Runner.
type Invoker interface {
	Invoke(ctx context.Context, templateName string, inputs map[string]string) (string, error)
}

// Runner renders registry templates and sends them through an llm.Provider.
// Stateless per request; safe for concurrent use as long as the underlying
// provider is (the bundled providers share an http.Client, which is).
type Runner struct {
	registry *Registry
	provider llm.Provider
}

// NewRunner wires a registry to a provider.
func NewRunner(registry *Registry, provider llm.Provider) *Runner {
	return &Runner{registry: registry, provider: provider}
}

// ProviderName exposes the underlying provider's name for diagnostics.
func (r *Runner) ProviderName() string {
	return r.provider.Name()
}

// Invoke renders the named template with the inputs and runs the completion.
// Provider and cancellation failures surface as llm.ProviderError; they are
// never retried here.
func (r *Runner) Invoke(ctx context.Context, templateName string, inputs map[string]string) (string, error) {
	tpl, err := r.registry.Get(templateName)
	if err != nil {
		return "", err
	}

	format := ""
	if tpl.JSON {
		format = "json"
	}

	out, err := r.provider.Complete(ctx, tpl.Render(inputs), llm.CompletionOpts{
		System:      tpl.System,
		MaxTokens:   tpl.MaxTokens,
		Temperature: tpl.Temperature,
		Format:      format,
	})
	if err != nil {
		if llm.IsProviderError(err) {
			return "", err
		}
		return "", &llm.ProviderError{Provider: r.provider.Name(), Err: fmt.Errorf("template %s: %w", templateName, err)}
	}

	return out, nil
}
