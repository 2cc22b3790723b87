// Package pipeline turns free-form natural-language policy text into
// validated Rule records, using a completion provider as one component inside
// a deterministic pipeline.
//
// The provider is untrusted: it can return malformed JSON, omit required
// fields, mangle quoting, or answer with prose. The pipeline layers repair,
// one semantic fallback retry, heuristic backfill, and strict structural
// validation around it so that every operation either returns a Rule meeting
// the schema or fails with a diagnosable reason.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/quarterdeck/helmsman/internal/backfill"
	"github.com/quarterdeck/helmsman/internal/normalize"
	"github.com/quarterdeck/helmsman/internal/prompt"
	"github.com/quarterdeck/helmsman/internal/rule"
)

// DefaultContextWindow is the assumed provider context size (tokens) when
// none is configured. Inputs are truncated for the summarize call using the
// chars/4 token estimate; extraction and backfill always see the full text.
const DefaultContextWindow = 8192

// RunRecord captures diagnostics for one pipeline operation. Rules
// themselves are never persisted; this is observability only.
type RunRecord struct {
	Operation      string
	Input          string
	FallbackUsed   bool
	RepairDegraded bool
	Valid          bool
	Issues         []string
	Model          string
	Latency        time.Duration
	Err            string
}

// Recorder receives run diagnostics. Implemented by the history store;
// recording failures are logged, never surfaced to the caller.
type Recorder interface {
	Record(ctx context.Context, rec RunRecord) error
}

// Pipeline orchestrates the extraction stages. It holds no per-request
// state: concurrent calls share only the invoker (safe for concurrent use)
// and are otherwise independent.
type Pipeline struct {
	invoker       prompt.Invoker
	logger        *zap.Logger
	recorder      Recorder
	model         string
	contextWindow int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the structured logger. Default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecorder sets the run history recorder.
func WithRecorder(rec Recorder) Option {
	return func(p *Pipeline) { p.recorder = rec }
}

// WithModel sets the provider/model name stamped onto run records.
func WithModel(model string) Option {
	return func(p *Pipeline) { p.model = model }
}

// WithContextWindow overrides the assumed provider context size in tokens.
func WithContextWindow(tokens int) Option {
	return func(p *Pipeline) {
		if tokens > 0 {
			p.contextWindow = tokens
		}
	}
}

// New creates a Pipeline around the given invoker.
func New(invoker prompt.Invoker, opts ...Option) *Pipeline {
	p := &Pipeline{
		invoker:       invoker,
		logger:        zap.NewNop(),
		contextWindow: DefaultContextWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExtractRule runs the full extraction pipeline on one sentence:
// summarize → extract intent → repair → (fallback retry) → backfill →
// validate. The returned Rule always satisfies the structural schema.
func (p *Pipeline) ExtractRule(ctx context.Context, text string) (rule.Rule, error) {
	start := time.Now()
	rec := RunRecord{Operation: "extract", Input: text, Model: p.model}

	r, err := p.extractRule(ctx, text, &rec)

	rec.Latency = time.Since(start)
	rec.Valid = err == nil
	if err != nil {
		rec.Err = err.Error()
	}
	p.record(ctx, rec)

	return r, err
}

func (p *Pipeline) extractRule(ctx context.Context, text string, rec *RunRecord) (rule.Rule, error) {
	if strings.TrimSpace(text) == "" {
		return rule.Rule{}, fmt.Errorf("%w: text is empty", ErrInvalidArgument)
	}

	summary, err := p.Summarize(ctx, text)
	if err != nil {
		return rule.Rule{}, err
	}

	combined := "Original:\n" + text + "\n\nSummary:\n" + summary

	decoded, err := p.extractCandidate(ctx, combined, rec)
	if err != nil {
		return rule.Rule{}, err
	}

	// The one automatic retry: when extraction over the summary-combined
	// text produced nothing usable, re-run it over the bare original text.
	if !decoded.HasCoreFields() {
		rec.FallbackUsed = true
		p.logger.Warn("extraction missing core fields, retrying with bare text",
			zap.String("operation", rec.Operation))

		decoded, err = p.extractCandidate(ctx, text, rec)
		if err != nil {
			return rule.Rule{}, err
		}
	}

	filled := backfill.Fill(decoded, text)

	if !filled.HasCoreFields() {
		return rule.Rule{}, &Error{Reason: "rule JSON missing required fields after repair"}
	}
	if !rule.Valid(filled) {
		return rule.Rule{}, &Error{Reason: "rule JSON failed validation"}
	}

	return filled, nil
}

// extractCandidate runs extract-intent + repair over the given input and
// decodes the result. Stage-local parse failures collapse to a zero Rule;
// only provider failures propagate.
func (p *Pipeline) extractCandidate(ctx context.Context, input string, rec *RunRecord) (rule.Rule, error) {
	intentJSON, err := p.ExtractIntent(ctx, input)
	if err != nil {
		return rule.Rule{}, err
	}

	if strings.TrimSpace(intentJSON) == "" {
		return rule.Rule{}, nil
	}

	repaired, err := p.repair(ctx, intentJSON, rec)
	if err != nil {
		return rule.Rule{}, err
	}

	decoded, derr := rule.Decode(repaired)
	if derr != nil {
		p.logger.Debug("candidate rule JSON unparseable after repair",
			zap.String("operation", rec.Operation), zap.Error(derr))
		return rule.Rule{}, nil
	}
	return decoded, nil
}

// ExtractIntent asks the provider to convert text into raw rule JSON. The
// result is returned verbatim: it may be malformed JSON, prose, or empty.
func (p *Pipeline) ExtractIntent(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text is empty", ErrInvalidArgument)
	}
	return p.invoker.Invoke(ctx, prompt.TemplateIntentExtractor, map[string]string{"input": text})
}

// Summarize produces a short summary used to enrich extraction context. It
// never replaces the original text. Oversized input is truncated at a word
// boundary for this call only.
func (p *Pipeline) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text is empty", ErrInvalidArgument)
	}
	return p.invoker.Invoke(ctx, prompt.TemplateSummarize, map[string]string{
		"input": p.truncateForPrompt(text),
	})
}

// Repair asks the provider to fix malformed rule JSON, then normalizes the
// result. When repair yields nothing usable the normalized raw input is used
// instead. Repair is never fatal on its own; failure is deferred to
// downstream validation.
func (p *Pipeline) Repair(ctx context.Context, rawJSON string) (string, error) {
	rec := RunRecord{Operation: "repair"}
	return p.repair(ctx, rawJSON, &rec)
}

func (p *Pipeline) repair(ctx context.Context, rawJSON string, rec *RunRecord) (string, error) {
	if strings.TrimSpace(rawJSON) == "" {
		return "", fmt.Errorf("%w: raw JSON is empty", ErrInvalidArgument)
	}

	out, err := p.invoker.Invoke(ctx, prompt.TemplateRepair, map[string]string{"input": rawJSON})
	if err != nil {
		return "", err
	}

	repaired := normalize.Normalize(stripFences(out))
	if repaired == "" {
		rec.RepairDegraded = true
		p.logger.Warn("repair produced no output, falling back to normalized input",
			zap.String("operation", rec.Operation))
		return normalize.Normalize(stripFences(rawJSON)), nil
	}

	return repaired, nil
}

func (p *Pipeline) record(ctx context.Context, rec RunRecord) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(ctx, rec); err != nil {
		p.logger.Warn("recording pipeline run failed", zap.Error(err))
	}
}

// truncateForPrompt caps text to roughly 3/4 of the context window using the
// chars/4 token estimate, cutting at the last word boundary. When no word
// boundary exists in the window the cut backs up to a rune boundary so the
// provider never sees torn UTF-8.
func (p *Pipeline) truncateForPrompt(text string) string {
	maxChars := p.contextWindow * 3
	if len(text) <= maxChars {
		return text
	}
	cut := strings.LastIndex(text[:maxChars], " ")
	if cut <= 0 {
		cut = maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
	}
	return text[:cut]
}

// stripFences removes a surrounding markdown code fence, a common provider
// habit even when asked for bare JSON.
func stripFences(s string) string {
	cleaned := strings.TrimSpace(s)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}

	lines := strings.Split(cleaned, "\n")
	start, end := 0, len(lines)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if start == 0 {
				start = i + 1
			} else {
				end = i
				break
			}
		}
	}
	if start > 0 && end > start {
		return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
	}
	return cleaned
}
