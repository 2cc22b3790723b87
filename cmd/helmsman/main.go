package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quarterdeck/helmsman/internal/config"
	"github.com/quarterdeck/helmsman/internal/history"
	"github.com/quarterdeck/helmsman/internal/llm"
	"github.com/quarterdeck/helmsman/internal/mcp"
	"github.com/quarterdeck/helmsman/internal/pipeline"
	"github.com/quarterdeck/helmsman/internal/prompt"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(os.Args[2:])
	case "batch":
		err = runBatch(os.Args[2:])
	case "refine":
		err = runRefine(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "explain":
		err = runExplain(os.Args[2:])
	case "cluster":
		err = runCluster(os.Args[2:])
	case "history":
		err = runHistory(os.Args[2:])
	case "templates":
		err = runTemplates(os.Args[2:])
	case "mcp":
		err = runMCP(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("helmsman %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliOptions holds flags shared across subcommands plus the remaining
// positional arguments.
type cliOptions struct {
	llm      string
	config   string
	dbPath   string
	feedback string
	op       string
	limit    int
	failures bool
	stats    bool
	verbose  bool
	args     []string
}

func parseArgs(args []string) (cliOptions, error) {
	opts := cliOptions{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--llm":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--llm requires a value")
			}
			opts.llm = args[i]
		case arg == "--config":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--config requires a value")
			}
			opts.config = args[i]
		case arg == "--db":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--db requires a value")
			}
			opts.dbPath = args[i]
		case arg == "--feedback":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--feedback requires a value")
			}
			opts.feedback = args[i]
		case arg == "--op":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--op requires a value")
			}
			opts.op = args[i]
		case arg == "--limit":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--limit requires a value")
			}
			n, err := strconv.Atoi(args[i])
			if err != nil {
				return opts, fmt.Errorf("invalid --limit %q", args[i])
			}
			opts.limit = n
		case arg == "--failures":
			opts.failures = true
		case arg == "--stats":
			opts.stats = true
		case arg == "--verbose":
			opts.verbose = true
		case arg == "-", !strings.HasPrefix(arg, "-"):
			opts.args = append(opts.args, arg)
		default:
			return opts, fmt.Errorf("unknown flag: %s", arg)
		}
	}
	return opts, nil
}

// readInput returns the input text: positional args joined, or stdin when
// the single argument is "-" or no arguments were given.
func readInput(opts cliOptions) (string, error) {
	if len(opts.args) == 0 || (len(opts.args) == 1 && opts.args[0] == "-") {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.Join(opts.args, " "), nil
}

// env is everything a subcommand needs: the pipeline, the optional history
// store, and the resolved configuration.
type env struct {
	pipeline *pipeline.Pipeline
	history  *history.Store
	resolved config.ResolvedConfig
	logger   *zap.Logger
}

func (e *env) close() {
	if e.history != nil {
		e.history.Close()
	}
	if e.logger != nil {
		e.logger.Sync()
	}
}

func buildEnv(opts cliOptions) (*env, error) {
	resolved, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: opts.config,
		CLILLM:     opts.llm,
		CLIDBPath:  opts.dbPath,
	})
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if opts.verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		if l, lerr := cfg.Build(); lerr == nil {
			logger = l
		}
	}

	model := resolved.EffectiveLLMModel("extract", "google/gemini-2.5-flash")
	llmCfg, err := llm.ParseLLMFlag(model.Value)
	if err != nil {
		return nil, err
	}
	if key := resolved.APIKeyForProvider(model.Value); key.Value != "" {
		llmCfg.APIKey = key.Value
	}
	provider, err := llm.NewProvider(llmCfg)
	if err != nil {
		return nil, err
	}

	registry, err := prompt.NewRegistry(resolved.PromptOverrides)
	if err != nil {
		return nil, err
	}
	runner := prompt.NewRunner(registry, provider)

	e := &env{resolved: resolved, logger: logger}

	dbPath := resolved.HistoryDBPath.Value
	st, herr := history.NewStore(history.StoreConfig{DBPath: dbPath})
	if herr != nil {
		logger.Warn("history store unavailable, runs will not be recorded", zap.Error(herr))
	} else {
		e.history = st
	}

	popts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithModel(provider.Name()),
		pipeline.WithContextWindow(resolved.EffectiveContextWindow(pipeline.DefaultContextWindow)),
	}
	if e.history != nil {
		popts = append(popts, pipeline.WithRecorder(e.history))
	}
	e.pipeline = pipeline.New(runner, popts...)

	return e, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runExtract(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	text, err := readInput(opts)
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("usage: helmsman extract <text> (or pipe text on stdin)")
	}

	e, err := buildEnv(opts)
	if err != nil {
		return err
	}
	defer e.close()

	r, err := e.pipeline.ExtractRule(context.Background(), text)
	if err != nil {
		return err
	}
	return printJSON(r)
}

func runBatch(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	text, err := readInput(opts)
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("usage: helmsman batch <text> (or pipe a document on stdin)")
	}

	e, err := buildEnv(opts)
	if err != nil {
		return err
	}
	defer e.close()

	rules, err := e.pipeline.ExtractRules(context.Background(), text)
	if err != nil {
		return err
	}
	return printJSON(rules)
}

func runRefine(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	ruleJSON, err := readInput(opts)
	if err != nil {
		return err
	}
	if ruleJSON == "" {
		return fmt.Errorf("usage: helmsman refine [--feedback <guidance>] <rule-json>")
	}

	e, err := buildEnv(opts)
	if err != nil {
		return err
	}
	defer e.close()

	r, err := e.pipeline.RefineRule(context.Background(), ruleJSON, opts.feedback)
	if err != nil {
		return err
	}
	return printJSON(r)
}

func runValidate(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	ruleJSON, err := readInput(opts)
	if err != nil {
		return err
	}
	if ruleJSON == "" {
		return fmt.Errorf("usage: helmsman validate <rule-json>")
	}

	e, err := buildEnv(opts)
	if err != nil {
		return err
	}
	defer e.close()

	result, err := e.pipeline.ValidateRule(context.Background(), ruleJSON)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runExplain(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	ruleJSON, err := readInput(opts)
	if err != nil {
		return err
	}
	if ruleJSON == "" {
		return fmt.Errorf("usage: helmsman explain <rule-json>")
	}

	e, err := buildEnv(opts)
	if err != nil {
		return err
	}
	defer e.close()

	explanation, err := e.pipeline.ExplainRule(context.Background(), ruleJSON)
	if err != nil {
		return err
	}
	fmt.Println(explanation)
	return nil
}

func runCluster(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	rulesJSON, err := readInput(opts)
	if err != nil {
		return err
	}
	if rulesJSON == "" {
		return fmt.Errorf("usage: helmsman cluster <rules-json-array>")
	}

	e, err := buildEnv(opts)
	if err != nil {
		return err
	}
	defer e.close()

	clustered, err := e.pipeline.ClusterRules(context.Background(), rulesJSON)
	if err != nil {
		return err
	}
	fmt.Println(clustered)
	return nil
}

func runHistory(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	resolved, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: opts.config,
		CLIDBPath:  opts.dbPath,
	})
	if err != nil {
		return err
	}

	st, err := history.NewStore(history.StoreConfig{DBPath: resolved.HistoryDBPath.Value})
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	if opts.stats {
		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	}

	runs, err := st.List(ctx, history.ListOpts{Operation: opts.op, FailuresOnly: opts.failures, Limit: opts.limit})
	if err != nil {
		return err
	}
	return printJSON(runs)
}

func runTemplates(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	resolved, err := config.ResolveConfig(config.ResolveOptions{ConfigPath: opts.config})
	if err != nil {
		return err
	}

	registry, err := prompt.NewRegistry(resolved.PromptOverrides)
	if err != nil {
		return err
	}

	for _, name := range registry.Names() {
		if registry.Overridden(name) {
			fmt.Printf("%s (overridden)\n", name)
		} else {
			fmt.Println(name)
		}
	}
	return nil
}

func runMCP(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	e, err := buildEnv(opts)
	if err != nil {
		return err
	}
	defer e.close()

	srv := mcp.NewServer(mcp.ServerConfig{
		Pipeline: e.pipeline,
		History:  e.history,
		Version:  version,
	})
	return mcp.ServeStdio(srv)
}

func printUsage() {
	fmt.Printf(`helmsman %s — crew policy rule extraction

Usage:
  helmsman <command> [arguments]

Commands:
  extract <text>      Extract one structured rule from a policy sentence
  batch <text>        Extract every rule from a multi-policy document
  refine <rule>       Refine a rule, optionally steered by --feedback
  validate <rule>     Validate rule JSON (structural check + model critique)
  explain <rule>      Explain a rule in plain language
  cluster <rules>     Group a JSON array of rules by theme
  history             Show recorded pipeline runs
  templates           List prompt templates
  mcp                 Run the MCP server on stdio
  version             Print version

Flags:
  --llm <provider/model>   LLM to use (e.g. google/gemini-2.5-flash)
  --config <path>          Config file (default: ~/.helmsman/config.yaml)
  --db <path>              History database (default: ~/.helmsman/history.db)
  --feedback <text>        Refinement guidance (refine only)
  --op <operation>         Filter history by operation
  --failures               Show only failed runs
  --limit <n>              Limit history rows
  --stats                  Show aggregate history statistics
  --verbose                Debug logging to stderr

Input is read from arguments, or from stdin when arguments are omitted
or a single "-" is given.
`, version)
}
