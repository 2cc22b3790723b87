package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is one configuration value plus where it came from, so the
// CLI can report the effective configuration with provenance.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath string
	CLILLM     string
	CLIDBPath  string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	HistoryDBPath ResolvedValue `json:"history_db_path"`

	LLMProvider      ResolvedValue `json:"llm_provider"`
	LLMExtractModel  ResolvedValue `json:"llm_extract_model"`
	LLMRepairModel   ResolvedValue `json:"llm_repair_model"`
	LLMCritiqueModel ResolvedValue `json:"llm_critique_model"`
	LLMClusterModel  ResolvedValue `json:"llm_cluster_model"`

	ContextWindow ResolvedValue `json:"context_window"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`

	// PromptOverrides maps template name to replacement system prompt.
	PromptOverrides map[string]string `json:"prompt_overrides,omitempty"`
}

type fileConfig struct {
	HistoryDB string `yaml:"history_db"`
	LLM       struct {
		Provider      string `yaml:"provider"`
		APIKey        string `yaml:"api_key"`
		ExtractModel  string `yaml:"extract_model"`
		RepairModel   string `yaml:"repair_model"`
		CritiqueModel string `yaml:"critique_model"`
		ClusterModel  string `yaml:"cluster_model"`
		ContextWindow int    `yaml:"context_window"`
	} `yaml:"llm"`
	Prompts map[string]string `yaml:"prompts"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".helmsman", "config.yaml")
}

func DefaultHistoryDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".helmsman", "history.db")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath:      path,
		LLMKeys:         map[string]ResolvedValue{},
		PromptOverrides: map[string]string{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.HistoryDBPath, cfg.HistoryDB, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.LLMExtractModel, cfg.LLM.ExtractModel, SourceConfig, path)
		apply(&out.LLMRepairModel, cfg.LLM.RepairModel, SourceConfig, path)
		apply(&out.LLMCritiqueModel, cfg.LLM.CritiqueModel, SourceConfig, path)
		apply(&out.LLMClusterModel, cfg.LLM.ClusterModel, SourceConfig, path)
		if cfg.LLM.ContextWindow > 0 {
			out.ContextWindow = ResolvedValue{
				Value:  strconv.Itoa(cfg.LLM.ContextWindow),
				Source: SourceConfig,
				From:   path,
			}
		}

		for name, prompt := range cfg.Prompts {
			if strings.TrimSpace(prompt) != "" {
				out.PromptOverrides[name] = prompt
			}
		}

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			providers := map[string]struct{}{}
			for _, v := range []string{cfg.LLM.Provider, cfg.LLM.ExtractModel, cfg.LLM.RepairModel, cfg.LLM.CritiqueModel, cfg.LLM.ClusterModel} {
				p := providerOf(v)
				if p != "" {
					providers[p] = struct{}{}
				}
			}
			if len(providers) == 0 {
				providers["default"] = struct{}{}
			}
			for p := range providers {
				out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
			}
		}
	}

	applyEnv(&out.HistoryDBPath, "HELMSMAN_DB")
	applyEnv(&out.HistoryDBPath, "HELMSMAN_DB_PATH")

	applyEnv(&out.LLMProvider, "HELMSMAN_LLM")
	applyEnv(&out.LLMExtractModel, "HELMSMAN_LLM_EXTRACT")
	applyEnv(&out.LLMRepairModel, "HELMSMAN_LLM_REPAIR")
	applyEnv(&out.LLMCritiqueModel, "HELMSMAN_LLM_CRITIQUE")
	applyEnv(&out.LLMClusterModel, "HELMSMAN_LLM_CLUSTER")
	applyEnv(&out.ContextWindow, "HELMSMAN_CONTEXT_WINDOW")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.HistoryDBPath, opts.CLIDBPath, SourceCLI, "--db")

	if out.HistoryDBPath.Value != "" {
		out.HistoryDBPath.Value = expandUserPath(out.HistoryDBPath.Value)
	}

	return out, nil
}

// EffectiveLLMModel picks the provider/model for one purpose (extract,
// repair, critique, cluster), falling back from the purpose-specific model
// to the general provider and then to the built-in default. A candidate
// that names only a provider with no model (no "/") is upgraded to the
// built-in default when that default belongs to the same provider, and the
// upgraded value keeps the candidate's source and origin.
func (r ResolvedConfig) EffectiveLLMModel(purpose, fallback string) ResolvedValue {
	purpose = strings.ToLower(strings.TrimSpace(purpose))

	candidates := []ResolvedValue{}
	switch purpose {
	case "extract":
		candidates = append(candidates, r.LLMExtractModel)
	case "repair":
		candidates = append(candidates, r.LLMRepairModel)
	case "critique":
		candidates = append(candidates, r.LLMCritiqueModel)
	case "cluster":
		candidates = append(candidates, r.LLMClusterModel)
	}
	candidates = append(candidates, r.LLMProvider)

	for _, c := range candidates {
		if strings.TrimSpace(c.Value) == "" {
			continue
		}
		if strings.Contains(c.Value, "/") {
			return c
		}
		if fallback != "" && strings.HasPrefix(strings.ToLower(fallback), strings.ToLower(strings.TrimSpace(c.Value))+"/") {
			return ResolvedValue{Value: fallback, Source: c.Source, From: c.From}
		}
	}

	if strings.TrimSpace(fallback) != "" {
		return ResolvedValue{Value: fallback, Source: SourceDefault, From: "built-in default"}
	}
	return ResolvedValue{}
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

// EffectiveContextWindow parses the resolved context window, returning
// fallback when unset or unparseable.
func (r ResolvedConfig) EffectiveContextWindow(fallback int) int {
	v := strings.TrimSpace(r.ContextWindow.Value)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
