package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `history_db: ~/.helmsman/from-config.db
llm:
  provider: openrouter/openai/gpt-4o-mini
  critique_model: openrouter/deepseek/deepseek-v3.2
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("HELMSMAN_DB", "~/from-env.db")
	t.Setenv("HELMSMAN_LLM", "google/gemini-2.5-flash")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		CLILLM:     "openrouter/google/gemini-2.0-flash-001",
		CLIDBPath:  "~/from-cli.db",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.HistoryDBPath.Source != SourceCLI {
		t.Fatalf("expected history DB source cli, got %s", resolved.HistoryDBPath.Source)
	}
	if resolved.LLMProvider.Source != SourceCLI {
		t.Fatalf("expected llm provider source cli, got %s", resolved.LLMProvider.Source)
	}
	if resolved.LLMCritiqueModel.Source != SourceConfig {
		t.Fatalf("expected critique model from config, got %s", resolved.LLMCritiqueModel.Source)
	}
}

func TestResolveConfig_MissingFileIsDefaults(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.LLMProvider.Value != "" {
		t.Fatalf("expected empty provider, got %q", resolved.LLMProvider.Value)
	}
}

func TestResolveConfig_PromptOverrides(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `prompts:
  IntentExtractor: "Extract crew rules as JSON."
  Blank: "  "
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if got := resolved.PromptOverrides["IntentExtractor"]; got != "Extract crew rules as JSON." {
		t.Fatalf("unexpected override: %q", got)
	}
	if _, ok := resolved.PromptOverrides["Blank"]; ok {
		t.Fatal("blank override should be dropped")
	}
}

func TestEffectiveLLMModel_PurposeFallback(t *testing.T) {
	resolved := ResolvedConfig{
		LLMProvider:      ResolvedValue{Value: "openrouter", Source: SourceConfig},
		LLMCritiqueModel: ResolvedValue{Value: "", Source: SourceUnknown},
	}

	m := resolved.EffectiveLLMModel("critique", "openrouter/deepseek/deepseek-v3.2")
	if m.Value != "openrouter/deepseek/deepseek-v3.2" {
		t.Fatalf("unexpected effective model: %q", m.Value)
	}
	if m.Source != SourceConfig {
		t.Fatalf("expected source=config from provider fallback, got %s", m.Source)
	}
}

func TestEffectiveLLMModel_BareProviderUpgrade(t *testing.T) {
	tests := []struct {
		name       string
		provider   ResolvedValue
		fallback   string
		wantValue  string
		wantSource ValueSource
	}{
		{
			name:       "bare provider matching fallback is upgraded",
			provider:   ResolvedValue{Value: "google", Source: SourceEnv, From: "HELMSMAN_LLM"},
			fallback:   "google/gemini-2.5-flash",
			wantValue:  "google/gemini-2.5-flash",
			wantSource: SourceEnv,
		},
		{
			name:       "bare provider not matching fallback yields the default",
			provider:   ResolvedValue{Value: "openrouter", Source: SourceConfig},
			fallback:   "google/gemini-2.5-flash",
			wantValue:  "google/gemini-2.5-flash",
			wantSource: SourceDefault,
		},
		{
			name:       "full provider/model wins outright",
			provider:   ResolvedValue{Value: "openrouter/openai/gpt-4o-mini", Source: SourceCLI, From: "--llm"},
			fallback:   "google/gemini-2.5-flash",
			wantValue:  "openrouter/openai/gpt-4o-mini",
			wantSource: SourceCLI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved := ResolvedConfig{LLMProvider: tt.provider}
			m := resolved.EffectiveLLMModel("extract", tt.fallback)
			if m.Value != tt.wantValue {
				t.Fatalf("got value %q, want %q", m.Value, tt.wantValue)
			}
			if m.Source != tt.wantSource {
				t.Fatalf("got source %s, want %s", m.Source, tt.wantSource)
			}
		})
	}
}

func TestEffectiveContextWindow(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 8192},
		{"set", "32768", 32768},
		{"garbage", "lots", 8192},
		{"negative", "-1", 8192},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ResolvedConfig{ContextWindow: ResolvedValue{Value: tt.value}}
			if got := r.EffectiveContextWindow(8192); got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAPIKeyForProvider_EnvOverridesConfig(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `llm:
  provider: openrouter/openai/gpt-4o-mini
  api_key: config-key
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	k := resolved.APIKeyForProvider("openrouter/some-model")
	if k.Value != "env-key" {
		t.Fatalf("expected env key, got %q", k.Value)
	}
	if k.Source != SourceEnv {
		t.Fatalf("expected source env, got %s", k.Source)
	}
}
